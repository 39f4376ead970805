package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/q-controller/imgvault/src/imgvaultd/cmd/utils"
	"github.com/q-controller/imgvault/src/pkg/images"
	"github.com/q-controller/imgvault/src/pkg/images/storage"
	"github.com/q-controller/imgvault/src/pkg/importer"
	"github.com/spf13/cobra"
)

// imageClient talks to a running daemon when remote is set and opens the
// storage directly otherwise. The returned closer is never nil.
func imageClient(cfg Config, remote string) (images.ImageClient, func() error, error) {
	if remote != "" {
		cli, err := images.CreateHTTPImageClient(remote+utils.PathPrefix, nil)
		return cli, func() error { return nil }, err
	}

	if cfg.Root == "" {
		return nil, nil, errors.New("root is required unless --remote is set")
	}
	backend, backendErr := storage.NewLocalFilesystemBackend(cfg.Root, cfg.Index)
	if backendErr != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", backendErr)
	}
	cli, cliErr := images.CreateImageClient(backend)
	if cliErr != nil {
		return nil, nil, errors.Join(cliErr, backend.Close())
	}
	return cli, backend.Close, nil
}

func printResult(w io.Writer, res importer.Result) {
	if res.Err != nil {
		fmt.Fprintf(w, "FAILED\t%s\t%v\n", res.Source, res.Err)
		return
	}
	fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", res.Image.ImageID, res.Image.ContentType, res.Image.Size, res.Source)
}

func runImport(ctx context.Context, out io.Writer, imp *importer.Importer, targets []string, watch string) error {
	failed, total := 0, 0
	for _, target := range targets {
		report, err := imp.Import(ctx, target)
		if err != nil {
			return err
		}
		for _, res := range report.Imported {
			printResult(out, res)
		}
		for _, res := range report.Failed {
			printResult(out, res)
		}
		failed += len(report.Failed)
		total += len(report.Imported) + len(report.Failed)
	}

	if watch != "" {
		if err := imp.Watch(ctx, watch, func(res importer.Result) { printResult(out, res) }); err != nil {
			return fmt.Errorf("failed to watch %s: %w", watch, err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d imports failed", failed, total)
	}
	return nil
}

var importCmd = &cobra.Command{
	Use:   "import [PATH|URL]...",
	Short: "Imports image files, directories or URLs",
	Args: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetString("watch")
		if len(args) == 0 && watch == "" {
			return errors.New("requires at least one PATH or URL, or --watch")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) (retErr error) {
		remote, remoteErr := cmd.Flags().GetString("remote")
		if remoteErr != nil {
			return fmt.Errorf("failed to get remote: %w", remoteErr)
		}
		watch, watchErr := cmd.Flags().GetString("watch")
		if watchErr != nil {
			return fmt.Errorf("failed to get watch: %w", watchErr)
		}

		cli, closeClient, cliErr := imageClient(config, remote)
		if cliErr != nil {
			return cliErr
		}
		defer func() {
			if err := closeClient(); err != nil {
				slog.Error("Failed to close storage", "error", err)
				retErr = errors.Join(retErr, err)
			}
		}()

		imp, impErr := importer.New(cli)
		if impErr != nil {
			return impErr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runImport(ctx, cmd.OutOrStdout(), imp, args, watch)
	},
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().String("remote", "", "Base URL of a running daemon, e.g. http://localhost:8080")
	importCmd.Flags().String("watch", "", "Keep importing files that appear in this directory")
}

package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/q-controller/imgvault/src/pkg/logging"
	"github.com/spf13/cobra"
)

// config is populated before any subcommand runs.
var config Config

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:          "imgvaultd",
	Short:        "Stores validated PNG and JPEG uploads inside a confined directory",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configPath, configPathErr := cmd.Flags().GetString("config")
		if configPathErr != nil {
			return fmt.Errorf("failed to get config: %w", configPathErr)
		}

		loaded, loadErr := LoadConfig(configPath, cmd.Flags())
		if loadErr != nil {
			return loadErr
		}
		config = loaded

		level, levelErr := logging.ParseLevel(config.Log.Level)
		if levelErr != nil {
			return levelErr
		}
		slog.SetDefault(logging.CreateLogger(level, config.Log.Format, cmd.ErrOrStderr()))
		slog.Debug("Read config", "root", config.Root, "index", config.Index,
			"http_port", config.HTTP.Port, "grpc_port", config.GRPC.Port, "s3", config.S3.Enabled)
		return nil
	},
}

func Execute() {
	slog.SetDefault(logging.CreateLogger(logging.LevelFromEnv(), logging.FormatText, nil))
	err := rootCmd.Execute()
	if err != nil {
		slog.Error("failed to execute command", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("root", "", "Directory images are stored in (must exist)")
	rootCmd.PersistentFlags().String("index", "", "Directory of the metadata index (in memory when empty)")
}

package cmd

import (
	"fmt"

	"github.com/q-controller/imgvault/src/imgvaultd/cmd/utils"
	"github.com/spf13/cobra"
)

var openapiCmd = &cobra.Command{
	Use:    "openapi",
	Short:  "Produces OpenAPI specifications for the HTTP API",
	Hidden: true,
	// No storage is touched, so configuration is not required.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		bytes, bytesErr := utils.GenerateOpenAPISpecs()
		if bytesErr != nil {
			return fmt.Errorf("failed to generate OpenAPI specs: %w", bytesErr)
		}

		fmt.Fprintln(cmd.OutOrStdout(), bytes)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(openapiCmd)
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/faunagate/bootstrap"
	"github.com/artpar/faunagate/config"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the faunagate HTTP server.

The server will:
  - Load configuration from faunagate.yaml (or --config)
  - Or load configuration from FAUNAGATE_* environment variables
  - Publish the project when backend.publish_on_start is set
  - Serve CRUD views for every declared model and the /user views

Environment variables (for Docker deployments):
  FAUNAGATE_BACKEND_SECRET   - Admin secret of the backend (required)
  FAUNAGATE_BACKEND_DRIVER   - fauna, local or sqlite
  FAUNAGATE_MODELS_DIR       - Directory of model declarations
  FAUNAGATE_SERVER_PORT      - Server port (default: 8080)
  FAUNAGATE_LOG_LEVEL        - Log level: debug, info, warn, error

Examples:
  faunagate serve
  faunagate serve --config /etc/faunagate/config.yaml
  faunagate serve --stage prod --hot-reload=false`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	if !hasConfigFile && !config.HasEnvConfig() && stageName == "" {
		fmt.Println("No configuration found.")
		fmt.Println()
		fmt.Printf("Option 1: Create %s\n", cfgFile)
		fmt.Println("Option 2: Set FAUNAGATE_BACKEND_SECRET environment variable")
		fmt.Println()
		fmt.Println("Example (env vars):")
		fmt.Println("  FAUNAGATE_BACKEND_DRIVER=local FAUNAGATE_BACKEND_SECRET=secret faunagate serve")
		return nil
	}

	var app *bootstrap.App
	var err error

	// Reloading re-reads the file without the stage, so staged runs skip it.
	if hasConfigFile && hotReload && stageName == "" {
		logger := bootstrap.LoggerFromEnv()
		holder, herr := config.NewHolder(cfgFile, logger)
		if herr != nil {
			return fmt.Errorf("error loading config: %w", herr)
		}
		app, err = bootstrap.New(holder.Get(), bootstrap.Options{Holder: holder})
		if err != nil {
			return fmt.Errorf("error initializing: %w", err)
		}
	} else {
		if !hasConfigFile {
			fmt.Println("Running with environment variables (no config file)")
		}
		app, err = newApp(bootstrap.Options{})
		if err != nil {
			return err
		}
	}

	// Run (blocks until shutdown)
	return app.Run(context.Background())
}

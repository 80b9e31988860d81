package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/faunagate/bootstrap"
	"github.com/artpar/faunagate/config"
)

var (
	// Global flags
	cfgFile     string
	projectFile string
	stageName   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "faunagate",
	Short: "Document models, roles and CRUD APIs over a hosted document database",
	Long: `faunagate renders model declarations into a backend schema, compiles
CRUD functions and access roles, publishes them and serves CRUD and user
endpoints on top.

Quick start:
  faunagate seed-keys   # Create the token key file
  faunagate publish     # Publish the schema, functions and roles
  faunagate serve       # Start the HTTP server

Inspection:
  faunagate schema      # Print the rendered schema document
  faunagate swagger     # Print the OpenAPI document
  faunagate validate    # Validate configuration and models`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "faunagate.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&projectFile, "project", config.DefaultProjectFile, "project file path")
	rootCmd.PersistentFlags().StringVarP(&stageName, "stage", "s", "", "deployment stage from the project file")
}

// loadConfig reads the runtime config, applying the selected stage.
func loadConfig() (*config.Config, error) {
	if stageName == "" {
		return config.LoadWithFallback(cfgFile)
	}
	p, err := config.LoadProject(projectFile)
	if err != nil {
		return nil, err
	}
	stage, err := p.Stage(stageName)
	if err != nil {
		return nil, err
	}
	return config.LoadStage(cfgFile, stage)
}

func newApp(opts bootstrap.Options) (*bootstrap.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	a, err := bootstrap.New(cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("error initializing: %w", err)
	}
	return a, nil
}

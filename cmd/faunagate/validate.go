package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/artpar/faunagate/adapters/sqlite"
	"github.com/artpar/faunagate/bootstrap"
	"github.com/artpar/faunagate/config"
	"github.com/artpar/faunagate/core/schema"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and model declarations",
	Long: `Validate the faunagate configuration and model declarations.

Checks:
  - YAML syntax is valid
  - Required fields are present
  - Model declarations parse and their references resolve
  - Configured roles name declared models
  - Database is writable (optional, sqlite driver)

Examples:
  faunagate validate
  faunagate validate --config /etc/faunagate/config.yaml`,
	RunE: runValidate,
}

var validateCheckDatabase bool

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateCheckDatabase, "check-database", false, "check if database is writable")
}

func runValidate(cmd *cobra.Command, args []string) error {
	fmt.Printf("Validating %s...\n\n", cfgFile)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("  %s Config valid\n", crossMark)
		return fmt.Errorf("config error: %w", err)
	}
	fmt.Printf("  %s Config valid\n", checkMark)
	fmt.Printf("  %s Backend: %s\n", checkMark, cfg.Backend.Driver)

	var catalog schema.Catalog
	if cfg.Models.Dir != "" {
		c, err := schema.ParseDir(cfg.Models.Dir)
		if err != nil {
			fmt.Printf("  %s Models parse\n", crossMark)
			return fmt.Errorf("models error: %w", err)
		}
		catalog = *c
	}
	fmt.Printf("  %s Models declared: %d\n", checkMark, len(catalog.Models))

	for name, roles := range cfg.Models.Roles {
		if _, ok := catalog.Model(name); !ok {
			fmt.Printf("  %s Roles for %s\n", crossMark, name)
			return fmt.Errorf("roles configured for undeclared model %s", name)
		}
		if _, err := bootstrap.RoleFactories(roles); err != nil {
			fmt.Printf("  %s Roles for %s\n", crossMark, name)
			return err
		}
		fmt.Printf("  %s Roles for %s: %v\n", checkMark, name, roles)
	}

	// Resolves references against the built-in models too.
	a, err := bootstrap.New(cfg, quietOptions())
	if err != nil {
		fmt.Printf("  %s References resolve\n", crossMark)
		return err
	}
	a.Shutdown()
	fmt.Printf("  %s References resolve\n", checkMark)

	if validateCheckDatabase && cfg.Backend.Driver == config.DriverSQLite {
		if err := checkDatabaseWritable(cfg.Backend.DSN); err != nil {
			fmt.Printf("  %s Database writable\n", crossMark)
			fmt.Printf("      Error: %v\n", err)
		} else {
			fmt.Printf("  %s Database writable\n", checkMark)
		}
	}

	if _, err := os.Stat(cfg.Auth.KeysFile); err != nil {
		fmt.Printf("  %s Key file %s missing, run seed-keys\n", crossMark, cfg.Auth.KeysFile)
	} else {
		fmt.Printf("  %s Key file %s\n", checkMark, cfg.Auth.KeysFile)
	}

	fmt.Println()
	fmt.Println("Configuration is valid.")
	return nil
}

func checkDatabaseWritable(dsn string) error {
	db, err := sqlite.Open(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Ping()
}

const (
	checkMark = "\033[32m✓\033[0m"
	crossMark = "\033[31m✗\033[0m"
)

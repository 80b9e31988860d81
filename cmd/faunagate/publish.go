package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/faunagate/bootstrap"
	"github.com/artpar/faunagate/config"
	"github.com/artpar/faunagate/core/project"
	"github.com/artpar/faunagate/ports"
)

var publishMode string

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish the schema, functions, roles and indexes",
	Long: `Import the schema document and create or update every function, role
and index. Publishing is idempotent: unchanged resources are kept.

Modes:
  merge     add new types and fields (default)
  replace   replace the imported schema
  override  drop existing collections and data first

Examples:
  faunagate publish
  faunagate publish --stage prod --mode replace`,
	RunE: runPublish,
}

var unpublishCmd = &cobra.Command{
	Use:   "unpublish",
	Short: "Delete the published functions, roles and indexes",
	RunE:  runUnpublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(unpublishCmd)

	publishCmd.Flags().StringVar(&publishMode, "mode", string(ports.ImportMerge), "schema import mode: merge, replace or override")
}

func runPublish(cmd *cobra.Command, args []string) error {
	mode := ports.ImportMode(publishMode)
	if !mode.Valid() {
		return fmt.Errorf("invalid mode %q", publishMode)
	}

	a, err := newApp(quietOptions())
	if err != nil {
		return err
	}
	defer a.Shutdown()

	report, err := a.Publish(context.Background(), mode)
	printReport(report)
	if err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	if a.Config.Backend.Driver == config.DriverLocal {
		fmt.Println()
		fmt.Println("The local driver keeps documents in memory; run serve to publish on start.")
	}
	for model, key := range a.Config.Backend.PublicKeys {
		fmt.Printf("Public key for %s: %s\n", model, key)
	}
	return nil
}

func runUnpublish(cmd *cobra.Command, args []string) error {
	a, err := newApp(quietOptions())
	if err != nil {
		return err
	}
	defer a.Shutdown()

	report, err := a.Project.Unpublish(context.Background())
	printReport(report)
	if err != nil {
		return fmt.Errorf("unpublish: %w", err)
	}
	return nil
}

func printReport(r project.Report) {
	if len(r.Entries) == 0 {
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tNAME\tOUTCOME")
	fmt.Fprintln(w, "----\t----\t-------")
	for _, e := range r.Entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.Kind, e.Name, e.Outcome)
	}
	w.Flush()

	fmt.Printf("\n%d created, %d updated, %d kept, %d deleted\n",
		r.Count(project.Created), r.Count(project.Updated), r.Count(project.Kept), r.Count(project.Deleted))
}

// quietOptions keeps one-shot commands to warnings and errors.
func quietOptions() bootstrap.Options {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel).With().Timestamp().Logger()
	return bootstrap.Options{Logger: &logger}
}

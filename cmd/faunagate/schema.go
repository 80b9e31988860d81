package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var schemaOutput string

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the rendered schema document",
	Long: `Render the schema document of the built-in and declared models.

The document is what publish imports into the backend.

Examples:
  faunagate schema
  faunagate schema --output schema.graphql`,
	RunE: runSchema,
}

func init() {
	rootCmd.AddCommand(schemaCmd)

	schemaCmd.Flags().StringVarP(&schemaOutput, "output", "o", "", "write to file instead of stdout")
}

func runSchema(cmd *cobra.Command, args []string) error {
	a, err := newApp(quietOptions())
	if err != nil {
		return err
	}
	defer a.Shutdown()

	doc := a.Project.Render()
	if schemaOutput == "" {
		fmt.Print(doc)
		return nil
	}
	if err := os.WriteFile(schemaOutput, []byte(doc), 0644); err != nil {
		return fmt.Errorf("write schema: %w", err)
	}
	fmt.Printf("Schema written to %s\n", schemaOutput)
	return nil
}

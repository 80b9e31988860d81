package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var swaggerOutput string

var swaggerCmd = &cobra.Command{
	Use:   "swagger",
	Short: "Print the OpenAPI document",
	Long: `Generate the OpenAPI 3 document of the CRUD and user endpoints.

Examples:
  faunagate swagger
  faunagate swagger --output openapi.json`,
	RunE: runSwagger,
}

func init() {
	rootCmd.AddCommand(swaggerCmd)

	swaggerCmd.Flags().StringVarP(&swaggerOutput, "output", "o", "", "write to file instead of stdout")
}

func runSwagger(cmd *cobra.Command, args []string) error {
	a, err := newApp(quietOptions())
	if err != nil {
		return err
	}
	defer a.Shutdown()

	doc := a.OpenAPI()
	if err := doc.Validate(cmd.Context()); err != nil {
		return fmt.Errorf("invalid document: %w", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	if swaggerOutput == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(swaggerOutput, data, 0644); err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	fmt.Printf("OpenAPI document written to %s\n", swaggerOutput)
	return nil
}

package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chemquery/chemquery/internal/schemadoc"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Generate or refresh the database schema documentation",
	Long: `Generate the markdown schema documentation that gets embedded into
model prompts: tables, columns with types and constraints, and a few
sample rows per table.

The documentation is cached next to the database and regenerated
automatically when the database file is newer. Use --force to rebuild
it unconditionally.

Examples:
  chemquery schema                 # refresh if stale, print path
  chemquery schema --force         # rebuild unconditionally
  chemquery schema --print         # write the docs to stdout`,
	RunE: runSchema,
}

func init() {
	schemaCmd.Flags().Bool("force", false, "Regenerate even if the cached docs are fresh")
	schemaCmd.Flags().Bool("print", false, "Print the documentation to stdout")
	schemaCmd.Flags().Int("sample-rows", 0, "Sample rows per table (0 uses the default)")
	rootCmd.AddCommand(schemaCmd)
}

func runSchema(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := schemadoc.DefaultOptions()
	if n, _ := cmd.Flags().GetInt("sample-rows"); n > 0 {
		opts.SampleRows = n
	}

	ctx := cmd.Context()
	var docs string
	if force, _ := cmd.Flags().GetBool("force"); force {
		docs, err = schemadoc.Generate(ctx, cfg.DBPath, opts)
		if err == nil {
			err = os.WriteFile(cfg.SchemaDocsPath, []byte(docs), 0o644)
		}
	} else {
		docs, err = schemadoc.EnsureFresh(ctx, cfg.DBPath, cfg.SchemaDocsPath, opts)
	}
	if err != nil {
		color.Red("Schema documentation failed: %v", err)
		return err
	}

	if p, _ := cmd.Flags().GetBool("print"); p {
		fmt.Print(docs)
		return nil
	}
	color.Green("Schema docs ready: %s (%d bytes)", cfg.SchemaDocsPath, len(docs))
	return nil
}

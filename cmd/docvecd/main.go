package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/docvec/internal/cli"
	"github.com/cloo-solutions/docvec/internal/cli/commands"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "docvecd",
		Short: "Document retrieval engine",
		Long: `docvecd ingests documents, splits them into chunks, embeds the chunks
and serves similarity search over them.

Configuration is read from DOCVEC_* environment variables, an optional
.env file and the YAML file named by DOCVEC_CONFIG_FILE.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(commands.ServeCmd())
	rootCmd.AddCommand(commands.IngestCmd())
	rootCmd.AddCommand(commands.ReprocessCmd())
	rootCmd.AddCommand(commands.SearchCmd())
	rootCmd.AddCommand(commands.MigrateCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/i5heu/cgdist/pkg/logging"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "cgdist",
		Short: "Nucleotide-level distances from cgMLST allelic profiles",
		Long: `cgdist computes pairwise SNP and indel distances between isolates from
their cgMLST allelic profiles and the allele sequences of the schema.

Every distinct allele pair is aligned once and the result is kept in a
persistent cache, so later runs and other distance modes reuse it.`,
		SilenceUsage: true,
		Version:      version,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(runCommand())
	rootCmd.AddCommand(presetsCommand())
	rootCmd.AddCommand(inspectCommand())
	if err := rootCmd.Execute(); err != nil {
		logging.Logger.Error("cgdist failed", "error", err)
		os.Exit(1)
	}
}

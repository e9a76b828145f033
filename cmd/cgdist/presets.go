package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/i5heu/cgdist/pkg/aligner"
	aligncache "github.com/i5heu/cgdist/pkg/alignCache"
	"github.com/i5heu/cgdist/pkg/allele"
	"github.com/i5heu/cgdist/pkg/distance"
)

func presetsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "List alignment presets, identity strategies and distance modes",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ALIGNMENT PRESETS")
			for _, p := range aligner.Presets() {
				fmt.Fprintf(w, "  %s\t%s\t%s\n", p.Name, p.Scoring, p.Description)
			}
			fmt.Fprintln(w, "\nIDENTITY STRATEGIES")
			registry := allele.NewRegistry()
			for _, name := range registry.Names() {
				s, err := registry.Get(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "  %s\t%s\n", name, s.Description())
			}
			fmt.Fprintln(w, "\nDISTANCE MODES")
			for _, m := range distance.Modes() {
				fmt.Fprintf(w, "  %s\n", m)
			}
			return w.Flush()
		},
	}
}

func inspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <cache-file>",
		Short: "Print the header of an alignment cache file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Clean(args[0])
			h, err := aligncache.ReadHeader(path)
			if err != nil {
				return err
			}
			info, err := os.Stat(path)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "path\t%s\n", path)
			fmt.Fprintf(w, "size\t%s\n", humanize.IBytes(uint64(info.Size())))
			fmt.Fprintf(w, "format version\t%d\n", h.FormatVersion)
			fmt.Fprintf(w, "codec\t%s\n", h.Codec)
			fmt.Fprintf(w, "strategy\t%s\n", h.Strategy)
			fmt.Fprintf(w, "scoring\t%s\n", h.Scoring)
			fmt.Fprintf(w, "strictness\t%s\n", h.Strictness)
			fmt.Fprintf(w, "entries\t%s\n", humanize.Comma(int64(h.Entries)))
			fmt.Fprintf(w, "created\t%s (%s)\n", h.Created.Format("2006-01-02 15:04:05"), humanize.Time(h.Created))
			fmt.Fprintf(w, "modified\t%s (%s)\n", h.Modified.Format("2006-01-02 15:04:05"), humanize.Time(h.Modified))
			fmt.Fprintf(w, "note\t%s\n", h.Note)
			return w.Flush()
		},
	}
}

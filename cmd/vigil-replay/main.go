package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/vigil/internal/config"
	"github.com/MikeSquared-Agency/vigil/internal/replay"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		changesOnly bool
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "vigil-replay [transcript]",
		Short: "Replay a recorded session through the risk classifier",
		Long: "Reads a transcript (JSONL records or \"role：text\" lines, \"-\" for stdin), " +
			"classifies the sliding window after every turn and prints the level timeline. " +
			"No model calls are made.",
		Args:    cobra.MaximumNArgs(1),
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			return run(cmd, path, configPath, changesOnly, asJSON)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("VIGIL_ENGINE_CONFIG"), "path to engine config YAML")
	cmd.Flags().BoolVar(&changesOnly, "changes-only", false, "only print turns where the level changed")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print steps and summary as JSON")
	return cmd
}

func run(cmd *cobra.Command, path, configPath string, changesOnly, asJSON bool) error {
	engine, err := config.LoadEngine(configPath)
	if err != nil {
		return err
	}
	classifier, err := engine.Classifier()
	if err != nil {
		return err
	}
	intervals, err := engine.IntervalTable()
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open transcript: %w", err)
		}
		defer f.Close()
		in = f
	}

	records, err := replay.Read(in)
	if err != nil {
		return err
	}

	steps := replay.NewRunner(classifier, engine.Extractor(), intervals).Run(records)
	summary := replay.Summarize(steps)
	out := cmd.OutOrStdout()

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"steps": steps, "summary": summary})
	}
	if err := replay.WriteTable(out, steps, changesOnly); err != nil {
		return err
	}
	return replay.WriteSummary(out, summary)
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}

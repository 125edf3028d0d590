package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dronetrack-rl/internal/record"
)

var (
	replayInput     string
	replaySpeed     float64
	replayPrintOnly bool
	replayColor     bool
	replaySummarize bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a step log file",
	Long:  "replay feeds step rows from a JSONL log back into GreptimeDB or STDOUT, optionally rebuilding episode summaries.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayInput == "" {
			return fmt.Errorf("input file required")
		}
		sw, ew, _, err := baseWriters(nil, writerOptions{printOnly: replayPrintOnly, color: replayColor})
		if err != nil {
			return err
		}
		var writer record.StepWriter = sw
		if replaySummarize {
			writer = record.NewMultiWriter([]record.StepWriter{sw, record.NewSummarizer(ew)}, nil)
		}
		return record.ReplayLogFile(replayInput, writer, replaySpeed)
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to step log file")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier")
	replayCmd.Flags().BoolVar(&replayPrintOnly, "print-only", false, "Print rows to STDOUT instead of writing to DB")
	replayCmd.Flags().BoolVar(&replayColor, "color", false, "Colorize STDOUT output")
	replayCmd.Flags().BoolVar(&replaySummarize, "episodes", true, "Rebuild and write episode summaries")
	replayCmd.MarkFlagRequired("input")
}

package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/mabhi256/gctune/internal/replay"
	"github.com/mabhi256/gctune/utils"
)

var replayFlags struct {
	output   string
	optimize float64
}

var replayCmd = &cobra.Command{
	Use:   "replay [snapshot-file]",
	Short: "Analyze a snapshot saved by watch",
	Long: `Replay re-runs the analysis over the raw data saved by an earlier watch or
'analyze --save'. Without a file the default snapshot location is used.

Examples:
  gctune replay
  gctune replay /tmp/gctune_data-app.yaml.lz4 --optimize 2`,
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: utils.CompleteFilesByExtension([]string{".lz4"}, false),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if !slices.Contains(outputFormats, replayFlags.output) {
			return fmt.Errorf("invalid output format: %s. Valid options: %v", replayFlags.output, outputFormats)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd, bind(cmd, "goals.optimize", "optimize"))
		if err != nil {
			return err
		}

		path := cfg.ReplayPath()
		if len(args) > 0 {
			path = args[0]
		}
		snapshot, err := replay.Load(path)
		if err != nil {
			return fmt.Errorf("unable to load snapshot: %w", err)
		}
		logger.Info("replaying snapshot",
			"path", path,
			"host", snapshot.Host,
			"created", snapshot.CreatedAt,
			"lines", len(snapshot.LogLines),
			"samples", snapshot.Counters.Len())

		// The snapshot's setting wins unless the flag was given.
		if !cmd.Flags().Changed("optimize") {
			cfg.Goals.Optimize = snapshot.Optimize
		}

		p := &pipeline{
			cfg:      cfg,
			logger:   logger,
			out:      cmd.OutOrStdout(),
			output:   replayFlags.output,
			optimize: cfg.Goals.Optimize,
		}
		history := snapshot.History(newParser(cfg, logger), logger)
		if history.Dropped() > 0 || history.Restarts() > 0 {
			logger.Info("gc log parsed",
				"events", history.Len(),
				"dropped", history.Dropped(),
				"restarts", history.Restarts())
		}
		return p.analyse(inputs{
			Lines:    snapshot.LogLines,
			Counters: snapshot.Counters,
			Static:   snapshot.Static,
			Process:  snapshot.Process,
		}, history.Events())
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVarP(&replayFlags.output, "output", "o", outputCLI, "output format: cli or tui")
	replayCmd.Flags().Float64Var(&replayFlags.optimize, "optimize", 9, "0 favours latency, 11 favours throughput")
	replayCmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return outputFormats, cobra.ShellCompDirectiveNoFileComp
	})
}

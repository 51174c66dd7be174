package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mabhi256/gctune/internal/collect"
	"github.com/mabhi256/gctune/internal/report"
)

var watchFlags struct {
	pid      int
	output   string
	optimize float64
	save     string
}

var watchCmd = &cobra.Command{
	Use:   "watch --pid PID",
	Short: "Collect GC data from a running JVM, then analyze it",
	Long: `Watch follows the GC log of a running CMS/ParNew JVM and samples jstat -gc
until a stop count is reached or the command is interrupted. The heap
configuration is read once with jmap -heap. The collected data is saved for
'gctune replay' and analyzed when collection ends.

Examples:
  gctune watch --pid 1234
  gctune watch --pid <TAB>                # Tab completion with PID and MainClass
  gctune watch --pid 1234 --fgc-stop-count 3
  gctune watch --pid 1234 --interval 10s --no-jstat-output`,
	Args: cobra.NoArgs,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if watchFlags.pid <= 0 {
			return fmt.Errorf("invalid pid: %d", watchFlags.pid)
		}
		if !slices.Contains(outputFormats, watchFlags.output) {
			return fmt.Errorf("invalid output format: %s. Valid options: %v", watchFlags.output, outputFormats)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd,
			bind(cmd, "goals.optimize", "optimize"),
			bind(cmd, "collect.interval", "interval"),
			bind(cmd, "collect.no_output", "no-jstat-output"),
			bind(cmd, "collect.stop.full_gcs", "fgc-stop-count"),
			bind(cmd, "collect.stop.young_gcs", "ygc-stop-count"),
			bind(cmd, "collect.stop.samples", "stop-count"),
		)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		pid := watchFlags.pid
		proc, err := collect.ProbeProcess(pid)
		if err != nil {
			return fmt.Errorf("unable to inspect process %d: %w", pid, err)
		}
		logPath, err := proc.GCLogFile()
		if err != nil {
			return fmt.Errorf("process %d: %w", pid, err)
		}

		javaHome := cfg.Collect.JavaHome
		if javaHome == "" {
			javaHome = proc.JavaHome
		}
		logger = logger.With("pid", pid)
		logger.Info("watching", "gc_log", logPath, "java_home", javaHome)

		in := inputs{Process: proc}
		probe := collect.NewJmapProbe(javaHome, cfg.Collect.JmapAttempts, cfg.Collect.JmapBackoff, logger)
		if static, err := probe.Probe(ctx, pid); err != nil {
			logger.Warn("continuing without heap configuration", "error", err)
		} else {
			in.Static = &static
		}

		parser := newParser(cfg, logger)
		follower := collect.NewFollower(logPath, cfg.Collect.PollInterval, parser, logger)
		follower.MaxInitialRead = cfg.MaxLogReadBytes()
		if proc.GCLogRotation {
			follower.Resolve = func() string { return collect.LatestRotated(proc.GCLogPath) }
		}

		sampler := collect.NewSampler(javaHome, cfg.Collect.Interval, cfg.StopCondition(), logger)
		if !cfg.Collect.NoOutput {
			sampler.OnSample = report.NewLive(cmd.OutOrStdout()).Sample
		}

		session := collect.NewSession(pid, follower, sampler, logger)
		if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("collection ended early", "error", err)
		}
		result := session.Result()

		// Refresh CPU and memory figures for the report.
		if latest, err := collect.ProbeProcess(pid); err == nil {
			in.Process = latest
		}
		in.Lines = result.Lines
		in.Counters = result.Counters

		savePath := watchFlags.save
		if savePath == "" {
			savePath = cfg.ReplayPath()
		}
		p := &pipeline{
			cfg:      cfg,
			logger:   logger,
			out:      cmd.OutOrStdout(),
			output:   watchFlags.output,
			savePath: savePath,
			optimize: cfg.Goals.Optimize,
		}
		return p.analyse(in, result.Events)
	},
}

func completeJavaPIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	processes, err := collect.DiscoverJavaProcesses(cmd.Context(), "")
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	var completions []string
	for _, proc := range processes {
		completions = append(completions, strconv.Itoa(proc.PID)+"\t"+proc.MainClass)
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().IntVarP(&watchFlags.pid, "pid", "p", 0, "process id of the JVM to watch")
	watchCmd.Flags().Int("fgc-stop-count", 0, "stop after this many full collections (0 never stops)")
	watchCmd.Flags().Int("ygc-stop-count", 0, "stop after this many young collections (0 never stops)")
	watchCmd.Flags().Int("stop-count", 0, "stop after this many jstat samples (0 never stops)")
	watchCmd.Flags().DurationP("interval", "i", 0, "jstat sampling interval (default from config, 1s)")
	watchCmd.Flags().Bool("no-jstat-output", false, "do not print jstat samples while collecting")
	watchCmd.Flags().StringVarP(&watchFlags.output, "output", "o", outputCLI, "output format: cli or tui")
	watchCmd.Flags().Float64Var(&watchFlags.optimize, "optimize", 9, "0 favours latency, 11 favours throughput")
	watchCmd.Flags().StringVar(&watchFlags.save, "save", "", "snapshot file (default $TMPDIR/gctune_data-$USER.yaml.lz4)")
	watchCmd.MarkFlagRequired("pid")

	watchCmd.RegisterFlagCompletionFunc("pid", completeJavaPIDs)
	watchCmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return outputFormats, cobra.ShellCompDirectiveNoFileComp
	})
}

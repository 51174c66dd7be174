package cmd

import (
	"bufio"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/mabhi256/gctune/internal/gc"
	"github.com/mabhi256/gctune/utils"
)

var analyzeFlags struct {
	jstat    string
	jmap     string
	output   string
	optimize float64
	save     string
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [gc-log-file]",
	Short: "Analyze a CMS/ParNew GC log offline",
	Long: `Analyze a GC log written with -XX:+PrintGCDetails -XX:+PrintGCDateStamps
-XX:+PrintTenuringDistribution. jstat -gc output and jmap -heap output saved
from the same JVM make the recommendation complete.

Examples:
  gctune analyze gc.log
  gctune analyze gc.log --jstat jstat.txt --jmap jmap.txt
  gctune analyze gc.log.3 --optimize 4 -o tui`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: utils.CompleteFilesByExtension([]string{".log"}, true),
	PreRunE: func(cmd *cobra.Command, args []string) error {
		if !slices.Contains(outputFormats, analyzeFlags.output) {
			return fmt.Errorf("invalid output format: %s. Valid options: %v", analyzeFlags.output, outputFormats)
		}
		for _, path := range []string{args[0], analyzeFlags.jstat, analyzeFlags.jmap} {
			if path == "" {
				continue
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("file does not exist: %s", path)
			}
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd, bind(cmd, "goals.optimize", "optimize"))
		if err != nil {
			return err
		}

		lines, err := readLines(args[0])
		if err != nil {
			return err
		}

		p := &pipeline{
			cfg:      cfg,
			logger:   logger,
			out:      cmd.OutOrStdout(),
			output:   analyzeFlags.output,
			savePath: analyzeFlags.save,
			optimize: cfg.Goals.Optimize,
		}
		in := inputs{Lines: lines}
		events := p.events(lines)

		if analyzeFlags.jstat != "" {
			f, err := os.Open(analyzeFlags.jstat)
			if err != nil {
				return fmt.Errorf("failed to open jstat output: %w", err)
			}
			in.Counters, err = gc.DecodeJstat(f, counterStart(events), cfg.Collect.Interval)
			f.Close()
			if err != nil {
				return err
			}
		}

		if analyzeFlags.jmap != "" {
			f, err := os.Open(analyzeFlags.jmap)
			if err != nil {
				return fmt.Errorf("failed to open jmap output: %w", err)
			}
			static, err := gc.DecodeJmapHeap(f)
			f.Close()
			if err != nil {
				logger.Warn("jmap output is unusable; sizing needs the heap configuration", "error", err)
			} else {
				in.Static = &static
			}
		}

		return p.analyse(in, events)
	},
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open gc log: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return lines, fmt.Errorf("error reading gc log: %w", err)
	}
	return lines, nil
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringVar(&analyzeFlags.jstat, "jstat", "", "saved 'jstat -gc <pid> <interval>' output")
	analyzeCmd.Flags().StringVar(&analyzeFlags.jmap, "jmap", "", "saved 'jmap -heap <pid>' output")
	analyzeCmd.Flags().StringVarP(&analyzeFlags.output, "output", "o", outputCLI, "output format: cli or tui")
	analyzeCmd.Flags().Float64Var(&analyzeFlags.optimize, "optimize", 9, "0 favours latency, 11 favours throughput")
	analyzeCmd.Flags().StringVar(&analyzeFlags.save, "save", "", "save a replay snapshot to this file")

	analyzeCmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return outputFormats, cobra.ShellCompDirectiveNoFileComp
	})
	analyzeCmd.RegisterFlagCompletionFunc("jstat", utils.CompleteFilesByExtension([]string{".txt", ".jstat"}, false))
	analyzeCmd.RegisterFlagCompletionFunc("jmap", utils.CompleteFilesByExtension([]string{".txt", ".jmap"}, false))
}

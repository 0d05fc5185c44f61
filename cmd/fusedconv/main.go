// Package main provides the fusedconv CLI, which runs fused convolution
// cases described in YAML files.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/born-ml/fusedconv/internal/activation"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "v0.1.0-dev"

// cli holds the global flags and the logger shared by all commands.
type cli struct {
	verbose   bool
	workers   int
	format    string
	tolerance float64
	save      string

	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "fusedconv",
		Short: "Fused conv2d + bias + activation on the CPU",
		Long: `fusedconv evaluates activation(conv2d(x, filter) + bias) and its gradients
for cases described in YAML files.

Case file fields: op, x, filter, bias, preluWeights, dy, strides, pad,
dataFormat, dilations, dimRoundingMode, activation, leakyreluAlpha.

Activations: ` + strings.Join(activation.Names(), ", ") + `.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.format != formatTable && c.format != formatJSON {
				return fmt.Errorf("unknown output format %q", c.format)
			}

			config := zap.NewProductionConfig()
			if c.verbose {
				config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			logger, err := config.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = c.logger.Sync()
		},
	}

	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().IntVarP(&c.workers, "workers", "w", 0, "CPU worker limit (0 = all cores, 1 = sequential)")
	root.PersistentFlags().StringVar(&c.format, "format", formatTable, "output format: table or json")

	checkCmd := &cobra.Command{
		Use:   "check CASE.yaml",
		Short: "Compare the fused op against the unfused composition",
		Long: `Runs the case once through the fused kernel and once as separate conv2d,
add and activation ops, forward and backward, and reports the largest absolute
difference per tensor. Exits non-zero if any difference exceeds --tolerance.`,
		Args: cobra.ExactArgs(1),
		RunE: c.runCheck,
	}
	checkCmd.Flags().Float64Var(&c.tolerance, "tolerance", 1e-4, "maximum allowed absolute difference")

	runCmd := &cobra.Command{
		Use:   "run CASE.yaml",
		Short: "Run the fused op and print its output",
		Args:  cobra.ExactArgs(1),
		RunE:  c.runForward,
	}
	gradCmd := &cobra.Command{
		Use:   "grad CASE.yaml",
		Short: "Print dx, dFilter and dBias for the case",
		Args:  cobra.ExactArgs(1),
		RunE:  c.runGrad,
	}
	for _, cmd := range []*cobra.Command{runCmd, gradCmd} {
		cmd.Flags().StringVarP(&c.save, "save", "o", "", "also write the results to a SafeTensors file")
	}

	root.AddCommand(
		runCmd,
		gradCmd,
		checkCmd,
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "fusedconv %s\n", version)
			},
		},
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

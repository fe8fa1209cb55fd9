package main

import (
	"fmt"
	"os"

	"github.com/pulp-platform/dumpling/pkg/chips"
	"github.com/pulp-platform/dumpling/pkg/script"
	"github.com/pulp-platform/dumpling/pkg/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	showVersion bool
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "dumpling",
	// main prints the single diagnostic line for every subcommand error.
	SilenceErrors: true,
	SilenceUsage:  true,
	Short: "Generate ASIC tester vectors for PULP chips " + version.GetVersion(),
	Long: `dumpling generates stimuli vectors for the HP93000 ASIC tester.

High level commands like "halt the core, preload this elf binary and resume"
are translated into per-pin logic states, clock cycles and sequencer
directives driving the chip under test through its JTAG debug interfaces.
Next to the AVC stimuli file a wave table (.wtb) and timing format (.tmf)
file with the same stem is produced.

Each chip is a subcommand group; run 'dumpling <chip> --help' for the
available operations.`,
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion {
			fmt.Println(version.GetFullVersion())
			return
		}
		cmd.Help()
	},
}

func init() {
	cobra.OnInitialize(func() {
		if verbose {
			logrus.SetLevel(logrus.InfoLevel)
		} else {
			logrus.SetLevel(logrus.WarnLevel)
		}
	})
	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "show version")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable progress logging")

	rootCmd.AddCommand(
		chips.NewSiracusaCmd(),
		chips.NewVegaCmd(),
		chips.NewRosettaCmd(),
		chips.NewCustomCmd(),
		script.NewScriptCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

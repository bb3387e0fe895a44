// Command locket is a secrets materialization agent: it fetches secret
// values referenced inside templates from a pluggable backend and
// materializes them onto disk, as a one-shot injector, a watch-and-reinject
// daemon, an exec supervisor, or a Docker volume plugin (spec.md §1, §6).
// Grounded on the teacher's cmd/sidecar and cmd/webhook entry points, with
// the CLI surface itself built on github.com/spf13/cobra, matching
// dockform's own cobra-based command layout.
package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bpbradley/locket/pkg/config"
)

var configPath string

// logFlagSet is the root's persistent --log-level/--log-format pair,
// shared by every subcommand's "log" config section.
var logFlagSet = func() *pflag.FlagSet {
	fs := pflag.NewFlagSet("log", pflag.ContinueOnError)
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.String("log-format", "", "log format: json, console, text")
	return fs
}()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "locket",
		Short:         "Materialize secret references onto disk, exec a supervised child, or serve a Docker volume plugin",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().AddFlagSet(logFlagSet)

	cmd.AddCommand(newInjectCmd())
	cmd.AddCommand(newExecCmd())
	cmd.AddCommand(newVolumeCmd())
	cmd.AddCommand(newHealthcheckCmd())
	cmd.AddCommand(newComposeCmd())
	return cmd
}

// loadConfig layers a YAML file, the environment, and the given per-section
// CLI flag sets into a validated Config (spec.md §6 "file -> environment ->
// CLI"). Every caller also supplies the shared "log" section.
func loadConfig(sections map[string]*pflag.FlagSet) (*config.Config, error) {
	sections["log"] = logFlagSet
	return config.Load(configPath, sections, vectorPolicies())
}

// vectorPolicies controls how repeated-flag fields reconcile across the
// file/env/CLI overlay (spec.md §6): every one of locket's repeatable flags
// is additive across layers rather than last-wins, so a config file's
// --map/--secret/--env entries aren't silently discarded by a CLI that only
// adds one more.
func vectorPolicies() map[string]config.VectorPolicy {
	return map[string]config.VectorPolicy{
		"map":       config.VectorExtend,
		"secret":    config.VectorExtend,
		"env":       config.VectorExtend,
		"env-files": config.VectorExtend,
	}
}

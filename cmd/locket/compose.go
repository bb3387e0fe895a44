package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/bpbradley/locket/pkg/compose"
	"github.com/bpbradley/locket/pkg/config"
	"github.com/bpbradley/locket/pkg/reference"
)

// newComposeCmd implements the Docker Compose secrets-plugin protocol
// (spec.md §6 "compose {up, down, metadata}"): a thin adapter over
// pkg/compose's line-delimited JSON emitter, not a Compose file parser
// (spec.md §1 lists Compose metadata rendering as an external collaborator
// whose interface, not its full semantics, belongs to the core).
func newComposeCmd() *cobra.Command {
	providerFlags := newProviderFlagSet()

	cmd := &cobra.Command{
		Use:   "compose",
		Short: "Docker Compose secrets-plugin protocol (up, down, metadata)",
	}

	upCmd := &cobra.Command{
		Use:   "up [KEY=ref ...]",
		Short: "Resolve the requested secret references and emit them as Compose environment assignments",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(map[string]*pflag.FlagSet{"provider": providerFlags})
			if err != nil {
				return err
			}
			return runComposeUp(context.Background(), cfg, args)
		},
	}
	upCmd.Flags().AddFlagSet(providerFlags)

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Release any resources held for a Compose secrets session",
		RunE: func(cmd *cobra.Command, args []string) error {
			compose.NewEmitter(os.Stdout).Info("no persistent resources to release; locket never stores plaintext")
			return nil
		},
	}

	metadataCmd := &cobra.Command{
		Use:   "metadata",
		Short: "Print the Compose secrets-plugin metadata descriptor",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(os.Stdout, `{"Version":"1.0","Vendor":"locket"}`)
			return nil
		},
	}

	cmd.AddCommand(upCmd, downCmd, metadataCmd)
	return cmd
}

// runComposeUp resolves each "KEY=ref" argument through the configured
// provider and emits a setenv line per resolved key, matching
// original_source/src/compose.rs's up handler.
func runComposeUp(ctx context.Context, cfg *config.Config, args []string) error {
	e := compose.NewEmitter(os.Stdout)

	prov, err := buildProvider(ctx, cfg.Provider)
	if err != nil {
		e.Error(err.Error())
		return err
	}

	byKey := make(map[string]reference.Reference, len(args))
	refs := make([]reference.Reference, 0, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			err := fmt.Errorf("invalid compose secret entry %q: want KEY=ref", arg)
			e.Error(err.Error())
			return err
		}
		ref, ok := prov.Parse(raw)
		if !ok {
			err := fmt.Errorf("unrecognized secret reference %q for key %q", raw, key)
			e.Error(err.Error())
			return err
		}
		byKey[key] = ref
		refs = append(refs, ref)
	}

	if len(refs) == 0 {
		e.Debug("no secret references requested")
		return nil
	}

	e.Info(fmt.Sprintf("fetching %d secret(s)", len(refs)))
	fetched, err := prov.FetchMap(ctx, refs)
	if err != nil {
		e.Error(err.Error())
		return err
	}

	for key, ref := range byKey {
		val, ok := fetched[ref]
		if !ok {
			e.Error(fmt.Sprintf("secret for %q not found", key))
			continue
		}
		e.SetEnv(key, string(val))
	}
	return nil
}

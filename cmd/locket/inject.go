package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/bpbradley/locket/pkg/config"
	"github.com/bpbradley/locket/pkg/health"
	"github.com/bpbradley/locket/pkg/logging"
	"github.com/bpbradley/locket/pkg/manager"
	"github.com/bpbradley/locket/pkg/metrics"
	"github.com/bpbradley/locket/pkg/pathutil"
	"github.com/bpbradley/locket/pkg/registry"
	"github.com/bpbradley/locket/pkg/secret"
	"github.com/bpbradley/locket/pkg/watch"
)

func newInjectCmd() *cobra.Command {
	injectFlags := newInjectFlagSet()
	providerFlags := newProviderFlagSet()

	cmd := &cobra.Command{
		Use:   "inject",
		Short: "Materialize secret references from templates onto disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(map[string]*pflag.FlagSet{
				"inject":   injectFlags,
				"provider": providerFlags,
			})
			if err != nil {
				return err
			}
			ctx, cancel := serviceContext()
			defer cancel()
			return runInject(ctx, cfg)
		},
	}
	cmd.Flags().AddFlagSet(injectFlags)
	cmd.Flags().AddFlagSet(providerFlags)
	return cmd
}

// buildMappings parses a list of "SRC:DST" strings into validated
// registry.Mapping values (spec.md §6 "--map SRC:DST,…").
func buildMappings(raw []string) ([]registry.Mapping, error) {
	mappings := make([]registry.Mapping, 0, len(raw))
	for _, m := range raw {
		src, dst, ok := strings.Cut(m, ":")
		if !ok || src == "" || dst == "" {
			return nil, fmt.Errorf("invalid --map %q: want SRC:DST", m)
		}
		mapping, err := registry.NewMapping(src, dst)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, mapping)
	}
	return mappings, nil
}

// buildPinnedSecrets parses --secret entries, splitting file-backed entries
// (which the registry tracks and can watch) from in-memory literal entries
// (which the manager materializes directly), per spec.md §3/§4.F.
func buildPinnedSecrets(raw []string, outRoot pathutil.AbsolutePath, maxFileSize int64) (pinned, literal []secret.File, err error) {
	for _, arg := range raw {
		s, perr := secret.ParseSecretArg(arg)
		if perr != nil {
			return nil, nil, perr
		}
		dest := secret.DestFor(s, outRoot)
		f := secret.File{Source: s.Source, Dest: dest, MaxSize: maxFileSize}
		if s.Source.IsFile() {
			pinned = append(pinned, f)
		} else {
			literal = append(literal, f)
		}
	}
	return pinned, literal, nil
}

func runInject(ctx context.Context, cfg *config.Config) error {
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer log.Sync()

	if err := health.Clear(cfg.Inject.StatusFile); err != nil {
		return err
	}

	outRoot, err := pathutil.Absolute(cfg.Inject.Out)
	if err != nil {
		return err
	}

	mappings, err := buildMappings(cfg.Inject.Maps)
	if err != nil {
		return err
	}
	if err := registry.ValidateMappings(mappings, outRoot); err != nil {
		return err
	}

	pinned, literal, err := buildPinnedSecrets(cfg.Inject.Secrets, outRoot, cfg.Inject.MaxFileSize)
	if err != nil {
		return err
	}

	reg, err := registry.New(mappings, pinned, cfg.Inject.MaxFileSize)
	if err != nil {
		return err
	}

	policy, err := parsePolicy(cfg.Inject.InjectPolicy)
	if err != nil {
		return err
	}

	mgr := manager.New(reg, literal, manager.WithPolicy(policy), manager.WithLogger(log))
	if err := mgr.Collisions(); err != nil {
		return err
	}

	prov, err := buildProvider(ctx, cfg.Provider)
	if err != nil {
		return err
	}

	if err := mgr.InjectAll(ctx, prov); err != nil {
		return err
	}
	if err := health.MarkReady(cfg.Inject.StatusFile); err != nil {
		return err
	}
	log.Info("initial injection complete",
		zap.Int("files", len(reg.Files())+len(literal)),
		zap.String("mode", cfg.Inject.Mode))

	switch cfg.Inject.Mode {
	case "", "one-shot":
		return nil
	case "park":
		startMetricsServer(ctx, cfg.Inject.MetricsAddr, cfg.Inject.StatusFile, log)
		<-ctx.Done()
		return nil
	case "watch":
		startMetricsServer(ctx, cfg.Inject.MetricsAddr, cfg.Inject.StatusFile, log)
		adapter := manager.NewWatchAdapter(mgr, prov, reg.WatchRoots())
		watcher := watch.New(adapter, watch.WithDebounce(cfg.Inject.Debounce), watch.WithLogger(log))
		return watcher.Run(ctx)
	default:
		return fmt.Errorf("unknown inject mode %q", cfg.Inject.Mode)
	}
}

// startMetricsServer exposes /metrics and health probes for the long-running
// modes when an address is configured; readiness mirrors the status file.
func startMetricsServer(ctx context.Context, addr, statusFile string, log *zap.Logger) {
	if addr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, addr, func() bool { return health.IsReady(statusFile) }, log); err != nil {
			log.Warn("metrics server error", zap.Error(err))
		}
	}()
}

package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/bpbradley/locket/pkg/config"
	"github.com/bpbradley/locket/pkg/logging"
	"github.com/bpbradley/locket/pkg/metrics"
	"github.com/bpbradley/locket/pkg/volume"
)

func newVolumeCmd() *cobra.Command {
	volumeFlags := newVolumeFlagSet()
	providerFlags := newProviderFlagSet()

	cmd := &cobra.Command{
		Use:   "volume",
		Short: "Serve a Docker volume plugin that populates a tmpfs per volume on demand",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(map[string]*pflag.FlagSet{
				"volume":   volumeFlags,
				"provider": providerFlags,
			})
			if err != nil {
				return err
			}
			ctx, cancel := serviceContext()
			defer cancel()
			return runVolume(ctx, cfg)
		},
	}
	cmd.Flags().AddFlagSet(volumeFlags)
	cmd.Flags().AddFlagSet(providerFlags)
	return cmd
}

func runVolume(ctx context.Context, cfg *config.Config) error {
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer log.Sync()

	policy, err := parsePolicy(cfg.Volume.Policy)
	if err != nil {
		return err
	}

	defaults := volume.VolumeSpec{
		Watch:       cfg.Volume.Watch,
		Policy:      policy,
		MaxFileSize: cfg.Volume.MaxFileSize,
		Mount:       volume.DefaultMountConfig,
	}

	prov, err := buildProvider(ctx, cfg.Provider)
	if err != nil {
		return err
	}

	reg, err := volume.NewVolumeRegistry(cfg.Volume.StateDir, cfg.Volume.RuntimeDir, defaults, prov, log)
	if err != nil {
		return err
	}

	if cfg.Volume.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Volume.MetricsAddr, nil, log); err != nil {
				log.Warn("metrics server error", zap.Error(err))
			}
		}()
	}

	svc := volume.NewPluginService(reg, log)
	log.Info("serving Docker volume plugin", zap.String("socket", cfg.Volume.Socket))
	return svc.Serve(ctx, cfg.Volume.Socket)
}

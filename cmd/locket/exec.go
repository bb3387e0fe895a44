package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/bpbradley/locket/pkg/config"
	"github.com/bpbradley/locket/pkg/exitcode"
	"github.com/bpbradley/locket/pkg/logging"
	"github.com/bpbradley/locket/pkg/process"
	"github.com/bpbradley/locket/pkg/secret"
	"github.com/bpbradley/locket/pkg/watch"
)

func newExecCmd() *cobra.Command {
	execFlags := newExecFlagSet()
	providerFlags := newProviderFlagSet()

	cmd := &cobra.Command{
		Use:                   "exec [flags] -- CMD [ARGS...]",
		Short:                 "Spawn a child process with secrets resolved into its environment, restarting it on change",
		Args:                  cobra.MinimumNArgs(1),
		DisableFlagsInUseLine: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(map[string]*pflag.FlagSet{
				"exec":     execFlags,
				"provider": providerFlags,
			})
			if err != nil {
				return err
			}
			ctx, cancel := serviceContext()
			defer cancel()
			return runExec(ctx, cfg, args)
		},
	}
	cmd.Flags().AddFlagSet(execFlags)
	cmd.Flags().AddFlagSet(providerFlags)
	return cmd
}

// buildExecSecrets turns --env-files and --env/-e entries into the
// secret.Secret list EnvResolver resolves (spec.md §4.J "env :=
// EnvManager.resolve()"): each env-files entry is a bare dotenv-style file
// path, each env entry is a KEY=VALUE/KEY=@path/KEY={{ref}} assignment.
func buildExecSecrets(envFiles, env []string) ([]secret.Secret, error) {
	secrets := make([]secret.Secret, 0, len(envFiles)+len(env))
	for _, f := range envFiles {
		s, err := secret.ParseSecretArg(f)
		if err != nil {
			return nil, err
		}
		secrets = append(secrets, s)
	}
	for _, e := range env {
		s, err := secret.ParseSecretArg(e)
		if err != nil {
			return nil, err
		}
		secrets = append(secrets, s)
	}
	return secrets, nil
}

func runExec(ctx context.Context, cfg *config.Config, cmdArgs []string) error {
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer log.Sync()

	secrets, err := buildExecSecrets(cfg.Exec.EnvFiles, cfg.Exec.Env)
	if err != nil {
		return err
	}

	prov, err := buildProvider(ctx, cfg.Provider)
	if err != nil {
		return err
	}

	resolver := process.NewEnvResolver(secrets, prov)
	sup := process.New(resolver, cmdArgs, cfg.Exec.Interactive,
		process.WithTimeout(cfg.Exec.Timeout), process.WithLogger(log))

	if err := sup.Start(ctx); err != nil {
		return err
	}

	if cfg.Exec.Watch {
		watcher := watch.New(sup, watch.WithDebounce(cfg.Exec.Debounce), watch.WithLogger(log))
		if err := watcher.Run(ctx); err != nil {
			sup.Stop()
			return err
		}
	} else if _, err := sup.Wait(ctx); err != nil {
		log.Debug("exec wait interrupted", zap.Error(err))
	}

	sup.Stop()
	result := sup.LastResult()
	os.Exit(exitcode.ForChildExit(result.Code, result.Signaled, result.Signum))
	return nil
}

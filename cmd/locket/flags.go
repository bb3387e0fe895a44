package main

import "github.com/spf13/pflag"

// newProviderFlagSet builds the flag set shared by inject, exec, and volume
// for selecting and configuring a secret backend (spec.md §6 "<provider
// flags>"). Flag names match ProviderConfig's koanf leaf keys exactly so
// config.Load can scope them under the "provider" section.
func newProviderFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("provider", pflag.ContinueOnError)
	fs.String("backend", "", "secret backend: op, connect, bws, infisical")
	fs.String("op-token", "", "1Password service account token (OP_SERVICE_ACCOUNT_TOKEN)")
	fs.String("op-config-dir", "", "1Password CLI config directory (OP_CONFIG_DIR)")
	fs.String("connect-host", "", "1Password Connect server URL")
	fs.String("connect-token", "", "1Password Connect API token")
	fs.String("bws-api-url", "", "Bitwarden Secrets Manager API URL")
	fs.String("bws-access-token", "", "Bitwarden Secrets Manager access token")
	fs.String("infisical-url", "", "Infisical server URL")
	fs.String("infisical-client-id", "", "Infisical machine identity client ID")
	fs.String("infisical-client-secret", "", "Infisical machine identity client secret")
	fs.String("infisical-env", "", "default Infisical environment slug for references that omit env")
	fs.String("infisical-project-id", "", "default Infisical project UUID for references that omit project_id")
	return fs
}

// newInjectFlagSet builds the `inject` subcommand's own flags (spec.md §6).
func newInjectFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("inject", pflag.ContinueOnError)
	fs.String("mode", "", "operating mode: one-shot, watch, park")
	fs.StringArray("map", nil, "SRC:DST template-directory mapping (repeatable)")
	fs.StringArray("secret", nil, "LABEL={{ref}}, LABEL=@path, or bare /path secret entry (repeatable)")
	fs.String("out", "", "root directory literal --secret entries materialize under")
	fs.String("inject-policy", "", "failure policy: error, copy-unmodified, ignore")
	fs.Int64("max-file-size", 0, "maximum source file size in bytes")
	fs.Duration("debounce", 0, "filesystem event debounce window (watch mode)")
	fs.String("status-file", "", "path marking readiness once injection succeeds")
	fs.String("metrics-addr", "", "address serving /metrics and health probes in watch/park modes")
	return fs
}

// newExecFlagSet builds the `exec` subcommand's own flags (spec.md §6).
func newExecFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("exec", pflag.ContinueOnError)
	fs.Bool("watch", false, "re-resolve environment and restart the child on template change")
	fs.Bool("interactive", false, "run the child attached to this process's controlling TTY")
	fs.StringArray("env-files", nil, "dotenv-style file of KEY=VALUE secret references (repeatable)")
	fs.StringArrayP("env", "e", nil, "KEY=VALUE, KEY=@path, or KEY={{ref}} environment entry (repeatable)")
	fs.Duration("timeout", 0, "graceful shutdown timeout before SIGKILL")
	fs.Duration("debounce", 0, "filesystem event debounce window (watch mode)")
	return fs
}

// newVolumeFlagSet builds the `volume` subcommand's own flags (spec.md §6).
func newVolumeFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("volume", pflag.ContinueOnError)
	fs.String("socket", "", "Unix socket path to serve the Docker volume-driver protocol on")
	fs.String("state-dir", "", "directory holding the persisted volume metadata state file")
	fs.String("runtime-dir", "", "directory under which per-volume tmpfs mountpoints are created")
	fs.Bool("watch", false, "default: keep a mounted volume's secrets live-updated")
	fs.String("policy", "", "default failure policy: error, copy-unmodified, ignore")
	fs.Int64("max-file-size", 0, "default maximum source file size in bytes")
	fs.String("metrics-addr", "", "address serving /metrics and health probes")
	return fs
}

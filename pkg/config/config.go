// Package config implements locket's layered configuration overlay
// (spec.md §6): a YAML file, environment variables, and CLI flags, later
// source wins, vector fields resolved per a configurable overlay policy
// (replace, extend, dedup). Grounded on choreov3's direct use of
// github.com/knadh/koanf/v2 for exactly this layering model, and on
// dockform's direct use of github.com/go-playground/validator/v10 for
// struct-level validation of a decoded manifest.
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// ProviderConfig carries every backend's settings; Backend selects which
// one is active (spec.md §4.E).
type ProviderConfig struct {
	Backend string `koanf:"backend" validate:"omitempty,oneof=op connect bws infisical"`

	OpServiceAccountToken string `koanf:"op-token"`
	OpConfigDir           string `koanf:"op-config-dir"`

	ConnectHost  string `koanf:"connect-host"`
	ConnectToken string `koanf:"connect-token"`

	BwsAPIURL      string `koanf:"bws-api-url"`
	BwsAccessToken string `koanf:"bws-access-token"`

	InfisicalURL          string `koanf:"infisical-url"`
	InfisicalClientID     string `koanf:"infisical-client-id"`
	InfisicalClientSecret string `koanf:"infisical-client-secret"`
	InfisicalEnv          string `koanf:"infisical-env"`
	InfisicalProjectID    string `koanf:"infisical-project-id" validate:"omitempty,uuid"`
}

// InjectConfig backs the `inject` subcommand (spec.md §6).
type InjectConfig struct {
	Mode         string        `koanf:"mode" validate:"omitempty,oneof=one-shot watch park"`
	Maps         []string      `koanf:"map"`
	Secrets      []string      `koanf:"secret"`
	Out          string        `koanf:"out"`
	InjectPolicy string        `koanf:"inject-policy" validate:"omitempty,oneof=error copy-unmodified ignore"`
	MaxFileSize  int64         `koanf:"max-file-size" validate:"omitempty,gt=0"`
	Debounce     time.Duration `koanf:"debounce"`
	StatusFile   string        `koanf:"status-file"`
	MetricsAddr  string        `koanf:"metrics-addr"`
}

// ExecConfig backs the `exec` subcommand (spec.md §6).
type ExecConfig struct {
	Watch       bool          `koanf:"watch"`
	Interactive bool          `koanf:"interactive"`
	EnvFiles    []string      `koanf:"env-files"`
	Env         []string      `koanf:"env"`
	Timeout     time.Duration `koanf:"timeout"`
	Debounce    time.Duration `koanf:"debounce"`
}

// VolumeConfig backs the `volume` subcommand (spec.md §6).
type VolumeConfig struct {
	Socket      string `koanf:"socket"`
	StateDir    string `koanf:"state-dir"`
	RuntimeDir  string `koanf:"runtime-dir"`
	Watch       bool   `koanf:"watch"`
	Policy      string `koanf:"policy" validate:"omitempty,oneof=error copy-unmodified ignore"`
	MaxFileSize int64  `koanf:"max-file-size" validate:"omitempty,gt=0"`
	MetricsAddr string `koanf:"metrics-addr"`
}

// LogConfig selects the logger's verbosity and rendering.
type LogConfig struct {
	Level  string `koanf:"log-level" validate:"omitempty,oneof=debug info warn error"`
	Format string `koanf:"log-format" validate:"omitempty,oneof=json console text"`
}

// Config is the root of the layered overlay: file → environment → CLI.
type Config struct {
	Log      LogConfig      `koanf:"log"`
	Provider ProviderConfig `koanf:"provider"`
	Inject   InjectConfig   `koanf:"inject"`
	Exec     ExecConfig     `koanf:"exec"`
	Volume   VolumeConfig   `koanf:"volume"`
}

// Default returns a Config with spec.md §6's defaults filled in.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Inject: InjectConfig{
			Mode:         "one-shot",
			Maps:         []string{"/templates:/run/secrets/locket"},
			Out:          "/run/secrets/locket",
			InjectPolicy: "copy-unmodified",
			MaxFileSize:  10 << 20,
		},
		Exec: ExecConfig{Timeout: 30 * time.Second},
		Volume: VolumeConfig{
			Socket:      "/run/docker/plugins/locket.sock",
			StateDir:    "/var/lib/locket",
			RuntimeDir:  "/var/lib/locket",
			Policy:      "copy-unmodified",
			MaxFileSize: 10 << 20,
		},
	}
}

// VectorPolicy controls how a repeated-flag/vector field is reconciled
// across overlay layers (spec.md §6: "Vectors support an overlay policy
// selected per field: replace, extend, dedup").
type VectorPolicy int

const (
	VectorReplace VectorPolicy = iota
	VectorExtend
	VectorDedup
)

// topLevelSections is the only set of keys tolerated at the root of a
// config file; anything else is rejected outright (spec.md §6:
// "Unrecognized keys are rejected").
var topLevelSections = map[string]struct{}{
	"log": {}, "provider": {}, "inject": {}, "exec": {}, "volume": {},
}

// nativeProviderEnv maps a provider.* leaf key to the backend's own native
// environment variable name (spec.md §6: "each flag has a corresponding
// LOCKET_* / OP_* / BWS_* / INFISICAL_* variable"), so e.g. a 1Password
// Connect deployment's existing OP_CONNECT_HOST keeps working unprefixed,
// alongside the uniform LOCKET_PROVIDER_CONNECT_HOST form the env.Provider
// below already derives.
var nativeProviderEnv = map[string]string{
	"op-token":                "OP_SERVICE_ACCOUNT_TOKEN",
	"op-config-dir":           "OP_CONFIG_DIR",
	"connect-host":            "OP_CONNECT_HOST",
	"connect-token":           "OP_CONNECT_TOKEN",
	"bws-api-url":             "BWS_API_URL",
	"bws-access-token":        "BWS_ACCESS_TOKEN",
	"infisical-url":           "INFISICAL_URL",
	"infisical-client-id":     "INFISICAL_CLIENT_ID",
	"infisical-client-secret": "INFISICAL_CLIENT_SECRET",
	"infisical-env":           "INFISICAL_ENV",
	"infisical-project-id":    "INFISICAL_PROJECT_ID",
}

// Load builds a Config by layering, in increasing precedence, a YAML file
// (if path is non-empty), environment variables (the uniform LOCKET_*
// prefix, plus each provider backend's own native variable names),
// and the already-parsed CLI flags for each section in flagSections.
// flagSections maps a top-level section name ("log", "provider", "inject",
// "exec", "volume") to that subcommand's flag set, whose flags are named
// after the section's own leaf keys (e.g. "mode", not "inject.mode") to
// match spec.md §6's flat CLI surface; Load scopes each flag set against
// its own section before merging so posflag only overrides a key the user
// actually passed. policies maps a leaf field name (its koanf tag, e.g.
// "map", "secret", "env-files") to the overlay behavior used when that
// field appears in more than one layer; fields absent from policies
// default to VectorReplace.
func Load(path string, flagSections map[string]*pflag.FlagSet, policies map[string]VectorPolicy) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultsMap(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading built-in defaults: %w", err)
	}

	if path != "" {
		raw := koanf.New(".")
		if err := raw.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
		if err := rejectUnknownSections(raw); err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), yaml.Parser(), mergeOpt(policies)); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("LOCKET_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "LOCKET_"))
		return strings.ReplaceAll(s, "_", ".")
	})
	if err := k.Load(envProvider, nil, mergeOpt(policies)); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	for section, fs := range flagSections {
		if fs == nil {
			continue
		}
		if _, ok := topLevelSections[section]; !ok {
			return nil, fmt.Errorf("unknown flag section %q", section)
		}

		scoped := k.Cut(section)

		if section == "provider" {
			native := make(map[string]interface{}, len(nativeProviderEnv))
			for leaf, envVar := range nativeProviderEnv {
				if v, ok := os.LookupEnv(envVar); ok {
					native[leaf] = v
				}
			}
			if len(native) > 0 {
				if err := scoped.Load(confmap.Provider(native, "."), nil, mergeOpt(policies)); err != nil {
					return nil, fmt.Errorf("loading native provider environment: %w", err)
				}
			}
		}

		// posflag.Provider is handed scoped itself: an unchanged flag
		// whose key already has a value from the file/env layers keeps
		// that value, and only supplies its own default as a fallback
		// when nothing upstream set it — exactly the "CLI only overrides
		// when passed" behavior spec.md §6 wants from the last overlay
		// layer.
		if err := scoped.Load(posflag.Provider(fs, ".", scoped), nil, mergeOpt(policies)); err != nil {
			return nil, fmt.Errorf("loading %s flags: %w", section, err)
		}

		// scoped already holds the fully merged section, so it replaces
		// k's copy instead of being merged (and extended) a second time.
		prefixed := make(map[string]interface{}, len(scoped.Raw()))
		for key, val := range scoped.Raw() {
			prefixed[section+"."+key] = val
		}
		if err := k.Load(confmap.Provider(prefixed, "."), nil); err != nil {
			return nil, fmt.Errorf("merging %s flags: %w", section, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	// The built-in mapping applies only when no layer supplies one, so an
	// extend policy on "map" never carries it into a user's own list.
	if len(cfg.Inject.Maps) == 0 {
		cfg.Inject.Maps = Default().Inject.Maps
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func rejectUnknownSections(k *koanf.Koanf) error {
	for _, key := range k.Keys() {
		section := key
		if idx := strings.Index(key, "."); idx >= 0 {
			section = key[:idx]
		}
		if _, ok := topLevelSections[section]; !ok {
			known := make([]string, 0, len(topLevelSections))
			for s := range topLevelSections {
				known = append(known, s)
			}
			sort.Strings(known)
			return fmt.Errorf("unrecognized config key %q (known sections: %s)", key, strings.Join(known, ", "))
		}
	}
	return nil
}

func mergeOpt(policies map[string]VectorPolicy) koanf.Option {
	return koanf.WithMergeFunc(func(src, dest map[string]interface{}) error {
		mergeMaps(src, dest, policies)
		return nil
	})
}

// mergeMaps recursively merges src into dest, applying a per-leaf-key
// vector policy to slice values instead of koanf's default full
// replacement.
func mergeMaps(src, dest map[string]interface{}, policies map[string]VectorPolicy) {
	for k, sv := range src {
		dv, exists := dest[k]
		if !exists {
			dest[k] = sv
			continue
		}
		sm, sIsMap := sv.(map[string]interface{})
		dm, dIsMap := dv.(map[string]interface{})
		if sIsMap && dIsMap {
			mergeMaps(sm, dm, policies)
			continue
		}
		if sSlice, ok := toStringSlice(sv); ok {
			dSlice, dOk := toStringSlice(dv)
			if !dOk {
				dest[k] = sv
				continue
			}
			dest[k] = mergeVector(dSlice, sSlice, policies[k])
			continue
		}
		dest[k] = sv
	}
}

func toStringSlice(v interface{}) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, fmt.Sprintf("%v", e))
		}
		return out, true
	default:
		return nil, false
	}
}

func mergeVector(older, newer []string, policy VectorPolicy) []string {
	switch policy {
	case VectorExtend:
		return append(append([]string{}, older...), newer...)
	case VectorDedup:
		return dedup(append(append([]string{}, older...), newer...))
	default: // VectorReplace
		return newer
	}
}

func dedup(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate runs struct-tag validation over cfg (spec.md §6: "Unrecognized
// keys are rejected" pairs with tag-driven shape validation here).
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// defaultsMap seeds the lowest-precedence koanf layer with spec.md §6's
// documented defaults, so file/env/flag layers only need to carry
// overrides.
func defaultsMap() map[string]interface{} {
	d := Default()
	return map[string]interface{}{
		"log.log-level":        d.Log.Level,
		"log.log-format":       d.Log.Format,
		"inject.mode":          d.Inject.Mode,
		"inject.out":           d.Inject.Out,
		"inject.inject-policy": d.Inject.InjectPolicy,
		"inject.max-file-size": d.Inject.MaxFileSize,
		"exec.timeout":         d.Exec.Timeout,
		"volume.socket":        d.Volume.Socket,
		"volume.state-dir":     d.Volume.StateDir,
		"volume.runtime-dir":   d.Volume.RuntimeDir,
		"volume.policy":        d.Volume.Policy,
		"volume.max-file-size": d.Volume.MaxFileSize,
	}
}

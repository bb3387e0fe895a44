package provider

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/bpbradley/locket/pkg/errs"
	"github.com/bpbradley/locket/pkg/provider/retry"
	"github.com/bpbradley/locket/pkg/reference"
)

// OpConfig configures the 1Password CLI provider.
type OpConfig struct {
	ServiceAccountToken string
	ConfigDir           string // optional OP_CONFIG_DIR override
	Concurrency         ConcurrencyLimit
	Retry               retry.Config
}

// OpProvider fetches op:// references by shelling out to the 1Password CLI
// (`op read --no-newline <ref>`), the same way the original authenticates
// once at startup via `op whoami` and reuses the service account token for
// every subsequent read. Grounded on original_source/src/provider/op.rs.
type OpProvider struct {
	token       string
	configDir   string
	concurrency ConcurrencyLimit
	retry       retry.Config
}

// NewOpProvider authenticates against the 1Password CLI and returns a ready
// provider. Authentication failure surfaces as ProviderUnauthorized.
func NewOpProvider(ctx context.Context, cfg OpConfig) (*OpProvider, error) {
	p := &OpProvider{
		token:       cfg.ServiceAccountToken,
		configDir:   cfg.ConfigDir,
		concurrency: cfg.Concurrency,
		retry:       cfg.Retry,
	}
	if p.retry == (retry.Config{}) {
		p.retry = retry.DefaultConfig()
	}

	cmd := p.command(ctx, "whoami")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &errs.ProviderError{
			Kind:    errs.ProviderUnauthorized,
			Program: "op",
			Err:     fmt.Errorf("op whoami: %w: %s", err, strings.TrimSpace(stderr.String())),
		}
	}
	return p, nil
}

func (p *OpProvider) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, "op", args...)
	cmd.Stdin = nil
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
		"XDG_CONFIG_HOME=" + os.Getenv("XDG_CONFIG_HOME"),
		"OP_SERVICE_ACCOUNT_TOKEN=" + p.token,
	}
	if p.configDir != "" {
		cmd.Env = append(cmd.Env, "OP_CONFIG_DIR="+p.configDir)
	}
	return cmd
}

// Parse recognizes op:// references.
func (p *OpProvider) Parse(raw string) (reference.Reference, bool) {
	ref, ok := reference.TryParse(raw)
	if !ok {
		return nil, false
	}
	if _, isOp := ref.(reference.OpRef); !isOp {
		return nil, false
	}
	return ref, true
}

// FetchMap reads every op:// reference via the CLI, bounded by p.concurrency
// concurrent child processes.
func (p *OpProvider) FetchMap(ctx context.Context, refs []reference.Reference) (map[reference.Reference]SecretString, error) {
	opRefs := make([]reference.Reference, 0, len(refs))
	for _, r := range refs {
		if _, ok := r.(reference.OpRef); ok {
			opRefs = append(opRefs, r)
		}
	}

	return fanOut(ctx, opRefs, p.concurrency, func(ctx context.Context, r reference.Reference) (SecretString, error) {
		key := r.String()
		var out bytes.Buffer
		var stderr bytes.Buffer

		err := retry.WithRetry(ctx, p.retry, func() error {
			out.Reset()
			stderr.Reset()
			cmd := p.command(ctx, "read", "--no-newline", key)
			cmd.Stdout = &out
			cmd.Stderr = &stderr
			return cmd.Run()
		})
		if err != nil {
			return "", &errs.ProviderError{
				Kind:    errs.ProviderExec,
				Key:     key,
				Program: "op",
				Stderr:  strings.TrimSpace(stderr.String()),
				Err:     err,
			}
		}
		return SecretString(out.String()), nil
	})
}

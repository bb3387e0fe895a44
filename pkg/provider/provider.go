// Package provider implements the secret-store backends (spec.md §4.E):
// 1Password CLI and Connect, Bitwarden Secrets Manager, and Infisical, plus
// a rotation-aware wrapper. Grounded on the teacher's fetch-with-retry shape
// in the now-retired pkg/sidecar/agent.go and on
// original_source/src/provider/{op,connect,bws,infisical,managed}.rs.
package provider

import (
	"context"
	"sync"
	"time"

	"github.com/bpbradley/locket/pkg/errs"
	"github.com/bpbradley/locket/pkg/metrics"
	"github.com/bpbradley/locket/pkg/reference"
)

// SecretString is a fetched secret value. It is a defined type rather than a
// bare string so callers don't accidentally log it via a generic %v on a
// struct that embeds one; its formatted output is always redacted, and
// consumers reach the value by an explicit string conversion.
type SecretString string

func (s SecretString) String() string   { return "[REDACTED]" }
func (s SecretString) GoString() string { return `provider.SecretString("[REDACTED]")` }

// Provider fetches secret values for a batch of references and recognizes
// its own reference grammar within a raw template tag.
type Provider interface {
	// FetchMap resolves every reference in refs concurrently, bounded by
	// the provider's own concurrency limit, and returns a value for each
	// one it could fetch. A reference this provider cannot handle is
	// simply absent from refs (callers partition by Parse first).
	FetchMap(ctx context.Context, refs []reference.Reference) (map[reference.Reference]SecretString, error)

	// Parse reports whether raw belongs to this provider's backend and,
	// if so, returns its typed Reference.
	Parse(raw string) (reference.Reference, bool)
}

// ConcurrencyLimit bounds the number of in-flight backend requests during a
// fan-out fetch (spec.md §4.E: "Maintains a concurrency bound").
type ConcurrencyLimit int

// DefaultConcurrencyLimit matches the teacher's and original_source's
// default of bounding parallel child-process/HTTP fan-out at a small,
// fixed width rather than one goroutine per reference.
const DefaultConcurrencyLimit ConcurrencyLimit = 20

// fetchResult pairs a reference with either a value or an error, used to
// fan results back in from a bounded worker pool.
type fetchResult struct {
	ref reference.Reference
	val SecretString
	err error
}

// fanOut runs fetchOne over every ref with at most limit goroutines in
// flight at once (the original's `stream::buffer_unordered` shape). A
// well-formed not-found result is filtered out of the returned map rather
// than aborting the batch (spec.md §4.E/§7); any other error short-circuits
// the remaining in-flight fetches and is returned to the caller.
func fanOut(ctx context.Context, refs []reference.Reference, limit ConcurrencyLimit, fetchOne func(context.Context, reference.Reference) (SecretString, error)) (map[reference.Reference]SecretString, error) {
	if len(refs) == 0 {
		return map[reference.Reference]SecretString{}, nil
	}
	if limit <= 0 {
		limit = DefaultConcurrencyLimit
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, int(limit))
	results := make(chan fetchResult, len(refs))
	var wg sync.WaitGroup

	for _, ref := range refs {
		ref := ref
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results <- fetchResult{ref: ref, err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			start := time.Now()
			val, err := fetchOne(ctx, ref)
			metrics.RecordFetch(ref.Backend(), err == nil, time.Since(start).Seconds())
			results <- fetchResult{ref: ref, val: val, err: err}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make(map[reference.Reference]SecretString, len(refs))
	var firstErr error
	for r := range results {
		if r.err != nil {
			// A well-formed "not found" is a per-key filter, not a batch
			// failure (spec.md §4.E/§7): the key is simply omitted from out.
			if errs.IsNotFound(r.err) {
				continue
			}
			if firstErr == nil {
				firstErr = r.err
				cancel()
			}
			continue
		}
		out[r.ref] = r.val
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}

// notFound builds the ProviderError returned when a backend has no value
// for key.
func notFound(key string) error {
	return &errs.ProviderError{Kind: errs.ProviderNotFound, Key: key}
}

package resolver

import (
	"context"

	"github.com/haukened/sgurl/internal/sgurl/domain"
)

type probeResult struct {
	endpoint domain.Endpoint
	known    bool
	err      error
}

// race probes every candidate concurrently and returns the first endpoint whose probe
// answers "known", in arrival order. It returns the zero Endpoint when all probes
// settle without a positive answer. Losing probes are left to finish on their own;
// the results channel is buffered so they never block.
func (r *Resolver) race(ctx context.Context, repo string, candidates []domain.Endpoint) (domain.Endpoint, error) {
	if len(candidates) == 0 {
		return "", nil
	}

	results := make(chan probeResult, len(candidates))
	for _, e := range candidates {
		go r.probe(ctx, e, repo, results)
	}

	for pending := len(candidates); pending > 0; pending-- {
		select {
		case res := <-results:
			if res.err != nil {
				r.logger.Warn(map[string]any{"repo": repo, "endpoint": res.endpoint, "error": res.err}, "Probe failed")
				continue
			}
			if res.known {
				r.logger.Debug(map[string]any{"repo": repo, "endpoint": res.endpoint}, "probe_won")
				return res.endpoint, nil
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", nil
}

func (r *Resolver) probe(ctx context.Context, e domain.Endpoint, repo string, out chan<- probeResult) {
	if r.probeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.probeTimeout)
		defer cancel()
	}
	known, err := r.prober.Probe(ctx, e, repo)
	out <- probeResult{endpoint: e, known: known, err: err}
}

package vault

import (
	"context"
	"io"

	"golang.org/x/time/rate"

	"podlog/internal/podlog"
)

const mb = 1 << 20

// ThrottledVault caps the bandwidth of snapshot uploads to the wrapped vault.
type ThrottledVault struct {
	podlog.Vault
	limiter *rate.Limiter
}

// NewThrottledVault limits uploads to mbps megabytes per second.
func NewThrottledVault(v podlog.Vault, mbps int) *ThrottledVault {
	return &ThrottledVault{
		Vault:   v,
		limiter: rate.NewLimiter(rate.Limit(mbps*mb), mbps*mb),
	}
}

func (t *ThrottledVault) PutSnapshot(ctx context.Context, instanceID string, r io.Reader, size int64, version int64) error {
	return t.Vault.PutSnapshot(ctx, instanceID, &throttledReader{ctx: ctx, limiter: t.limiter, underlying: r}, size, version)
}

type throttledReader struct {
	ctx        context.Context
	limiter    *rate.Limiter
	underlying io.Reader
}

func (r *throttledReader) Read(p []byte) (int, error) {
	// WaitN fails for requests larger than the burst.
	if burst := r.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	if err := r.limiter.WaitN(r.ctx, len(p)); err != nil {
		return 0, err
	}
	return r.underlying.Read(p)
}

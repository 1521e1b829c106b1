package fileserver

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// RateLimitedReadWriteCloser throttles both directions of a stream with one
// shared token bucket.
type RateLimitedReadWriteCloser struct {
	rwc     io.ReadWriteCloser
	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewRateLimitedReadWriteCloser wraps rwc so that no more than bytesPerSec bytes
// per second pass through it in total. If bytesPerSec is 0 or less, it returns
// the original stream.
func NewRateLimitedReadWriteCloser(rwc io.ReadWriteCloser, bytesPerSec int64) io.ReadWriteCloser {
	if bytesPerSec <= 0 {
		return rwc
	}
	burst := int(min(bytesPerSec, int64(MaxDataLength)))
	ctx, cancel := context.WithCancel(context.Background())
	return &RateLimitedReadWriteCloser{
		rwc:     rwc,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (r *RateLimitedReadWriteCloser) Read(p []byte) (int, error) {
	n, err := r.rwc.Read(p)
	if n > 0 {
		if werr := r.wait(n); werr != nil && err == nil {
			err = werr
		}
	}
	return n, err
}

func (r *RateLimitedReadWriteCloser) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		chunk := min(len(p), r.limiter.Burst())
		if err := r.wait(chunk); err != nil {
			return written, err
		}
		n, err := r.rwc.Write(p[:chunk])
		written += n
		if err != nil {
			return written, err
		}
		p = p[chunk:]
	}
	return written, nil
}

// Close stops pending waits and closes the underlying stream.
func (r *RateLimitedReadWriteCloser) Close() error {
	r.cancel()
	return r.rwc.Close()
}

func (r *RateLimitedReadWriteCloser) wait(n int) error {
	burst := r.limiter.Burst()
	for n > 0 {
		k := min(n, burst)
		if err := r.limiter.WaitN(r.ctx, k); err != nil {
			return err
		}
		n -= k
	}
	return nil
}

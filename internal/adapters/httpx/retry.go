// Package httpx holds the HTTP plumbing shared by the external data clients.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/samirrijal/gpsguard/internal/core/domain"
	"github.com/samirrijal/gpsguard/internal/pkg/metrics"
)

// maxBody caps how much of a response is read.
const maxBody = 32 << 20

// Retrier issues GET requests with a per-attempt timeout. Only 429, 503
// and 504 answers are retried, with exponential backoff.
type Retrier struct {
	Service string
	Client  *http.Client
	Timeout time.Duration
	Retries int
	// InitialInterval is the first backoff wait. Zero uses 500ms.
	InitialInterval time.Duration
}

// Retryable reports whether a status is worth another attempt.
func Retryable(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Get fetches url and returns the body of the first 2xx answer. Failures are
// returned as *domain.QueryError with Kind network.
func (r *Retrier) Get(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	op := func() error {
		b, err := r.attempt(ctx, url)
		if err != nil {
			return err
		}
		body = b
		return nil
	}

	if err := backoff.Retry(op, r.policy(ctx)); err != nil {
		var qe *domain.QueryError
		if !errors.As(err, &qe) {
			err = &domain.QueryError{Service: r.Service, Kind: domain.ErrKindNetwork, Err: err}
		}
		return nil, err
	}
	return body, nil
}

func (r *Retrier) policy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	if r.InitialInterval > 0 {
		eb.InitialInterval = r.InitialInterval
	}
	eb.MaxElapsedTime = 0
	retries := r.Retries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
}

func (r *Retrier) attempt(ctx context.Context, url string) ([]byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(&domain.QueryError{Service: r.Service, Kind: domain.ErrKindNetwork, Err: err})
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "gpsguard/1.0")

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := client.Do(req)
	metrics.ExternalDuration.WithLabelValues(r.Service).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ExternalRequests.WithLabelValues(r.Service, "error").Inc()
		return nil, backoff.Permanent(&domain.QueryError{Service: r.Service, Kind: domain.ErrKindNetwork, Err: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ExternalRequests.WithLabelValues(r.Service, "status_"+strconv.Itoa(resp.StatusCode)).Inc()
		qe := &domain.QueryError{
			Service:    r.Service,
			Kind:       domain.ErrKindNetwork,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
		if Retryable(resp.StatusCode) {
			return nil, qe
		}
		return nil, backoff.Permanent(qe)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		metrics.ExternalRequests.WithLabelValues(r.Service, "error").Inc()
		return nil, &domain.QueryError{Service: r.Service, Kind: domain.ErrKindNetwork, Err: fmt.Errorf("read body: %w", err)}
	}
	metrics.ExternalRequests.WithLabelValues(r.Service, "ok").Inc()
	return body, nil
}

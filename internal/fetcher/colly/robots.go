package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/trackmeet-harvester/internal/metrics"
)

// Fetch outcomes recorded for robots.txt probes.
const (
	robotsOutcomeRetry    = "robots_retry"
	robotsOutcomeFallback = "robots_fallback"
)

const allowAllRobots = "User-agent: *\nAllow: /"

var defaultRobotsBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// robotsTransport sits between colly and the polite transport. Colly checks
// robots.txt before the first page of each host; when that probe times out the
// transport retries along backoff and, once the schedule is spent, answers
// with an allow-all document so feed and meet fetches still go out. Every
// retry and fallback is counted in harvester_fetches_total under the host.
// Other requests pass through untouched.
type robotsTransport struct {
	base    http.RoundTripper
	backoff []time.Duration
	logger  *zap.Logger
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport: nil request")
	}
	if req.URL == nil || !strings.EqualFold(req.URL.Path, "/robots.txt") {
		return t.base.RoundTrip(req)
	}
	return t.probe(req)
}

func (t *robotsTransport) probe(req *http.Request) (*http.Response, error) {
	backoff := t.backoff
	if backoff == nil {
		backoff = defaultRobotsBackoff
	}
	host := req.URL.Host
	var lastErr error
	for attempt := 0; attempt <= len(backoff); attempt++ {
		if attempt > 0 {
			metrics.ObserveFetch(req.URL.String(), robotsOutcomeRetry)
			if err := wait(req.Context(), backoff[attempt-1]); err != nil {
				return nil, fmt.Errorf("robots probe %s: %w", host, err)
			}
		}
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isTimeout(err) {
			return nil, fmt.Errorf("robots probe %s: %w", host, err)
		}
		lastErr = err
	}

	metrics.ObserveFetch(req.URL.String(), robotsOutcomeFallback)
	t.log().Warn("robots.txt unreachable, allowing all",
		zap.String("host", host),
		zap.Int("attempts", len(backoff)+1),
		zap.Error(lastErr),
	)
	return allowAllResponse(req), nil
}

func (t *robotsTransport) log() *zap.Logger {
	if t.logger == nil {
		return zap.NewNop()
	}
	return t.logger
}

func wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func allowAllResponse(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(allowAllRobots)),
		ContentLength: int64(len(allowAllRobots)),
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Request:       req,
	}
}

// isTimeout matches deadline, net timeout and TLS handshake timeout errors.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}

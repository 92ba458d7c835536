package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

var (
	fetchAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedapi_fetch_attempts_total",
		Help: "The total number of HTTP fetch attempts",
	})

	fetchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedapi_fetch_failures_total",
		Help: "The total number of HTTP fetches that failed after retries",
	})

	fetchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedapi_fetch_retries_total",
		Help: "The total number of HTTP fetch retries",
	})
)

// FetchError reports a transport-level failure retrieving a URL.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("error while performing request for %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher retrieves raw bytes over HTTP, following redirects, with a
// bounded per-call timeout and exponential-backoff retry on transient
// failures.
type Fetcher struct {
	client     *http.Client
	userAgent  string
	maxRetries uint64
}

func New(timeoutSeconds int, userAgent string, maxRetries int) *Fetcher {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Fetcher{
		client:     &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		userAgent:  userAgent,
		maxRetries: uint64(maxRetries),
	}
}

// Fetch retrieves the body at url. Transport errors and 5xx responses are
// retried with exponential backoff up to the configured number of retries;
// other non-2xx responses fail immediately. The returned error is a
// *FetchError.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	attempt := 0

	operation := func() error {
		attempt++
		fetchAttempts.Inc()
		if attempt > 1 {
			fetchRetries.Inc()
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if f.userAgent != "" {
			req.Header.Set("User-Agent", f.userAgent)
		}

		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("server returned %s", resp.Status)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return backoff.Permanent(fmt.Errorf("server returned %s", resp.Status))
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 10 * time.Second

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, f.maxRetries), ctx))
	if err != nil {
		fetchFailures.Inc()
		log.WithFields(log.Fields{
			"url":      url,
			"attempts": attempt,
		}).Warn("Fetch failed")
		return nil, &FetchError{URL: url, Err: err}
	}

	return body, nil
}

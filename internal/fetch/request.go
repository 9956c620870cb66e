package fetch

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/surveypix/image-pipeline/internal/pipeline"
)

// doRequest performs one bounded GET and fully drains the response body on
// every code path so pooled connections can be reused. Any HTTP status is a
// populated outcome; only transport-level failures return a FetchError.
func doRequest(
	ctx context.Context,
	client *http.Client,
	rawURL string,
	headers http.Header,
	timeout time.Duration,
	attempt int,
) (*pipeline.FetchOutcome, *pipeline.FetchError) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &pipeline.FetchError{
			Stage:    pipeline.StageHTTPRequest,
			Type:     "bad_request",
			Message:  truncate(err.Error()),
			Attempts: attempt,
			Duration: time.Since(start),
		}
	}
	for key, values := range headers {
		req.Header[key] = values
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyFetchError(err, attempt, time.Since(start))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	body, ttfb, err := readBody(resp.Body, start)
	if err != nil {
		return nil, classifyFetchError(err, attempt, time.Since(start))
	}

	return &pipeline.FetchOutcome{
		StatusCode:        resp.StatusCode,
		Headers:           resp.Header,
		Body:              body,
		TotalAttempts:     attempt,
		SuccessfulAttempt: attempt,
		UserAgent:         req.Header.Get("User-Agent"),
		Duration:          time.Since(start),
		TimeToFirstByte:   ttfb,
	}, nil
}

// readBody reads the full payload, timing the first byte separately.
func readBody(r io.Reader, start time.Time) ([]byte, time.Duration, error) {
	first := make([]byte, 1)
	_, err := io.ReadFull(r, first)
	ttfb := time.Since(start)
	if err == io.EOF {
		return nil, ttfb, nil
	}
	if err != nil {
		return nil, ttfb, err
	}
	rest, err := io.ReadAll(r)
	if err != nil {
		return nil, ttfb, err
	}
	return append(first, rest...), ttfb, nil
}

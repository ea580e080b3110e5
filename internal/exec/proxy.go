package exec

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Runner proxies execution requests to the external code-execution service.
// The call is a plain pass-through: the upstream status code and body come
// back verbatim, with no retry policy, and upstream errors are the caller's
// to report.
type Runner struct {
	baseURL string
	client  *http.Client
}

func NewRunner(baseURL string) *Runner {
	return &Runner{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (r *Runner) Execute(ctx context.Context, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/execute", body)
	if err != nil {
		return 0, nil, fmt.Errorf("build execute request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("call execution service: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read execution response: %w", err)
	}
	return resp.StatusCode, payload, nil
}

package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dom/code-arena/internal/domain"
)

// HTTPClient talks to an external executor service over its batch-run
// endpoint. The service runs each case in its own sandbox and reports the
// captured stdout; comparison against expected output happens there too.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type executeRequest struct {
	SourceCode string            `json:"sourceCode"`
	Language   domain.Language   `json:"language"`
	TestCases  []domain.TestCase `json:"testCases"`
}

type executeResponse struct {
	Results []CaseResult `json:"results"`
}

func (c *HTTPClient) Execute(ctx context.Context, source string, language domain.Language, cases []domain.TestCase) ([]CaseResult, error) {
	body, err := json.Marshal(executeRequest{
		SourceCode: source,
		Language:   language,
		TestCases:  cases,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal execute request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create execute request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrJudgeUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", domain.ErrJudgeUnavailable, resp.StatusCode)
	}

	var out executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", domain.ErrJudgeUnavailable, err)
	}

	return out.Results, nil
}

package executors

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/austin-smith/fusion-bridge-sub010/internal/action"
	"github.com/austin-smith/fusion-bridge-sub010/internal/models"
)

const maxResponseBody = 64 << 10

// HTTPExecutor calls webhooks for sendHttpRequest
type HTTPExecutor struct {
	client *http.Client
}

// NewHTTPExecutor uses client, or a client with a 30s timeout when nil.
// The pipeline's action timeout still applies through the request context.
func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPExecutor{client: client}
}

func (e *HTTPExecutor) Execute(ctx context.Context, params models.ActionParams, org action.OrgContext) action.Result {
	p, ok := params.(models.SendHTTPRequestParams)
	if !ok {
		return wrongParams(models.ActionSendHTTPRequest, params)
	}
	target, err := url.Parse(p.URLTemplate)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return action.Permanent(fmt.Errorf("invalid url %q", p.URLTemplate))
	}

	method := strings.ToUpper(p.Method)
	var body io.Reader
	if p.BodyTemplate != "" && method != http.MethodGet {
		body = strings.NewReader(p.BodyTemplate)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return action.Permanent(fmt.Errorf("build request: %w", err))
	}
	for _, h := range p.Headers {
		if h.KeyTemplate == "" {
			continue
		}
		req.Header.Set(h.KeyTemplate, h.ValueTemplate)
	}
	if body != nil {
		contentType := p.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("User-Agent", "automation-engine/1.0")
	if org.ExecutionID != "" {
		req.Header.Set("X-Automation-Execution-Id", org.ExecutionID)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return action.Transient(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	data := map[string]any{
		"statusCode": resp.StatusCode,
		"body":       string(raw),
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return action.Result{Kind: action.ResultOK, Data: data}
	case IsRetryableStatus(resp.StatusCode):
		return action.Result{Kind: action.ResultTransient, Data: data, Err: fmt.Errorf("webhook returned %d", resp.StatusCode)}
	default:
		return action.Result{Kind: action.ResultPermanent, Data: data, Err: fmt.Errorf("webhook returned %d", resp.StatusCode)}
	}
}

// IsRetryableStatus reports whether an HTTP status is worth retrying
func IsRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

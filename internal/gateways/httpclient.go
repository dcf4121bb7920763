package gateways

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/risecheckout/payments-backend/pkg/errors"
)

const (
	defaultTimeout            = 8 * time.Second
	responseBodyReadLimit     = 4096
	statusNotFoundRetryDelay  = 500 * time.Millisecond
	statusNotFoundMaxAttempts = 3
)

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// doJSON executes a provider request and decodes a JSON response into out.
// Transport failures and 5xx responses map to CodeDependency (the provider may
// recover); 4xx responses map to CodeGatewayRejected.
func doJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal gateway request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build gateway request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute gateway request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 500 {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, responseError(resp), "gateway unavailable")
	}
	if resp.StatusCode >= 400 {
		return pkgerrors.Wrap(pkgerrors.CodeGatewayRejected, responseError(resp), "gateway rejected request")
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode gateway response")
	}
	return nil
}

func responseError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
}

// isNotFound reports whether the error is a gateway 404, which for freshly
// created payments means "not queryable yet" rather than "gone".
func isNotFound(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return false
	}
	return typed.Code() == pkgerrors.CodeGatewayRejected && strings.Contains(typed.Error(), "status 404")
}

func buildURL(base, path string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(base, "/"), strings.TrimLeft(path, "/"))
}

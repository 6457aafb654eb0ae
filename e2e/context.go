// Package e2e drives a running audiovault server through its public HTTP API
// with godog scenarios.
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// TestContext holds per-scenario HTTP state.
type TestContext struct {
	BaseURL string
	Token   string

	client     *http.Client
	status     int
	headers    http.Header
	body       []byte
	saved      map[string]string
	withoutJWT bool
}

func NewTestContext(baseURL, token string) *TestContext {
	return &TestContext{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		client:  &http.Client{Timeout: 30 * time.Second},
		saved:   map[string]string{},
	}
}

// Reset clears state between scenarios.
func (tc *TestContext) Reset() {
	tc.status = 0
	tc.headers = nil
	tc.body = nil
	tc.saved = map[string]string{}
	tc.withoutJWT = false
}

func (tc *TestContext) POST(path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, tc.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return tc.do(req)
}

func (tc *TestContext) GET(path string, headers map[string]string) error {
	req, err := http.NewRequest(http.MethodGet, tc.BaseURL+path, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	if tc.Token != "" && !tc.withoutJWT && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+tc.Token)
	}
	resp, err := tc.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	tc.body, err = io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	tc.status = resp.StatusCode
	tc.headers = resp.Header
	return nil
}

func (tc *TestContext) StatusCode() int { return tc.status }

func (tc *TestContext) ResponseHeader(name string) string { return tc.headers.Get(name) }

func (tc *TestContext) ResponseBody() []byte { return tc.body }

// GetResponseField returns a top-level field, or a dotted path into nested
// objects such as "security_scan.risk_level".
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var v any
	if err := json.Unmarshal(tc.body, &v); err != nil {
		return nil, fmt.Errorf("response is not JSON: %w", err)
	}
	for _, part := range strings.Split(field, ".") {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("field %q: %q is not an object", field, part)
		}
		if v, ok = obj[part]; !ok {
			return nil, fmt.Errorf("field %q not in response", field)
		}
	}
	return v, nil
}

func (tc *TestContext) ResponseContains(field string) bool {
	_, err := tc.GetResponseField(field)
	return err == nil
}

func (tc *TestContext) Save(key, value string) { tc.saved[key] = value }

func (tc *TestContext) Saved(key string) string { return tc.saved[key] }

// WithoutAuth makes the next requests anonymous.
func (tc *TestContext) WithoutAuth() { tc.withoutJWT = true }

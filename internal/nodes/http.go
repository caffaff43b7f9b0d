package nodes

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/pkg/schema"
)

// HTTPConfig configures the HTTP request node.
type HTTPConfig struct {
	MaxResponseBody int64
	DefaultTimeout  time.Duration
	// Transport overrides the base transport (tests, proxies).
	Transport http.RoundTripper
}

const (
	defaultMaxResponseBody = 10 * 1024 * 1024 // 10MB
	defaultHTTPTimeout     = 30 * time.Second
)

const httpRequestSchema = `{
  "type": "object",
  "properties": {
    "method": {"type": "string", "default": "GET"},
    "url": {"type": "string"},
    "headers": {"type": "object"},
    "query": {"type": "object"},
    "body": {},
    "bodyEncoding": {"type": "string", "enum": ["json","form","text","raw"], "default": "json"},
    "auth": {
      "type": "object",
      "properties": {
        "type": {"type": "string", "enum": ["bearer","basic","apiKey"]},
        "token": {"type": "string"},
        "username": {"type": "string"},
        "password": {"type": "string"},
        "headerName": {"type": "string"},
        "headerValue": {"type": "string"}
      }
    },
    "timeout": {"type": ["string", "number"]},
    "followRedirects": {"type": "boolean", "default": true},
    "maxRedirects": {"type": "integer", "default": 10},
    "tlsSkipVerify": {"type": "boolean", "default": false},
    "failOnErrorStatus": {"type": "boolean", "default": false}
  },
  "required": ["url"]
}`

// HTTPRequestNode implements the "http.request" node. Each input item produces
// exactly one output item; a failed call yields {error, statusCode: 0} for
// that item and the remaining items are still processed.
type HTTPRequestNode struct {
	config HTTPConfig
}

// NewHTTPRequestNode creates a new http.request node type.
func NewHTTPRequestNode(cfg HTTPConfig) *HTTPRequestNode {
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = defaultHTTPTimeout
	}
	return &HTTPRequestNode{config: cfg}
}

func (n *HTTPRequestNode) Describe() Descriptor {
	return Descriptor{
		Name:        "http.request",
		DisplayName: "HTTP Request",
		Description: "Performs one HTTP request per input item with method, headers, query, body and auth resolved against that item.",
		Inputs:      1,
		Outputs:     1,
		Parameters: []ParameterSpec{
			{Name: "method", Type: "string", Default: "GET"},
			{Name: "url", Type: "string", Required: true},
			{Name: "headers", Type: "object"},
			{Name: "query", Type: "object"},
			{Name: "body", Type: "any"},
			{Name: "bodyEncoding", Type: "string", Default: "json", Description: "json, form, text or raw"},
			{Name: "auth", Type: "object", Description: "bearer, basic or apiKey credentials"},
			{Name: "timeout", Type: "string", Description: "Duration string or milliseconds"},
			{Name: "followRedirects", Type: "boolean", Default: true},
			{Name: "maxRedirects", Type: "integer", Default: 10},
			{Name: "tlsSkipVerify", Type: "boolean", Default: false},
			{Name: "failOnErrorStatus", Type: "boolean", Default: false},
		},
		ParameterSchema: json.RawMessage(httpRequestSchema),
	}
}

func (n *HTTPRequestNode) Execute(ctx context.Context, ec ExecuteContext) ([]schema.Items, error) {
	items := ec.InputData(0)
	out := make(schema.Items, 0, len(items))

	for i := range items {
		if err := ctx.Err(); err != nil {
			return nil, schema.NewError(schema.ErrCodeCancelled, "http.request: cancelled").WithCause(err)
		}

		params := asRecord(ec.Resolve(ctx, ec.Node().Parameters, i))
		rec, err := n.do(ctx, params)
		if err != nil {
			ec.Logger().WarnContext(ctx, "http request item failed",
				"index", i,
				"error", err.Error(),
			)
			if rec == nil {
				rec = schema.Record{"statusCode": 0}
			}
			rec["error"] = err.Error()
		}
		out = append(out, rec)
	}
	return []schema.Items{out}, nil
}

// do performs one request. On failure it may return a partial record
// (e.g. the response of a failOnErrorStatus rejection) along with the error.
func (n *HTTPRequestNode) do(ctx context.Context, params map[string]any) (schema.Record, error) {
	method := strings.ToUpper(stringParam(params, "method", "GET"))
	rawURL := stringParam(params, "url", "")
	bodyEncoding := stringParam(params, "bodyEncoding", "json")
	followRedirects := boolParam(params, "followRedirects", true)
	maxRedirects := intParam(params, "maxRedirects", 10)
	tlsSkipVerify := boolParam(params, "tlsSkipVerify", false)
	failOnErrorStatus := boolParam(params, "failOnErrorStatus", false)
	timeout := durationParam(params, "timeout", n.config.DefaultTimeout)

	if rawURL == "" {
		return nil, fmt.Errorf("missing url")
	}
	u, err := url.ParseRequestURI(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid url %q", rawURL)
	}
	if query := mapParam(params, "query"); len(query) > 0 {
		q := u.Query()
		for k, v := range query {
			if expressions.IsUndefined(v) {
				continue
			}
			q.Set(k, expressions.ToString(v))
		}
		u.RawQuery = q.Encode()
	}

	bodyReader, contentType, err := encodeBody(params, bodyEncoding)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, u.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range mapParam(params, "headers") {
		if expressions.IsUndefined(v) {
			continue
		}
		req.Header.Set(k, expressions.ToString(v))
	}
	applyAuth(req, mapParam(params, "auth"))

	client := n.client(tlsSkipVerify, followRedirects, maxRedirects)

	start := time.Now()
	resp, err := client.Do(req)
	durationMs := time.Since(start).Milliseconds()
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, n.config.MaxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	respContentType := resp.Header.Get("Content-Type")
	respHeaders := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	rec := schema.Record{
		"statusCode":  resp.StatusCode,
		"status":      resp.Status,
		"headers":     respHeaders,
		"body":        parseBody(bodyBytes, respContentType),
		"contentType": respContentType,
		"durationMs":  durationMs,
	}

	if failOnErrorStatus && resp.StatusCode >= 400 {
		return rec, fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return rec, nil
}

func (n *HTTPRequestNode) client(tlsSkipVerify, followRedirects bool, maxRedirects int) *http.Client {
	var transport http.RoundTripper
	if n.config.Transport != nil {
		transport = n.config.Transport
	} else {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if tlsSkipVerify {
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		transport = t
	}
	client := &http.Client{Transport: transport}

	if !followRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	} else if maxRedirects > 0 {
		limit := maxRedirects
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if len(via) >= limit {
				return fmt.Errorf("stopped after %d redirects", limit)
			}
			return nil
		}
	}
	return client
}

func encodeBody(params map[string]any, encoding string) (io.Reader, string, error) {
	rawBody, ok := lookup(params, "body")
	if !ok {
		return nil, "", nil
	}
	switch encoding {
	case "form":
		formData, ok := rawBody.(map[string]any)
		if !ok {
			return nil, "", fmt.Errorf("form body must be an object, got %T", rawBody)
		}
		vals := url.Values{}
		for k, v := range formData {
			vals.Set(k, expressions.ToString(v))
		}
		return strings.NewReader(vals.Encode()), "application/x-www-form-urlencoded", nil
	case "text":
		return strings.NewReader(expressions.ToString(rawBody)), "text/plain", nil
	case "raw":
		return strings.NewReader(expressions.ToString(rawBody)), "", nil
	default: // json
		b, err := json.Marshal(rawBody)
		if err != nil {
			return nil, "", fmt.Errorf("marshal body as JSON: %w", err)
		}
		return strings.NewReader(string(b)), "application/json", nil
	}
}

func applyAuth(req *http.Request, auth map[string]any) {
	if auth == nil {
		return
	}
	switch stringParam(auth, "type", "") {
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+stringParam(auth, "token", ""))
	case "basic":
		req.SetBasicAuth(stringParam(auth, "username", ""), stringParam(auth, "password", ""))
	case "apiKey":
		if name := stringParam(auth, "headerName", ""); name != "" {
			req.Header.Set(name, stringParam(auth, "headerValue", ""))
		}
	}
}

func parseBody(b []byte, contentType string) any {
	if len(b) == 0 {
		return nil
	}
	if strings.Contains(contentType, "application/json") {
		var v any
		if err := json.Unmarshal(b, &v); err == nil {
			return v
		}
	}
	return string(b)
}

// Package apicall builds and issues one HTTP call per triggered API
// configuration. Every failure mode is captured in the Result; Execute
// never returns an error to the calling flow.
package apicall

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cexll/assisthub-go/pkg/assistant"
	"github.com/cexll/assisthub-go/pkg/telemetry"
	"github.com/cexll/assisthub-go/pkg/template"
)

const defaultTimeout = 30 * time.Second

// Result is the outcome of one external call.
type Result struct {
	Success bool   `json:"success"`
	Data    string `json:"data,omitempty"`  // text, or base64 when Type is image
	Error   string `json:"error,omitempty"` // set when Success is false
	Status  int    `json:"status,omitempty"`
	Type    string `json:"type"` // "text" or "image"
}

// Executor issues external API calls. The client's timeout bounds each
// call; callers additionally pass a context for cancellation.
type Executor struct {
	client *http.Client
	log    *zap.Logger
}

// NewExecutor builds an Executor. Passing a nil client installs one with a
// 30 second timeout.
func NewExecutor(client *http.Client, log *zap.Logger) *Executor {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{client: client, log: log}
}

// Execute performs one call described by api against the parameter bag.
// Template or JSON errors degrade (that portion of the request is omitted);
// network and HTTP errors come back as a failed Result.
func (e *Executor) Execute(ctx context.Context, api assistant.APIConfig, bag map[string]any) Result {
	ctx, span := telemetry.StartSpan(ctx, "apicall.execute",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.SanitizeAttributes(
			attribute.String("api.name", api.Name),
			attribute.String("api.method", api.Method),
		)...),
	)
	defer span.End()

	bag = template.CollapseNewlines(bag)

	endpoint, err := url.Parse(api.Endpoint)
	if err != nil {
		return failure(0, fmt.Sprintf("invalid endpoint: %v", err))
	}

	query := endpoint.Query()
	e.applyQueryTemplate(api, bag, query)

	method := strings.ToUpper(strings.TrimSpace(api.Method))
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	contentType := ""
	if api.BodyTemplate != "" && method != http.MethodGet {
		if rendered, ok := e.renderJSON(api.BodyTemplate, bag, "body"); ok {
			body = bytes.NewReader(rendered)
			contentType = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return failure(0, fmt.Sprintf("build request: %v", err))
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range api.Headers {
		req.Header.Set(k, v)
	}
	applyAuth(req, query, api, bag)
	req.URL.RawQuery = query.Encode()

	resp, err := e.client.Do(req)
	if err != nil {
		e.log.Warn("external call failed", zap.String("api", api.Name), zap.Error(err))
		return failure(0, err.Error())
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure(resp.StatusCode, fmt.Sprintf("read response: %v", err))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return failure(resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	if api.ResponseType == assistant.ResponseImage && api.ImageDataPath != "" {
		if res, ok := template.ResolvePath(payload, api.ImageDataPath); ok {
			if img := imageData(res.String()); img != "" {
				return Result{Success: true, Data: img, Status: resp.StatusCode, Type: "image"}
			}
		}
		e.log.Warn("image path walk failed, falling back to text",
			zap.String("api", api.Name), zap.String("path", api.ImageDataPath))
	}

	return Result{
		Success: true,
		Data:    e.renderResponse(api, payload, bag),
		Status:  resp.StatusCode,
		Type:    "text",
	}
}

// applyQueryTemplate evaluates the query template into query. Failures log
// and leave query untouched.
func (e *Executor) applyQueryTemplate(api assistant.APIConfig, bag map[string]any, query url.Values) {
	if api.QueryTemplate == "" {
		return
	}
	rendered, ok := e.renderJSON(api.QueryTemplate, bag, "query")
	if !ok {
		return
	}
	var params map[string]any
	if err := json.Unmarshal(rendered, &params); err != nil {
		e.log.Warn("query template is not a JSON object", zap.String("api", api.Name), zap.Error(err))
		return
	}
	for k, v := range params {
		query.Set(k, stringify(v))
	}
}

// renderJSON evaluates a template and checks the result parses as JSON.
func (e *Executor) renderJSON(tpl string, bag map[string]any, kind string) ([]byte, bool) {
	out, err := template.Eval(tpl, bag)
	if err != nil {
		e.log.Warn("template evaluation failed", zap.String("part", kind), zap.Error(err))
		return nil, false
	}
	if !json.Valid([]byte(out)) {
		e.log.Warn("template output is not valid JSON", zap.String("part", kind))
		return nil, false
	}
	return []byte(out), true
}

// applyAuth injects credentials according to the configured auth type. A
// caller-supplied apiKey parameter overrides the stored bearer token.
func applyAuth(req *http.Request, query url.Values, api assistant.APIConfig, bag map[string]any) {
	switch api.AuthType {
	case assistant.AuthBearer:
		token := api.Auth.Token
		if v, ok := bag["apiKey"].(string); ok && v != "" {
			token = v
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	case assistant.AuthBasic:
		creds := base64.StdEncoding.EncodeToString(
			[]byte(api.Auth.Username + ":" + api.Auth.Password))
		req.Header.Set("Authorization", "Basic "+creds)
	case assistant.AuthAPIKey:
		if api.Auth.Key == "" {
			return
		}
		if api.Auth.InHeader {
			req.Header.Set(api.Auth.Key, api.Auth.Value)
		} else {
			query.Set(api.Auth.Key, api.Auth.Value)
		}
	}
}

// renderResponse formats the response payload: response template when set,
// raw JSON stringification otherwise.
func (e *Executor) renderResponse(api assistant.APIConfig, payload []byte, bag map[string]any) string {
	if api.ResponseTemplate != "" {
		var parsed any
		if err := json.Unmarshal(payload, &parsed); err == nil {
			out, err := template.Eval(api.ResponseTemplate, map[string]any{
				"response": parsed,
				"params":   bag,
			})
			if err == nil {
				return out
			}
			e.log.Warn("response template failed", zap.String("api", api.Name), zap.Error(err))
		}
	}
	if json.Valid(payload) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, payload); err == nil {
			return buf.String()
		}
	}
	return string(payload)
}

// imageData strips a data-URL prefix if present; the stored artifact is
// plain base64.
func imageData(v string) string {
	v = strings.TrimSpace(v)
	if idx := strings.Index(v, "base64,"); idx >= 0 {
		v = v[idx+len("base64,"):]
	}
	return v
}

func failure(status int, msg string) Result {
	return Result{Success: false, Error: msg, Status: status, Type: "text"}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

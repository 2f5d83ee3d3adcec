package apicall

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cexll/assisthub-go/pkg/assistant"
)

type captured struct {
	method string
	path   string
	query  map[string]string
	header http.Header
	body   string
}

func newCaptureServer(t *testing.T, status int, response string, got *captured) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got.method = r.Method
		got.path = r.URL.Path
		got.query = map[string]string{}
		for k := range r.URL.Query() {
			got.query[k] = r.URL.Query().Get(k)
		}
		got.header = r.Header.Clone()
		got.body = string(body)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
}

func TestExecuteQueryTemplateAndBearer(t *testing.T) {
	t.Parallel()
	var got captured
	srv := newCaptureServer(t, http.StatusOK, `{"weather":"sunny"}`, &got)
	defer srv.Close()

	api := assistant.APIConfig{
		Name:          "weather",
		Endpoint:      srv.URL + "/v1/forecast?units=metric",
		Method:        "GET",
		QueryTemplate: `{"q": "{{prompt}}", "days": {{days}}}`,
		AuthType:      assistant.AuthBearer,
		Auth:          assistant.AuthConfig{Token: "stored-token"},
	}
	e := NewExecutor(srv.Client(), nil)
	res := e.Execute(context.Background(), api, map[string]any{
		"prompt": "kyoto\ntomorrow",
		"days":   float64(3),
	})
	if !res.Success || res.Type != "text" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got.query["q"] != "kyoto tomorrow" {
		t.Fatalf("newlines must collapse before templating: %q", got.query["q"])
	}
	if got.query["days"] != "3" {
		t.Fatalf("numeric query value: %q", got.query["days"])
	}
	if got.query["units"] != "metric" {
		t.Fatal("endpoint query params must survive")
	}
	if got.header.Get("Authorization") != "Bearer stored-token" {
		t.Fatalf("bearer header: %q", got.header.Get("Authorization"))
	}
	if res.Data != `{"weather":"sunny"}` {
		t.Fatalf("data: %q", res.Data)
	}
}

func TestExecuteBearerOverrideFromBag(t *testing.T) {
	t.Parallel()
	var got captured
	srv := newCaptureServer(t, http.StatusOK, `{}`, &got)
	defer srv.Close()

	api := assistant.APIConfig{
		Endpoint: srv.URL,
		AuthType: assistant.AuthBearer,
		Auth:     assistant.AuthConfig{Token: "stored"},
	}
	e := NewExecutor(srv.Client(), nil)
	e.Execute(context.Background(), api, map[string]any{"apiKey": "override"})
	if got.header.Get("Authorization") != "Bearer override" {
		t.Fatalf("bag apiKey must win: %q", got.header.Get("Authorization"))
	}
}

func TestExecuteBasicAndAPIKeyAuth(t *testing.T) {
	t.Parallel()
	var got captured
	srv := newCaptureServer(t, http.StatusOK, `{}`, &got)
	defer srv.Close()
	e := NewExecutor(srv.Client(), nil)

	e.Execute(context.Background(), assistant.APIConfig{
		Endpoint: srv.URL,
		AuthType: assistant.AuthBasic,
		Auth:     assistant.AuthConfig{Username: "u", Password: "p"},
	}, map[string]any{})
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("u:p"))
	if got.header.Get("Authorization") != want {
		t.Fatalf("basic auth: %q", got.header.Get("Authorization"))
	}

	e.Execute(context.Background(), assistant.APIConfig{
		Endpoint: srv.URL,
		AuthType: assistant.AuthAPIKey,
		Auth:     assistant.AuthConfig{Key: "X-Api-Key", Value: "secret", InHeader: true},
	}, map[string]any{})
	if got.header.Get("X-Api-Key") != "secret" {
		t.Fatalf("header api key: %q", got.header.Get("X-Api-Key"))
	}

	e.Execute(context.Background(), assistant.APIConfig{
		Endpoint: srv.URL,
		AuthType: assistant.AuthAPIKey,
		Auth:     assistant.AuthConfig{Key: "key", Value: "secret"},
	}, map[string]any{})
	if got.query["key"] != "secret" {
		t.Fatalf("query api key: %q", got.query["key"])
	}
}

func TestExecutePostBodyTemplate(t *testing.T) {
	t.Parallel()
	var got captured
	srv := newCaptureServer(t, http.StatusOK, `{}`, &got)
	defer srv.Close()

	api := assistant.APIConfig{
		Endpoint:     srv.URL + "/generate",
		Method:       "POST",
		BodyTemplate: `{"prompt": "{{prompt}}", "n": 1}`,
	}
	e := NewExecutor(srv.Client(), nil)
	e.Execute(context.Background(), api, map[string]any{"prompt": `say "hi"`})
	if got.method != http.MethodPost {
		t.Fatalf("method: %s", got.method)
	}
	if got.header.Get("Content-Type") != "application/json" {
		t.Fatalf("content type: %q", got.header.Get("Content-Type"))
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(got.body), &body); err != nil {
		t.Fatalf("body is not valid JSON: %v\n%s", err, got.body)
	}
	if body["prompt"] != `say "hi"` {
		t.Fatalf("prompt escaping: %v", body["prompt"])
	}
}

func TestExecuteBadBodyTemplateDegrades(t *testing.T) {
	t.Parallel()
	var got captured
	srv := newCaptureServer(t, http.StatusOK, `{}`, &got)
	defer srv.Close()

	api := assistant.APIConfig{
		Endpoint:     srv.URL,
		Method:       "POST",
		BodyTemplate: `{"prompt": "{{missing}}"}`,
	}
	e := NewExecutor(srv.Client(), nil)
	res := e.Execute(context.Background(), api, map[string]any{"prompt": "x"})
	if !res.Success {
		t.Fatalf("template miss must not fail the call: %+v", res)
	}
	if got.body != "" {
		t.Fatalf("body must be omitted: %q", got.body)
	}
}

func TestExecuteHTTPErrorStatus(t *testing.T) {
	t.Parallel()
	var got captured
	srv := newCaptureServer(t, http.StatusUnauthorized, `{"error":"bad key"}`, &got)
	defer srv.Close()

	e := NewExecutor(srv.Client(), nil)
	res := e.Execute(context.Background(), assistant.APIConfig{Endpoint: srv.URL}, map[string]any{})
	if res.Success {
		t.Fatal("4xx must fail")
	}
	if res.Status != http.StatusUnauthorized || !strings.Contains(res.Error, "bad key") {
		t.Fatalf("unexpected failure detail: %+v", res)
	}
}

func TestExecuteImagePath(t *testing.T) {
	t.Parallel()
	var got captured
	payload := `{"data":[{"b64_json":"data:image/png;base64,aGVsbG8="}]}`
	srv := newCaptureServer(t, http.StatusOK, payload, &got)
	defer srv.Close()

	api := assistant.APIConfig{
		Endpoint:      srv.URL,
		ResponseType:  assistant.ResponseImage,
		ImageDataPath: "data[0].b64_json",
	}
	e := NewExecutor(srv.Client(), nil)
	res := e.Execute(context.Background(), api, map[string]any{})
	if !res.Success || res.Type != "image" {
		t.Fatalf("expected image result: %+v", res)
	}
	if res.Data != "aGVsbG8=" {
		t.Fatalf("data-URL prefix must be stripped: %q", res.Data)
	}
}

func TestExecuteImagePathMissFallsBackToText(t *testing.T) {
	t.Parallel()
	var got captured
	srv := newCaptureServer(t, http.StatusOK, `{"data":[]}`, &got)
	defer srv.Close()

	api := assistant.APIConfig{
		Endpoint:      srv.URL,
		ResponseType:  assistant.ResponseImage,
		ImageDataPath: "data[0].b64_json",
	}
	e := NewExecutor(srv.Client(), nil)
	res := e.Execute(context.Background(), api, map[string]any{})
	if !res.Success || res.Type != "text" {
		t.Fatalf("expected text fallback: %+v", res)
	}
}

func TestExecuteResponseTemplate(t *testing.T) {
	t.Parallel()
	var got captured
	srv := newCaptureServer(t, http.StatusOK, `{"current":{"temp_c":21.5}}`, &got)
	defer srv.Close()

	api := assistant.APIConfig{
		Endpoint:         srv.URL,
		ResponseTemplate: `Temperature: {{response.current.temp_c}} C (asked: {{params.prompt}})`,
	}
	e := NewExecutor(srv.Client(), nil)
	res := e.Execute(context.Background(), api, map[string]any{"prompt": "kyoto"})
	if res.Data != "Temperature: 21.5 C (asked: kyoto)" {
		t.Fatalf("rendered response: %q", res.Data)
	}
}

func TestExecuteNetworkFailure(t *testing.T) {
	t.Parallel()
	e := NewExecutor(nil, nil)
	res := e.Execute(context.Background(), assistant.APIConfig{
		Endpoint: "http://127.0.0.1:1",
	}, map[string]any{})
	if res.Success || res.Error == "" {
		t.Fatalf("expected network failure result: %+v", res)
	}
}

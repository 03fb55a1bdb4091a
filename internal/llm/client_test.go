package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/cognicore/gloss/pkg/gloss/annotate"
)

type roundTrip func(*http.Request) *http.Response

func (rt roundTrip) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt(req), nil
}

func newClient(rt roundTrip) *Client {
	return &Client{
		BaseURL:    "https://api.test/v1/chat/completions",
		Model:      "gpt-test",
		APIKey:     "sk-test",
		HTTPClient: &http.Client{Transport: rt},
	}
}

func TestAnnotateSuccess(t *testing.T) {
	client := newClient(func(req *http.Request) *http.Response {
		if got := req.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		body, _ := io.ReadAll(req.Body)
		if !strings.Contains(string(body), `"json_object"`) {
			t.Error("request missing response_format json_object")
		}
		if !strings.Contains(string(body), "annotate me") {
			t.Error("request missing the prompt")
		}
		return &http.Response{
			StatusCode: 200,
			Body: io.NopCloser(strings.NewReader(
				`{"choices":[{"message":{"role":"assistant","content":"{\"wordData\":{}}"}}]}`)),
			Header: make(http.Header),
		}
	})

	out, err := client.Annotate(context.Background(), "annotate me")
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	if out != `{"wordData":{}}` {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestAnnotateStatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{429, true},
		{500, true},
		{503, true},
		{400, false},
		{401, false},
	}
	for _, tc := range cases {
		client := newClient(func(req *http.Request) *http.Response {
			return &http.Response{
				StatusCode: tc.status,
				Body:       io.NopCloser(strings.NewReader(`{"error":{"message":"nope"}}`)),
				Header:     make(http.Header),
			}
		})
		_, err := client.Annotate(context.Background(), "p")
		var te *annotate.TransportError
		if !errors.As(err, &te) {
			t.Fatalf("status %d: error %v is not a TransportError", tc.status, err)
		}
		if te.Status != tc.status || te.Retryable != tc.retryable {
			t.Errorf("status %d: got {Status:%d Retryable:%v}, want retryable=%v",
				tc.status, te.Status, te.Retryable, tc.retryable)
		}
	}
}

func TestAnnotateBlockedReplyDegradesToEmpty(t *testing.T) {
	bodies := []string{
		`{"choices":[]}`,
		`{"choices":[{"message":{"role":"assistant","content":""},"finish_reason":"content_filter"}]}`,
		`{"choices":[{"message":{"role":"assistant","content":""}}]}`,
	}
	for _, body := range bodies {
		client := newClient(func(req *http.Request) *http.Response {
			return &http.Response{
				StatusCode: 200,
				Body:       io.NopCloser(strings.NewReader(body)),
				Header:     make(http.Header),
			}
		})
		out, err := client.Annotate(context.Background(), "p")
		if err != nil {
			t.Fatalf("Annotate: %v", err)
		}
		if out != emptyAnnotation {
			t.Errorf("body %s: got %q, want empty annotation object", body, out)
		}
		if _, err := annotate.ParseResponse(out); err != nil {
			t.Errorf("empty annotation does not parse: %v", err)
		}
	}
}

func TestAnnotateAPILevelError(t *testing.T) {
	client := newClient(func(req *http.Request) *http.Response {
		return &http.Response{
			StatusCode: 200,
			Body:       io.NopCloser(strings.NewReader(`{"error":{"message":"quota"}}`)),
			Header:     make(http.Header),
		}
	})
	_, err := client.Annotate(context.Background(), "p")
	var te *annotate.TransportError
	if !errors.As(err, &te) || !te.Retryable {
		t.Fatalf("want retryable TransportError, got %v", err)
	}
}

func TestAnnotateRequiresConfig(t *testing.T) {
	client := &Client{}
	if _, err := client.Annotate(context.Background(), "p"); err == nil {
		t.Fatal("expected configuration error")
	}
}

package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/genai"

	"promptforge-server/modules/common/config"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(context.Background(), &config.Config{
		GeminiAPIKey:  "test-key",
		GeminiModel:   "gemini-2.5-flash",
		GeminiBaseURL: baseURL,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func userContents() []*genai.Content {
	return []*genai.Content{genai.NewContentFromText("hello", genai.RoleUser)}
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), &config.Config{GeminiModel: "gemini-2.5-flash"})
	if err == nil {
		t.Fatal("NewClient() error = nil, want error for missing key")
	}
}

func TestGenerateReturnsText(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %s, want POST", r.Method)
		}
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"  {\"ok\":true}\n"}]}}]}`)
	}))
	defer server.Close()

	c := newTestClient(t, server.URL)
	text, err := c.Generate(context.Background(), userContents(), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != `{"ok":true}` {
		t.Errorf("text = %q, want trimmed JSON", text)
	}
	if !strings.HasSuffix(gotPath, "/models/gemini-2.5-flash:generateContent") {
		t.Errorf("path = %q", gotPath)
	}
	if gotKey != "test-key" {
		t.Errorf("x-goog-api-key = %q", gotKey)
	}
	if _, ok := gotBody["contents"]; !ok {
		t.Errorf("request body has no contents: %v", gotBody)
	}
}

func TestGenerateEmptyCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates":[]}`)
	}))
	defer server.Close()

	text, err := newTestClient(t, server.URL).Generate(context.Background(), userContents(), nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "" {
		t.Errorf("text = %q, want empty", text)
	}
}

func TestGenerateErrorKinds(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
	}{
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   `{"error":{"code":401,"message":"unauthenticated","status":"UNAUTHENTICATED"}}`,
			want:   KindAuth,
		},
		{
			name:   "invalid api key",
			status: http.StatusBadRequest,
			body:   `{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`,
			want:   KindAuth,
		},
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"code":429,"message":"quota exceeded","status":"RESOURCE_EXHAUSTED"}}`,
			want:   KindRateLimit,
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   `{"error":{"code":500,"message":"internal","status":"INTERNAL"}}`,
			want:   KindServer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer server.Close()

			_, err := newTestClient(t, server.URL).Generate(context.Background(), userContents(), nil)
			var gwErr *GatewayError
			if !errors.As(err, &gwErr) {
				t.Fatalf("error = %v, want *GatewayError", err)
			}
			if gwErr.Kind != tt.want {
				t.Errorf("Kind = %s, want %s", gwErr.Kind, tt.want)
			}
		})
	}
}

func TestGenerateNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(t, url).Generate(context.Background(), userContents(), nil)
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) {
		t.Fatalf("error = %v, want *GatewayError", err)
	}
	if gwErr.Kind != KindNetwork {
		t.Errorf("Kind = %s, want %s", gwErr.Kind, KindNetwork)
	}
}

type fakeGenerator struct {
	err error
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return nil, ctx.Err()
}

func TestGenerateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClientWithGenerator(&fakeGenerator{err: context.Canceled}, "m")
	_, err := c.Generate(ctx, userContents(), nil)
	var gwErr *GatewayError
	if !errors.As(err, &gwErr) || gwErr.Kind != KindCancelled {
		t.Fatalf("error = %v, want cancelled GatewayError", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Error("errors.Is(err, context.Canceled) = false")
	}
}

func TestGenerateNilResponse(t *testing.T) {
	c := NewClientWithGenerator(&fakeGenerator{}, "m")
	text, err := c.Generate(context.Background(), userContents(), nil)
	if err != nil || text != "" {
		t.Fatalf("Generate() = %q, %v; want empty text, nil", text, err)
	}
}

package gemini

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"promptforge-server/modules/common/config"
	"promptforge-server/modules/common/metrics"
)

// ContentGenerator - genai.Models 중 우리가 쓰는 부분
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client - 외부 추론 서비스와의 유일한 접점. 재시도 없음.
type Client struct {
	models ContentGenerator
	model  string
}

// NewClient - Gemini API 클라이언트 생성
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("gemini API key is not configured")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.GeminiBaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.GeminiBaseURL}
	}

	genaiClient, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	log.Printf("✅ [Gemini] Client initialized (model=%s)", cfg.GeminiModel)
	return NewClientWithGenerator(genaiClient.Models, cfg.GeminiModel), nil
}

// NewClientWithGenerator wraps an existing generator; tests pass fakes here.
func NewClientWithGenerator(models ContentGenerator, model string) *Client {
	return &Client{models: models, model: model}
}

// Model - 사용하는 Gemini 모델명
func (c *Client) Model() string {
	return c.model
}

// Generate - 요청 1회 전송 후 응답 텍스트 반환
// 실패는 모두 *GatewayError로 반환된다. Kind는 로그/메트릭 용도.
func (c *Client) Generate(ctx context.Context, contents []*genai.Content, genConfig *genai.GenerateContentConfig) (string, error) {
	log.Printf("📤 [Gemini] Calling %s with %d content(s)...", c.model, len(contents))

	start := time.Now()
	result, err := c.models.GenerateContent(ctx, c.model, contents, genConfig)
	metrics.GatewayLatencySeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		gwErr := &GatewayError{Kind: classify(ctx, err), Err: err}
		metrics.GatewayErrorsTotal.WithLabelValues(string(gwErr.Kind)).Inc()
		log.Printf("❌ [Gemini] Call failed after %s (kind=%s): %v", time.Since(start).Round(time.Millisecond), gwErr.Kind, err)
		return "", gwErr
	}

	text := ""
	if result != nil {
		text = strings.TrimSpace(result.Text())
	}

	log.Printf("✅ [Gemini] Response received in %s (%d chars)", time.Since(start).Round(time.Millisecond), len(text))
	return text, nil
}

// ErrorKind - 게이트웨이 실패 분류 (사용자에게는 구분하지 않음)
type ErrorKind string

const (
	KindNetwork   ErrorKind = "network"
	KindAuth      ErrorKind = "auth"
	KindRateLimit ErrorKind = "rate_limit"
	KindRequest   ErrorKind = "request"
	KindServer    ErrorKind = "server"
	KindCancelled ErrorKind = "cancelled"
	KindUnknown   ErrorKind = "unknown"
)

// GatewayError - 네트워크/인증/서비스 측 실패
type GatewayError struct {
	Kind ErrorKind
	Err  error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gemini %s error: %v", e.Kind, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// classify - 에러 종류 판별
func classify(ctx context.Context, err error) ErrorKind {
	if errors.Is(err, context.Canceled) || ctx.Err() == context.Canceled {
		return KindCancelled
	}

	if code, ok := statusCode(err); ok {
		switch {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return KindAuth
		case code == http.StatusTooManyRequests:
			return KindRateLimit
		case code >= 500:
			return KindServer
		case code >= 400:
			// Gemini는 잘못된 키를 400 INVALID_ARGUMENT로 돌려줌
			if strings.Contains(strings.ToLower(err.Error()), "api key") {
				return KindAuth
			}
			return KindRequest
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}

	// 상태 코드를 못 찾으면 메시지 패턴으로
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "quota"):
		return KindRateLimit
	case strings.Contains(errStr, "api key") || strings.Contains(errStr, "permission"):
		return KindAuth
	case strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") || strings.Contains(errStr, "eof"):
		return KindNetwork
	}
	return KindUnknown
}

func statusCode(err error) (int, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, true
	}
	return 0, false
}

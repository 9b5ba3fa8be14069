package promptforge

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"google.golang.org/genai"

	"promptforge-server/modules/common/gemini"
	"promptforge-server/modules/common/metrics"
	"promptforge-server/modules/common/model"
)

// Gateway - AI Gateway Client (gemini.Client)
type Gateway interface {
	Generate(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (string, error)
}

// Analyzer - 이미지 → 분석 결과. Controller가 사용
type Analyzer interface {
	Analyze(ctx context.Context, image io.Reader, mediaType string) (*model.AnalysisResult, error)
}

// Service - encoder → request builder → gateway → parser
type Service struct {
	gateway Gateway
	schema  *ResponseSchema
	opts    ParseOptions
}

// NewService - 서비스 생성
func NewService(gateway Gateway, opts ParseOptions) *Service {
	return &Service{
		gateway: gateway,
		schema:  NewResponseSchema(),
		opts:    opts,
	}
}

// Schema - 요청/파서가 공유하는 스키마
func (s *Service) Schema() *ResponseSchema {
	return s.schema
}

// Analyze runs one analysis. Failures are returned as *gemini.GatewayError,
// *ParseError, or a wrapped read error; there is no retry.
func (s *Service) Analyze(ctx context.Context, image io.Reader, mediaType string) (*model.AnalysisResult, error) {
	start := time.Now()

	encoded, err := EncodeImage(image, mediaType)
	if err != nil {
		log.Printf("❌ [PromptForge] %v", err)
		metrics.AnalysesTotal.WithLabelValues(OutcomeLabel(err)).Inc()
		return nil, err
	}

	log.Printf("🎨 [PromptForge] Analyzing image: %s, %d bytes", encoded.MediaType, len(encoded.Data))

	req := BuildRequest(encoded, s.schema)

	text, err := s.gateway.Generate(ctx, req.Contents, req.Config)
	if err != nil {
		log.Printf("❌ [PromptForge] Gemini call failed: %v", err)
		metrics.AnalysesTotal.WithLabelValues(OutcomeLabel(err)).Inc()
		return nil, err
	}

	result, err := ParseResponse(text, s.schema, s.opts)
	if err != nil {
		metrics.AnalysesTotal.WithLabelValues(OutcomeLabel(err)).Inc()
		return nil, err
	}

	log.Printf("✅ [PromptForge] Analysis completed in %s: subjects=%d, colors=%d",
		time.Since(start).Round(time.Millisecond), len(result.Analysis.MainSubjects), len(result.Analysis.ColorPalette))
	metrics.AnalysesTotal.WithLabelValues(OutcomeSuccess).Inc()

	return result, nil
}

const (
	OutcomeSuccess        = "success"
	OutcomeTransportError = "transport_error"
	OutcomeParseError     = "parse_error"
	OutcomeReadError      = "read_error"
	OutcomeCancelled      = "cancelled"
)

// OutcomeLabel - 로그/메트릭용 실패 분류. 사용자 메시지는 항상 model.FailureMessage
func OutcomeLabel(err error) string {
	if err == nil {
		return OutcomeSuccess
	}

	var gwErr *gemini.GatewayError
	var parseErr *ParseError
	switch {
	case errors.As(err, &parseErr):
		return OutcomeParseError
	case errors.As(err, &gwErr):
		if gwErr.Kind == gemini.KindCancelled {
			return OutcomeCancelled
		}
		return OutcomeTransportError
	case errors.Is(err, context.Canceled):
		return OutcomeCancelled
	}
	return OutcomeReadError
}

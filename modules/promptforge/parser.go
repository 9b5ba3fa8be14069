package promptforge

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"promptforge-server/modules/common/model"
)

// ParseOptions - 파서 옵션
type ParseOptions struct {
	// StripFences removes one surrounding ``` / ```json fence before validation.
	// Off by default: a fenced reply violates the contract and fails.
	StripFences bool
}

// ParseError - 응답이 JSON이 아니거나 스키마와 다름. 원문을 보존한다.
type ParseError struct {
	RawText string
	Reason  string
}

func (e *ParseError) Error() string {
	return "invalid model response: " + e.Reason
}

// ParseResponse turns the model's reply into an AnalysisResult. It never panics:
// any failure yields a nil result and a *ParseError, never a partial structure.
func ParseResponse(text string, schema *ResponseSchema, opts ParseOptions) (result *model.AnalysisResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, &ParseError{RawText: text, Reason: fmt.Sprintf("panic while parsing: %v", r)}
		}
		if err != nil {
			log.Printf("❌ [Parser] Failed to parse Gemini response: %v", err)
			log.Printf("❌ [Parser] Raw response text: %s", text)
		}
	}()

	body := strings.TrimSpace(text)
	if opts.StripFences {
		body = stripCodeFence(body)
	}

	if body == "" {
		return nil, &ParseError{RawText: text, Reason: "empty response"}
	}

	if err := schema.Validate([]byte(body)); err != nil {
		return nil, &ParseError{RawText: text, Reason: err.Error()}
	}

	var parsed model.AnalysisResult
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		return nil, &ParseError{RawText: text, Reason: err.Error()}
	}

	return &parsed, nil
}

// stripCodeFence - ```json ... ``` 로 감싸진 경우 안쪽만 반환
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}

	inner := strings.TrimSuffix(strings.TrimPrefix(s, "```"), "```")

	// 언어 식별자 제거 (첫 줄, 또는 한 줄 fence면 본문 앞 토큰)
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
		lang := strings.TrimSpace(inner[:nl])
		if lang == "" || !strings.ContainsAny(lang, "{[") {
			inner = inner[nl+1:]
		}
	} else if i := strings.IndexAny(inner, "{["); i > 0 {
		lang := strings.TrimSpace(inner[:i])
		if lang != "" && !strings.ContainsAny(lang, " \t\"") {
			inner = inner[i:]
		}
	}

	return strings.TrimSpace(inner)
}

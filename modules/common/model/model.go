package model

// ImageAnalysis - 이미지 분석 결과 (analysis 필드)
type ImageAnalysis struct {
	MainSubjects []string `json:"mainSubjects" yaml:"mainSubjects"`
	Setting      string   `json:"setting" yaml:"setting"`
	Mood         string   `json:"mood" yaml:"mood"`
	Style        string   `json:"style" yaml:"style"`
	ColorPalette []string `json:"colorPalette" yaml:"colorPalette"`
}

// GeneratedPrompts - 스타일별 프롬프트 4종 (prompts 필드)
type GeneratedPrompts struct {
	Realistic   string `json:"realistic" yaml:"realistic"`
	Fantastical string `json:"fantastical" yaml:"fantastical"`
	Stylistic   string `json:"stylistic" yaml:"stylistic"`
	Cinematic   string `json:"cinematic" yaml:"cinematic"`
}

// AnalysisResult - 분석 + 프롬프트. 둘 다 있거나 결과 자체가 없음 (부분 결과 없음)
type AnalysisResult struct {
	Analysis ImageAnalysis    `json:"analysis" yaml:"analysis"`
	Prompts  GeneratedPrompts `json:"prompts" yaml:"prompts"`
}

// PromptEntry - 카드 렌더링용 (title, prompt)
type PromptEntry struct {
	Key    string `json:"key"`
	Title  string `json:"title"`
	Prompt string `json:"prompt"`
}

// Entries returns the prompts in display order.
func (p GeneratedPrompts) Entries() []PromptEntry {
	return []PromptEntry{
		{Key: "realistic", Title: "Realistic", Prompt: p.Realistic},
		{Key: "fantastical", Title: "Fantastical", Prompt: p.Fantastical},
		{Key: "stylistic", Title: "Stylistic", Prompt: p.Stylistic},
		{Key: "cinematic", Title: "Cinematic", Prompt: p.Cinematic},
	}
}

// Phase - 요청 라이프사이클 상태
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseLoading Phase = "loading"
	PhaseSuccess Phase = "success"
	PhaseFailure Phase = "failure"
)

// Settled - success/failure 도달 여부
func (p Phase) Settled() bool {
	return p == PhaseSuccess || p == PhaseFailure
}

// FailureMessage - 모든 실패 유형에 대해 사용자에게 보여주는 단일 메시지
const FailureMessage = "Failed to analyze the image. Please try again."

package promptforge

import (
	"time"

	"promptforge-server/modules/common/model"
)

// ForgeResponse - 분석 API 응답
type ForgeResponse struct {
	Success      bool                    `json:"success"`
	RequestID    string                  `json:"requestId,omitempty"`
	Analysis     *model.ImageAnalysis    `json:"analysis,omitempty"`
	Prompts      *model.GeneratedPrompts `json:"prompts,omitempty"`
	PromptCards  []model.PromptEntry     `json:"promptCards,omitempty"`
	ErrorMessage string                  `json:"errorMessage,omitempty"`
	Superseded   bool                    `json:"superseded,omitempty"`
}

// newForgeResponse - 정착된 상태를 응답으로 변환
func newForgeResponse(state State) ForgeResponse {
	resp := ForgeResponse{
		Success:      state.Phase == model.PhaseSuccess && !state.Superseded,
		RequestID:    state.RequestID,
		ErrorMessage: state.ErrorMessage,
		Superseded:   state.Superseded,
	}
	if state.Result != nil && !state.Superseded {
		resp.Analysis = &state.Result.Analysis
		resp.Prompts = &state.Result.Prompts
		resp.PromptCards = state.Result.Prompts.Entries()
	}
	return resp
}

// ServerStats - 세션 목록 응답
type ServerStats struct {
	Uptime         string        `json:"uptime"`
	StartTime      time.Time     `json:"startTime"`
	ActiveSessions int           `json:"activeSessions"`
	CurrentClients int           `json:"currentClients"`
	Sessions       []SessionInfo `json:"sessions"`
}

// CleanupResponse - 강제 정리 결과
type CleanupResponse struct {
	Status  string `json:"status"`
	Empty   int    `json:"empty"`
	Expired int    `json:"expired"`
}

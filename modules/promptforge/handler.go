package promptforge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"promptforge-server/modules/common/model"
	"promptforge-server/modules/common/utils"
)

// WebSocket upgrader
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// 개발용 - 모든 origin 허용
		return true
	},
}

type Handler struct {
	analyzer  Analyzer
	sessions  *SessionManager
	startTime time.Time
}

func NewHandler(analyzer Analyzer, sessions *SessionManager) *Handler {
	return &Handler{
		analyzer:  analyzer,
		sessions:  sessions,
		startTime: time.Now(),
	}
}

// RegisterRoutes - API / WebSocket 라우트 등록
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/analyze", h.Analyze).Methods("POST")
	r.HandleFunc("/api/sessions", h.ListSessions).Methods("GET")
	r.HandleFunc("/api/sessions/{sessionId}", h.GetSession).Methods("GET")
	r.HandleFunc("/api/sessions/{sessionId}/analyze", h.AnalyzeInSession).Methods("POST")
	r.HandleFunc("/api/sessions/{sessionId}/reset", h.ResetSession).Methods("POST")
	r.HandleFunc("/ws", h.HandleWebSocket)
	r.HandleFunc("/admin/cleanup", h.ForceCleanup).Methods("POST")
}

// Analyze - 세션 없는 단발 분석
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	up, status, err := readUpload(r)
	if err != nil {
		log.Printf("⚠️  [Handler] Rejected upload: %v", err)
		writeJSON(w, status, ForgeResponse{Success: false, ErrorMessage: err.Error()})
		return
	}

	requestID := uuid.NewString()
	log.Printf("📥 [Handler] Stateless analyze %s: %s (%s, %d bytes)", requestID, up.FileName, up.MediaType, len(up.Data))

	result, err := h.analyzer.Analyze(r.Context(), bytes.NewReader(up.Data), up.MediaType)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, ForgeResponse{
			Success:      false,
			RequestID:    requestID,
			ErrorMessage: model.FailureMessage,
		})
		return
	}

	writeJSON(w, http.StatusOK, newForgeResponse(State{
		Phase:     model.PhaseSuccess,
		RequestID: requestID,
		Result:    result,
	}))
}

// AnalyzeInSession - 세션에 업로드 (이전 요청은 대체됨)
func (h *Handler) AnalyzeInSession(w http.ResponseWriter, r *http.Request) {
	sessionId := mux.Vars(r)["sessionId"]

	up, status, err := readUpload(r)
	if err != nil {
		log.Printf("⚠️  [Handler] Session %s rejected upload: %v", sessionId, err)
		writeJSON(w, status, ForgeResponse{Success: false, ErrorMessage: err.Error()})
		return
	}

	session := h.sessions.GetOrCreateSession(sessionId)
	state := session.Controller().Submit(r.Context(), up)

	status = http.StatusOK
	switch {
	case state.Superseded:
		status = http.StatusConflict
	case state.Phase == model.PhaseFailure:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, newForgeResponse(state))
}

// ResetSession - 진행 중 요청 취소 후 idle
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	sessionId := mux.Vars(r)["sessionId"]

	session := h.sessions.GetSession(sessionId)
	if session == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
		return
	}

	writeJSON(w, http.StatusOK, session.Controller().Reset())
}

// GetSession - 세션 정보 + 현재 상태
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sessionId := mux.Vars(r)["sessionId"]

	session := h.sessions.GetSession(sessionId)
	if session == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found"})
		return
	}

	writeJSON(w, http.StatusOK, session.Info())
}

// ListSessions - 서버 통계 + 세션 목록
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	stats := ServerStats{
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		StartTime: h.startTime,
		Sessions:  []SessionInfo{},
	}
	for _, s := range h.sessions.Sessions() {
		info := s.Info()
		stats.CurrentClients += info.ClientCount
		stats.Sessions = append(stats.Sessions, info)
	}
	stats.ActiveSessions = len(stats.Sessions)

	writeJSON(w, http.StatusOK, stats)
}

// ForceCleanup - 세션 강제 정리 (관리자용)
func (h *Handler) ForceCleanup(w http.ResponseWriter, r *http.Request) {
	empty := h.sessions.CleanupEmptySessions()
	expired := h.sessions.CleanupExpiredSessions()

	writeJSON(w, http.StatusOK, CleanupResponse{
		Status:  "Cleanup completed",
		Empty:   empty,
		Expired: expired,
	})
}

// HandleWebSocket - 세션 상태 구독
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionId := r.URL.Query().Get("session")
	if sessionId == "" {
		log.Printf("Missing session parameter")
		http.Error(w, "Missing session parameter", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &Client{
		conn:      conn,
		sessionId: sessionId,
		clientId:  uuid.NewString(),
		send:      make(chan []byte, 256),
	}

	log.Printf("🔍 New WebSocket connection - Session: %s, Client: %s", sessionId, client.clientId)

	session := h.sessions.GetOrCreateSession(sessionId)
	session.AddClient(client)

	go client.writePump()
	go client.readPump(session)
}

// 클라이언트로부터 메시지 읽기
func (c *Client) readPump(session *Session) {
	defer func() {
		session.RemoveClient(c.clientId)
		c.conn.Close()
	}()

	for {
		var message Message
		err := c.conn.ReadJSON(&message)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		session.touch()

		switch message.Type {
		case "reset":
			log.Printf("Client %s requested reset of session %s", c.clientId, c.sessionId)
			session.Controller().Reset()
		default:
			log.Printf("Client %s sent unknown message type %q", c.clientId, message.Type)
		}
	}
}

// 클라이언트로 메시지 쓰기
func (c *Client) writePump() {
	defer c.conn.Close()

	for message := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			log.Printf("WebSocket write error: %v", err)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readUpload - multipart "image" 필드 또는 raw body에서 이미지 읽기
func readUpload(r *http.Request) (Upload, int, error) {
	var up Upload
	var declared string

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		file, header, err := r.FormFile("image")
		if err != nil {
			return up, http.StatusBadRequest, fmt.Errorf("missing image field: %w", err)
		}
		defer file.Close()

		up.Data, err = io.ReadAll(file)
		if err != nil {
			return up, http.StatusBadRequest, fmt.Errorf("failed to read upload: %w", err)
		}
		up.FileName = header.Filename
		declared = header.Header.Get("Content-Type")
	} else {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return up, http.StatusBadRequest, fmt.Errorf("failed to read upload: %w", err)
		}
		up.Data = data
		up.FileName = r.URL.Query().Get("filename")
		declared = r.Header.Get("Content-Type")
	}

	up.MediaType = utils.DetectImageType(declared, up.Data)
	if !utils.IsAcceptedImageType(up.MediaType) {
		return up, http.StatusUnsupportedMediaType, fmt.Errorf("unsupported image type: %s (accepted: PNG, JPEG, WEBP)", up.MediaType)
	}
	return up, http.StatusOK, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

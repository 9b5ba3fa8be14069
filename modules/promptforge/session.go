package promptforge

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"promptforge-server/modules/common/metrics"
)

// 세션 만료 기준
const (
	sessionExpiredThreshold  = 24 * time.Hour
	sessionInactiveThreshold = 2 * time.Hour
)

// Message - WebSocket 메시지
type Message struct {
	Type      string `json:"type"` // state, reset
	SessionId string `json:"sessionId,omitempty"`
	State     *State `json:"state,omitempty"`
}

// Client - 세션 상태를 구독하는 WebSocket 클라이언트
type Client struct {
	conn        *websocket.Conn
	sessionId   string
	clientId    string
	send        chan []byte
	unsubscribe func()
}

// Session - 업로드 세션 (컨트롤러 1개 + 구독 클라이언트들)
type Session struct {
	id           string
	controller   *Controller
	clients      map[string]*Client
	mutex        sync.RWMutex
	createdAt    time.Time
	lastActivity time.Time
}

// SessionManager - 세션 매니저
type SessionManager struct {
	sessions      map[string]*Session
	mutex         sync.RWMutex
	newController func(sessionId string) *Controller
}

// NewSessionManager - newController는 세션마다 호출됨
func NewSessionManager(newController func(sessionId string) *Controller) *SessionManager {
	return &SessionManager{
		sessions:      make(map[string]*Session),
		newController: newController,
	}
}

// GetOrCreateSession - 세션 가져오기 또는 생성
func (sm *SessionManager) GetOrCreateSession(sessionId string) *Session {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	session, exists := sm.sessions[sessionId]
	if !exists {
		now := time.Now()
		session = &Session{
			id:           sessionId,
			controller:   sm.newController(sessionId),
			clients:      make(map[string]*Client),
			createdAt:    now,
			lastActivity: now,
		}
		sm.sessions[sessionId] = session
		metrics.ActiveSessions.Set(float64(len(sm.sessions)))

		log.Printf("✅ Created new session: %s (Active: %d)", sessionId, len(sm.sessions))
	}

	session.touch()
	return session
}

// GetSession - 세션 조회 (없으면 nil)
func (sm *SessionManager) GetSession(sessionId string) *Session {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.sessions[sessionId]
}

// Sessions - 현재 세션 목록
func (sm *SessionManager) Sessions() []*Session {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	out := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		out = append(out, s)
	}
	return out
}

// Controller - 세션 컨트롤러
func (s *Session) Controller() *Controller {
	return s.controller
}

func (s *Session) touch() {
	s.mutex.Lock()
	s.lastActivity = time.Now()
	s.mutex.Unlock()
}

// SessionInfo - 세션 정보 응답
type SessionInfo struct {
	SessionId    string    `json:"sessionId"`
	ClientCount  int       `json:"clientCount"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
	Age          string    `json:"age"`
	Inactive     string    `json:"inactive"`
	State        State     `json:"state"`
}

// Info - 세션 정보 스냅샷
func (s *Session) Info() SessionInfo {
	state := s.controller.Snapshot()

	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return SessionInfo{
		SessionId:    s.id,
		ClientCount:  len(s.clients),
		CreatedAt:    s.createdAt,
		LastActivity: s.lastActivity,
		Age:          time.Since(s.createdAt).Round(time.Second).String(),
		Inactive:     time.Since(s.lastActivity).Round(time.Second).String(),
		State:        state,
	}
}

// AddClient - 클라이언트를 세션에 추가하고 컨트롤러 상태를 구독
// 구독 즉시 현재 상태가 전송된다.
func (s *Session) AddClient(client *Client) {
	s.mutex.Lock()
	s.clients[client.clientId] = client
	s.lastActivity = time.Now()
	clientCount := len(s.clients)
	s.mutex.Unlock()

	metrics.WebSocketClients.Inc()
	log.Printf("👤 Client %s joined session %s (Clients: %d)", client.clientId, s.id, clientCount)

	client.unsubscribe = s.controller.Subscribe(func(state State) {
		client.enqueue(Message{Type: "state", SessionId: s.id, State: &state})
	})
}

// RemoveClient - 클라이언트를 세션에서 제거
func (s *Session) RemoveClient(clientId string) {
	s.mutex.Lock()
	client, exists := s.clients[clientId]
	if exists {
		delete(s.clients, clientId)
		s.lastActivity = time.Now()
	}
	remaining := len(s.clients)
	s.mutex.Unlock()

	if !exists {
		return
	}

	// 구독 해제 후에는 더 이상 send 채널에 쓰지 않으므로 안전하게 닫을 수 있음
	if client.unsubscribe != nil {
		client.unsubscribe()
	}
	close(client.send)
	metrics.WebSocketClients.Dec()

	log.Printf("👋 Client %s left session %s (Remaining: %d)", clientId, s.id, remaining)
}

// ClientCount - 연결된 클라이언트 수
func (s *Session) ClientCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.clients)
}

// enqueue - 논블로킹 전송. 느린 클라이언트는 연결을 끊는다.
func (c *Client) enqueue(message Message) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		log.Printf("Error marshaling message: %v", err)
		return
	}

	select {
	case c.send <- messageBytes:
	default:
		log.Printf("⚠️  Client %s send buffer full, disconnecting", c.clientId)
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// CleanupEmptySessions - 클라이언트도 진행 중 요청도 없는 세션 정리
func (sm *SessionManager) CleanupEmptySessions() int {
	return sm.cleanup(func(s *Session, now time.Time) (bool, string) {
		s.mutex.RLock()
		isEmpty := len(s.clients) == 0
		idle := now.Sub(s.lastActivity) > sessionInactiveThreshold
		s.mutex.RUnlock()
		return isEmpty && idle && !s.controller.InFlight(), "empty"
	})
}

// CleanupExpiredSessions - 24시간 지난 세션 정리 (진행 중 요청은 취소)
func (sm *SessionManager) CleanupExpiredSessions() int {
	return sm.cleanup(func(s *Session, now time.Time) (bool, string) {
		return now.Sub(s.createdAt) > sessionExpiredThreshold, "expired"
	})
}

func (sm *SessionManager) cleanup(shouldRemove func(*Session, time.Time) (bool, string)) int {
	now := time.Now()

	sm.mutex.Lock()
	var removed []*Session
	for sessionId, session := range sm.sessions {
		if ok, reason := shouldRemove(session, now); ok {
			delete(sm.sessions, sessionId)
			removed = append(removed, session)
			log.Printf("🧹 Cleaned up %s session: %s (Age: %v)", reason, sessionId, now.Sub(session.createdAt).Round(time.Second))
		}
	}
	metrics.ActiveSessions.Set(float64(len(sm.sessions)))
	active := len(sm.sessions)
	sm.mutex.Unlock()

	for _, session := range removed {
		session.close()
	}

	if len(removed) > 0 {
		log.Printf("🗑️  Cleaned up %d sessions (Active: %d)", len(removed), active)
	}
	return len(removed)
}

// close - 진행 중 요청 취소 + 클라이언트 연결 종료
func (s *Session) close() {
	s.controller.Reset()

	s.mutex.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mutex.RUnlock()

	for _, c := range clients {
		log.Printf("🔌 Disconnecting client %s from session %s", c.clientId, s.id)
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// RunCleanupRoutine - 정기적 정리 작업 (ctx 종료 시 반환)
func (sm *SessionManager) RunCleanupRoutine(ctx context.Context) error {
	emptyTicker := time.NewTicker(5 * time.Minute)
	defer emptyTicker.Stop()
	expiredTicker := time.NewTicker(30 * time.Minute)
	defer expiredTicker.Stop()

	log.Printf("🔄 Started session cleanup routines (Empty: 5min, Expired: 30min)")

	for {
		select {
		case <-ctx.Done():
			log.Printf("🛑 Session cleanup routine stopped")
			return nil
		case <-emptyTicker.C:
			sm.CleanupEmptySessions()
		case <-expiredTicker.C:
			sm.CleanupExpiredSessions()
		}
	}
}

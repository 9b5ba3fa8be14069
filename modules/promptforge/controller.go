package promptforge

import (
	"bytes"
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"promptforge-server/modules/common/model"
)

// State - 세션의 요청 라이프사이클 상태 (렌더링 코드에 값으로 전달)
type State struct {
	Phase        model.Phase           `json:"phase"`
	RequestID    string                `json:"requestId,omitempty"`
	FileName     string                `json:"fileName,omitempty"`
	MediaType    string                `json:"mediaType,omitempty"`
	Preview      string                `json:"preview,omitempty"` // data URL (webp)
	Result       *model.AnalysisResult `json:"result,omitempty"`
	ErrorMessage string                `json:"errorMessage,omitempty"`
	Superseded   bool                  `json:"superseded,omitempty"`
	UpdatedAt    time.Time             `json:"updatedAt"`
}

// Upload - 업로드된 이미지 한 장
type Upload struct {
	FileName  string
	MediaType string
	Data      []byte
}

// ActiveMarker - "현재 활성 요청" 표시. 기본은 in-memory, 설정 시 Redis
// Superseded는 다른 요청이 기록되어 있을 때만 true (기록 없음은 false).
type ActiveMarker interface {
	Mark(ctx context.Context, sessionID, requestID string) error
	Superseded(ctx context.Context, sessionID, requestID string) (bool, error)
	Clear(ctx context.Context, sessionID, requestID string) error
}

// PreviewFunc - 업로드 미리보기 생성 (실패 시 빈 문자열)
type PreviewFunc func(data []byte, mediaType string) string

const markerTimeout = 2 * time.Second

// Controller owns one session's state. Only one request is active at a time: a new
// Submit cancels the previous request and its eventual outcome is dropped.
// State changes and subscriber notifications happen under one mutex, so a
// subscriber never observes a stale result after a newer upload's loading state.
// Marker I/O runs outside that mutex; markMu keeps Mark calls in activation order.
type Controller struct {
	sessionID string
	analyzer  Analyzer
	marker    ActiveMarker
	preview   PreviewFunc

	markMu sync.Mutex

	mu          sync.Mutex
	state       State
	activeID    string
	cancel      context.CancelFunc
	subscribers map[int]func(State)
	nextSub     int
}

// NewController - marker/preview는 nil 가능
func NewController(sessionID string, analyzer Analyzer, marker ActiveMarker, preview PreviewFunc) *Controller {
	if marker == nil {
		marker = NewMemoryMarker()
	}
	return &Controller{
		sessionID:   sessionID,
		analyzer:    analyzer,
		marker:      marker,
		preview:     preview,
		state:       State{Phase: model.PhaseIdle, UpdatedAt: time.Now()},
		subscribers: make(map[int]func(State)),
	}
}

// Snapshot - 현재 상태 복사본
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers fn for every state change and immediately delivers the
// current state. fn is called with the controller lock held and must not block.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = fn
	fn(c.state)

	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

// Submit runs one upload to settlement and returns the state it settled to.
// When a newer upload superseded it, the returned state has Superseded set and
// the controller's state is left to the newer request.
func (c *Controller) Submit(ctx context.Context, up Upload) State {
	requestID := uuid.NewString()

	preview := ""
	if c.preview != nil {
		preview = c.preview(up.Data, up.MediaType)
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.markMu.Lock()
	c.mu.Lock()
	if c.cancel != nil {
		log.Printf("🔁 [Controller] Session %s: request %s superseded by %s", c.sessionID, c.activeID, requestID)
		c.cancel()
	}
	c.cancel = cancel
	c.activeID = requestID
	c.setState(State{
		Phase:     model.PhaseLoading,
		RequestID: requestID,
		FileName:  up.FileName,
		MediaType: up.MediaType,
		Preview:   preview,
	})
	c.mu.Unlock()
	c.markActive(requestID)
	c.markMu.Unlock()

	log.Printf("⏳ [Controller] Session %s: request %s started (%s, %d bytes)", c.sessionID, requestID, up.FileName, len(up.Data))

	result, err := c.analyzer.Analyze(reqCtx, bytes.NewReader(up.Data), up.MediaType)

	settled := State{
		Phase:     model.PhaseSuccess,
		RequestID: requestID,
		FileName:  up.FileName,
		MediaType: up.MediaType,
		Preview:   preview,
		Result:    result,
	}
	if err != nil {
		settled.Phase = model.PhaseFailure
		settled.Result = nil
		settled.ErrorMessage = model.FailureMessage
	}

	dropped := func() State {
		log.Printf("🗑️  [Controller] Session %s: dropping outcome of superseded request %s (%s)", c.sessionID, requestID, OutcomeLabel(err))
		settled.Superseded = true
		settled.UpdatedAt = time.Now()
		return settled
	}

	if !c.isActive(requestID) {
		return dropped()
	}

	// 다른 인스턴스에서 더 새로운 업로드가 들어왔는지 (락 밖에서 확인)
	elsewhere := c.supersededElsewhere(requestID)

	c.mu.Lock()
	if c.activeID != requestID {
		c.mu.Unlock()
		return dropped()
	}
	c.cancel = nil
	c.activeID = ""

	if elsewhere {
		log.Printf("🗑️  [Controller] Session %s: request %s superseded on another instance", c.sessionID, requestID)
		c.setState(State{Phase: model.PhaseIdle})
		c.mu.Unlock()
		settled.Superseded = true
		settled.UpdatedAt = time.Now()
		return settled
	}

	if err != nil {
		log.Printf("❌ [Controller] Session %s: request %s failed (%s): %v", c.sessionID, requestID, OutcomeLabel(err), err)
	} else {
		log.Printf("✅ [Controller] Session %s: request %s succeeded", c.sessionID, requestID)
	}

	c.setState(settled)
	final := c.state
	c.mu.Unlock()

	// 조건부 삭제라 그 사이 등록된 새 요청의 표시는 남는다
	c.clearMarker(requestID)
	return final
}

// Reset - 진행 중 요청 취소 후 idle로
func (c *Controller) Reset() State {
	c.mu.Lock()
	if c.cancel != nil {
		log.Printf("🛑 [Controller] Session %s: reset cancels request %s", c.sessionID, c.activeID)
		c.cancel()
		c.cancel = nil
	}
	activeID := c.activeID
	c.activeID = ""

	c.setState(State{Phase: model.PhaseIdle})
	state := c.state
	c.mu.Unlock()

	// Submit의 Mark가 끝난 뒤에 지워야 표시가 남지 않는다
	if activeID != "" {
		c.markMu.Lock()
		c.clearMarker(activeID)
		c.markMu.Unlock()
	}
	return state
}

// InFlight - 진행 중 요청 여부
func (c *Controller) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID != ""
}

// setState - c.mu 보유 상태에서 호출
func (c *Controller) setState(s State) {
	s.UpdatedAt = time.Now()
	c.state = s
	for _, fn := range c.subscribers {
		fn(s)
	}
}

func (c *Controller) markActive(requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), markerTimeout)
	defer cancel()
	if err := c.marker.Mark(ctx, c.sessionID, requestID); err != nil {
		log.Printf("⚠️  [Controller] Session %s: failed to mark active request: %v", c.sessionID, err)
	}
}

func (c *Controller) isActive(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeID == requestID
}

// supersededElsewhere - marker 오류 시에는 로컬 판단(활성)을 따른다
func (c *Controller) supersededElsewhere(requestID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), markerTimeout)
	defer cancel()
	superseded, err := c.marker.Superseded(ctx, c.sessionID, requestID)
	if err != nil {
		log.Printf("⚠️  [Controller] Session %s: failed to check active request: %v", c.sessionID, err)
		return false
	}
	return superseded
}

func (c *Controller) clearMarker(requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), markerTimeout)
	defer cancel()
	if err := c.marker.Clear(ctx, c.sessionID, requestID); err != nil {
		log.Printf("⚠️  [Controller] Session %s: failed to clear active request: %v", c.sessionID, err)
	}
}

// MemoryMarker - 프로세스 내 ActiveMarker
type MemoryMarker struct {
	mu     sync.Mutex
	active map[string]string
}

// NewMemoryMarker - in-memory marker 생성
func NewMemoryMarker() *MemoryMarker {
	return &MemoryMarker{active: make(map[string]string)}
}

func (m *MemoryMarker) Mark(_ context.Context, sessionID, requestID string) error {
	m.mu.Lock()
	m.active[sessionID] = requestID
	m.mu.Unlock()
	return nil
}

func (m *MemoryMarker) Superseded(_ context.Context, sessionID, requestID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.active[sessionID]
	return ok && current != requestID, nil
}

func (m *MemoryMarker) Clear(_ context.Context, sessionID, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if requestID == "" || m.active[sessionID] == requestID {
		delete(m.active, sessionID)
	}
	return nil
}

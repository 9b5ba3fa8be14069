package promptforge

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"promptforge-server/modules/common/model"
	redisutil "promptforge-server/modules/common/redis"
)

// gatedAnalyzer blocks each call until its gate is released. Calls are keyed by
// the uploaded bytes.
type gatedAnalyzer struct {
	mu          sync.Mutex
	gates       map[string]chan struct{}
	started     chan string
	results     map[string]*model.AnalysisResult
	errs        map[string]error
	ignoreCtx   bool
	cancelledMu sync.Mutex
	cancelled   []string
}

func newGatedAnalyzer() *gatedAnalyzer {
	return &gatedAnalyzer{
		gates:   make(map[string]chan struct{}),
		started: make(chan string, 10),
		results: make(map[string]*model.AnalysisResult),
		errs:    make(map[string]error),
	}
}

func (g *gatedAnalyzer) gate(key string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[key]
	if !ok {
		ch = make(chan struct{})
		g.gates[key] = ch
	}
	return ch
}

func (g *gatedAnalyzer) Analyze(ctx context.Context, image io.Reader, mediaType string) (*model.AnalysisResult, error) {
	data, _ := io.ReadAll(image)
	key := string(data)
	gate := g.gate(key)
	g.started <- key

	if g.ignoreCtx {
		<-gate
	} else {
		select {
		case <-gate:
		case <-ctx.Done():
			g.cancelledMu.Lock()
			g.cancelled = append(g.cancelled, key)
			g.cancelledMu.Unlock()
			return nil, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.results[key], g.errs[key]
}

func resultNamed(name string) *model.AnalysisResult {
	return &model.AnalysisResult{
		Analysis: model.ImageAnalysis{MainSubjects: []string{name}, Setting: name, Mood: "m", Style: "s", ColorPalette: []string{"red"}},
		Prompts:  model.GeneratedPrompts{Realistic: name, Fantastical: name, Stylistic: name, Cinematic: name},
	}
}

func waitStarted(t *testing.T, g *gatedAnalyzer, want string) {
	t.Helper()
	select {
	case got := <-g.started:
		if got != want {
			t.Fatalf("started %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("analysis %q never started", want)
	}
}

func TestControllerSuccess(t *testing.T) {
	g := newGatedAnalyzer()
	g.results["lake"] = resultNamed("lake")
	close(g.gate("lake"))

	c := NewController("s1", g, nil, func([]byte, string) string { return "data:image/webp;base64,AAAA" })

	state := c.Submit(context.Background(), Upload{FileName: "lake.png", MediaType: "image/png", Data: []byte("lake")})
	if state.Phase != model.PhaseSuccess {
		t.Fatalf("Phase = %s, want success", state.Phase)
	}
	if state.Result == nil || state.Result.Analysis.Setting != "lake" {
		t.Errorf("Result = %+v", state.Result)
	}
	if state.Preview == "" || state.ErrorMessage != "" || state.Superseded {
		t.Errorf("unexpected state %+v", state)
	}
	if snap := c.Snapshot(); snap.RequestID != state.RequestID || snap.Phase != model.PhaseSuccess {
		t.Errorf("Snapshot() = %+v", snap)
	}
	if c.InFlight() {
		t.Error("InFlight() = true after settle")
	}
}

func TestControllerFailureUsesGenericMessage(t *testing.T) {
	g := newGatedAnalyzer()
	g.errs["bad"] = &ParseError{RawText: "```json{}```", Reason: "fenced"}
	close(g.gate("bad"))

	c := NewController("s1", g, nil, nil)
	state := c.Submit(context.Background(), Upload{MediaType: "image/png", Data: []byte("bad")})

	if state.Phase != model.PhaseFailure {
		t.Fatalf("Phase = %s, want failure", state.Phase)
	}
	if state.Result != nil {
		t.Errorf("Result = %+v, want nil", state.Result)
	}
	if state.ErrorMessage != model.FailureMessage {
		t.Errorf("ErrorMessage = %q", state.ErrorMessage)
	}
}

func TestControllerNewUploadSupersedes(t *testing.T) {
	for _, ignoreCtx := range []bool{false, true} {
		name := "cancelled"
		if ignoreCtx {
			name = "late result ignored"
		}
		t.Run(name, func(t *testing.T) {
			g := newGatedAnalyzer()
			g.ignoreCtx = ignoreCtx
			g.results["first"] = resultNamed("first")
			g.results["second"] = resultNamed("second")

			c := NewController("s1", g, nil, nil)

			var mu sync.Mutex
			var published []State
			c.Subscribe(func(s State) {
				mu.Lock()
				published = append(published, s)
				mu.Unlock()
			})

			firstDone := make(chan State, 1)
			go func() {
				firstDone <- c.Submit(context.Background(), Upload{Data: []byte("first")})
			}()
			waitStarted(t, g, "first")

			secondDone := make(chan State, 1)
			go func() {
				secondDone <- c.Submit(context.Background(), Upload{Data: []byte("second")})
			}()
			waitStarted(t, g, "second")

			close(g.gate("second"))
			second := <-secondDone
			if second.Phase != model.PhaseSuccess || second.Result.Analysis.Setting != "second" {
				t.Fatalf("second = %+v", second)
			}

			// first settles after second
			close(g.gate("first"))
			first := <-firstDone
			if !first.Superseded {
				t.Errorf("first.Superseded = false, state %+v", first)
			}

			final := c.Snapshot()
			if final.RequestID != second.RequestID || final.Result == nil || final.Result.Analysis.Setting != "second" {
				t.Fatalf("final state = %+v, want second upload's result", final)
			}

			mu.Lock()
			defer mu.Unlock()
			last := published[len(published)-1]
			if last.RequestID != second.RequestID || last.Phase != model.PhaseSuccess {
				t.Errorf("last published = %+v", last)
			}
			for _, s := range published {
				if s.Result != nil && s.Result.Analysis.Setting == "first" {
					t.Errorf("stale result from first upload was published: %+v", s)
				}
			}

			if !ignoreCtx {
				g.cancelledMu.Lock()
				if len(g.cancelled) != 1 || g.cancelled[0] != "first" {
					t.Errorf("cancelled = %v, want [first]", g.cancelled)
				}
				g.cancelledMu.Unlock()
			}
		})
	}
}

func TestControllerReset(t *testing.T) {
	g := newGatedAnalyzer()
	c := NewController("s1", g, nil, nil)

	done := make(chan State, 1)
	go func() {
		done <- c.Submit(context.Background(), Upload{Data: []byte("slow")})
	}()
	waitStarted(t, g, "slow")

	if !c.InFlight() {
		t.Fatal("InFlight() = false while request is running")
	}
	if state := c.Reset(); state.Phase != model.PhaseIdle {
		t.Fatalf("Reset() phase = %s", state.Phase)
	}

	settled := <-done
	if !settled.Superseded {
		t.Errorf("request after reset should be dropped, got %+v", settled)
	}
	if snap := c.Snapshot(); snap.Phase != model.PhaseIdle || snap.Result != nil {
		t.Errorf("Snapshot() after reset = %+v", snap)
	}
}

func TestControllerSubscribeDeliversCurrentState(t *testing.T) {
	c := NewController("s1", newGatedAnalyzer(), nil, nil)

	var got []State
	unsubscribe := c.Subscribe(func(s State) { got = append(got, s) })
	if len(got) != 1 || got[0].Phase != model.PhaseIdle {
		t.Fatalf("initial delivery = %+v", got)
	}

	unsubscribe()
	c.Reset()
	if len(got) != 1 {
		t.Errorf("received %d states after unsubscribe", len(got))
	}
}

func TestControllerSupersededOnAnotherInstance(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	marker := redisutil.NewActiveMarker(rdb, time.Minute)

	g := newGatedAnalyzer()
	g.results["mine"] = resultNamed("mine")
	c := NewController("shared", g, marker, nil)

	done := make(chan State, 1)
	go func() {
		done <- c.Submit(context.Background(), Upload{Data: []byte("mine")})
	}()
	waitStarted(t, g, "mine")

	// 다른 인스턴스가 같은 세션에 새 요청을 등록
	if err := marker.Mark(context.Background(), "shared", "other-instance-request"); err != nil {
		t.Fatal(err)
	}
	close(g.gate("mine"))

	settled := <-done
	if !settled.Superseded {
		t.Fatalf("settled = %+v, want superseded", settled)
	}
	if snap := c.Snapshot(); snap.Phase != model.PhaseIdle {
		t.Errorf("Snapshot() = %+v, want idle", snap)
	}
	if sup, _ := marker.Superseded(context.Background(), "shared", "other-instance-request"); sup {
		t.Error("newer marker from another instance was cleared or replaced")
	}
}

func TestControllerResultSurvivesMarkerExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	marker := redisutil.NewActiveMarker(rdb, time.Minute)

	g := newGatedAnalyzer()
	g.results["slow"] = resultNamed("slow")
	c := NewController("ttl", g, marker, nil)

	done := make(chan State, 1)
	go func() {
		done <- c.Submit(context.Background(), Upload{Data: []byte("slow")})
	}()
	waitStarted(t, g, "slow")

	// Gemini 호출이 marker TTL보다 오래 걸림
	mr.FastForward(2 * time.Minute)
	close(g.gate("slow"))

	settled := <-done
	if settled.Superseded || settled.Phase != model.PhaseSuccess {
		t.Fatalf("settled = %+v, want success", settled)
	}
	if snap := c.Snapshot(); snap.Phase != model.PhaseSuccess || snap.Result == nil {
		t.Errorf("Snapshot() = %+v, want success with result", snap)
	}
}

// blockingMarker holds Mark until released.
type blockingMarker struct {
	*MemoryMarker
	entered chan struct{}
	release chan struct{}
}

func (b *blockingMarker) Mark(ctx context.Context, sessionID, requestID string) error {
	close(b.entered)
	<-b.release
	return b.MemoryMarker.Mark(ctx, sessionID, requestID)
}

func TestControllerMarkerIODoesNotBlockState(t *testing.T) {
	marker := &blockingMarker{MemoryMarker: NewMemoryMarker(), entered: make(chan struct{}), release: make(chan struct{})}
	g := newGatedAnalyzer()
	g.results["x"] = resultNamed("x")
	close(g.gate("x"))
	c := NewController("slow-redis", g, marker, nil)

	done := make(chan State, 1)
	go func() {
		done <- c.Submit(context.Background(), Upload{Data: []byte("x")})
	}()
	<-marker.entered

	snap := make(chan State, 1)
	go func() { snap <- c.Snapshot() }()
	select {
	case s := <-snap:
		if s.Phase != model.PhaseLoading {
			t.Errorf("Snapshot() phase = %s, want loading", s.Phase)
		}
	case <-time.After(time.Second):
		t.Fatal("Snapshot() blocked while the marker was being written")
	}
	if !c.InFlight() {
		t.Error("InFlight() = false while marking")
	}

	close(marker.release)
	if settled := <-done; settled.Phase != model.PhaseSuccess {
		t.Errorf("settled = %+v", settled)
	}
}

func TestMemoryMarker(t *testing.T) {
	m := NewMemoryMarker()
	ctx := context.Background()

	if sup, _ := m.Superseded(ctx, "s", "a"); sup {
		t.Error("no marker must not supersede")
	}
	m.Mark(ctx, "s", "a")
	m.Mark(ctx, "s", "b")
	if sup, _ := m.Superseded(ctx, "s", "a"); !sup {
		t.Error("a should be superseded")
	}
	m.Clear(ctx, "s", "a")
	if sup, _ := m.Superseded(ctx, "s", "a"); !sup {
		t.Error("stale Clear removed b")
	}
	m.Clear(ctx, "s", "")
	if sup, _ := m.Superseded(ctx, "s", "a"); sup {
		t.Error("unconditional Clear did not remove b")
	}
}

func TestOutcomeLabel(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeSuccess},
		{&ParseError{Reason: "x"}, OutcomeParseError},
		{context.Canceled, OutcomeCancelled},
		{errors.New("failed to read image: boom"), OutcomeReadError},
	}
	for _, tt := range tests {
		if got := OutcomeLabel(tt.err); got != tt.want {
			t.Errorf("OutcomeLabel(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

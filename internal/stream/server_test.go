package stream

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gitdeck/gitdeck/internal/engine"
	"github.com/gitdeck/gitdeck/internal/netmetrics"
	"github.com/gitdeck/gitdeck/internal/types"
)

// fakeState is a StateSource and StateNotifier
type fakeState struct {
	mu        sync.Mutex
	state     engine.State
	listeners []func(engine.State)
}

func (f *fakeState) Snapshot() engine.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeState) OnChange(fn func(engine.State)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, fn)
}

func (f *fakeState) set(s engine.State) {
	f.mu.Lock()
	f.state = s
	listeners := f.listeners
	f.mu.Unlock()
	for _, l := range listeners {
		l(s)
	}
}

func testServer(t *testing.T, state *fakeState, tracker *netmetrics.Tracker) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "gitdeck_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s := NewServer(state, tracker, &Config{
		Addr:     "127.0.0.1:0",
		Gatherer: reg,
		Logger:   log.New(io.Discard, "", 0),
	})
	s.Attach(state, tracker)
	if err := s.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = s.Stop() })
	return s
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func waitForClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("Expected %d clients, got %d", n, s.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerStartStop(t *testing.T) {
	s := NewServer(nil, nil, &Config{Addr: "127.0.0.1:0", Logger: log.New(io.Discard, "", 0)})
	if err := s.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if strings.HasSuffix(s.Addr(), ":0") {
		t.Errorf("Addr() = %s, want the bound port", s.Addr())
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocketInitialSync(t *testing.T) {
	state := &fakeState{state: engine.State{CurrentBranch: "main", Phase: engine.PhaseReady}}
	tracker := netmetrics.New()
	s := testServer(t, state, tracker)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	first := readMessage(t, ctx, conn)
	if first.Type != MessageTypeState {
		t.Fatalf("first message type = %s, want state", first.Type)
	}
	var st engine.State
	if err := json.Unmarshal(first.Data, &st); err != nil {
		t.Fatal(err)
	}
	if st.CurrentBranch != "main" {
		t.Errorf("CurrentBranch = %q", st.CurrentBranch)
	}

	second := readMessage(t, ctx, conn)
	if second.Type != MessageTypeMetrics {
		t.Errorf("second message type = %s, want metrics", second.Type)
	}

	waitForClients(t, s, 1)
}

func TestBroadcastChanges(t *testing.T) {
	state := &fakeState{}
	tracker := netmetrics.New()
	s := testServer(t, state, tracker)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var conns []*websocket.Conn
	for i := 0; i < 3; i++ {
		conn, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/ws", nil)
		if err != nil {
			t.Fatalf("Failed to connect client %d: %v", i, err)
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		readMessage(t, ctx, conn)
		readMessage(t, ctx, conn)
		conns = append(conns, conn)
	}
	waitForClients(t, s, 3)

	state.set(engine.State{Active: types.NewRepository("/tmp/r", ""), Phase: engine.PhaseLoading})
	for i, conn := range conns {
		msg := readMessage(t, ctx, conn)
		if msg.Type != MessageTypeState {
			t.Errorf("client %d got %s, want state", i, msg.Type)
		}
	}

	tracker.StartDownload("fetch", 1024)
	for i, conn := range conns {
		msg := readMessage(t, ctx, conn)
		if msg.Type != MessageTypeMetrics {
			t.Fatalf("client %d got %s, want metrics", i, msg.Type)
		}
		var snap netmetrics.Snapshot
		if err := json.Unmarshal(msg.Data, &snap); err != nil {
			t.Fatal(err)
		}
		if snap.Status != netmetrics.StatusDownloading || snap.Operation != "fetch" {
			t.Errorf("client %d snapshot = %+v", i, snap)
		}
	}
}

func TestClientDisconnect(t *testing.T) {
	s := testServer(t, &fakeState{}, netmetrics.New())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+s.Addr()+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	readMessage(t, ctx, conn)
	readMessage(t, ctx, conn)
	waitForClients(t, s, 1)

	_ = conn.Close(websocket.StatusNormalClosure, "")
	waitForClients(t, s, 0)
}

func TestHTTPEndpoints(t *testing.T) {
	state := &fakeState{state: engine.State{CurrentBranch: "dev"}}
	tracker := netmetrics.New()
	tracker.SetLatency(120)
	s := testServer(t, state, tracker)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	tests := []struct {
		path string
		want string
	}{
		{"/health", `"status":"ok"`},
		{"/state", `"currentBranch":"dev"`},
		{"/state", `"latency":120`},
		{"/metrics", "gitdeck_test_total 1"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.path)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			if !strings.Contains(string(body), tt.want) {
				t.Errorf("body %s does not contain %s", body, tt.want)
			}
		})
	}
}

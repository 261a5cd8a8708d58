package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pliu/friends/internal/auth"
	"github.com/pliu/friends/internal/engine"
	"github.com/pliu/friends/internal/enrich"
	"github.com/pliu/friends/internal/models"
	"github.com/pliu/friends/internal/store/sqlstore"
	"github.com/pliu/friends/internal/swarm"
)

const timeout = 5 * time.Second

// fakeSource is both the engine's transport and the hub's event source.
type fakeSource struct {
	mu         sync.Mutex
	handler    swarm.Handler
	subscribed map[string]bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{subscribed: make(map[string]bool)}
}

func (f *fakeSource) Process(h swarm.Handler) { f.handler = h }
func (f *fakeSource) OnPeer(fn func(*swarm.Peer)) {}
func (f *fakeSource) Changes(channel string) int64 { return 0 }
func (f *fakeSource) Send(msg models.Message) error { return nil }

func (f *fakeSource) Subscribed(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed[name]
}

func (f *fakeSource) AddChannel(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[name] = true
	return nil
}

func (f *fakeSource) RemoveChannel(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscribed, name)
	return nil
}

func (f *fakeSource) deliver(t *testing.T, msg models.Message) {
	t.Helper()
	done := make(chan struct{})
	go f.handler(msg, func() { close(done) })
	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("Timed out waiting for the delivery to be processed")
	}
}

type received struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

func newTestClient(t *testing.T, hub *Hub) *Client {
	t.Helper()
	client := &Client{hub: hub, send: make(chan []byte, sendBufferSize)}
	hub.register <- client
	return client
}

// waitForState reads events until a state snapshot satisfies ok.
func waitForState(t *testing.T, client *Client, ok func(engine.Snapshot) bool) engine.Snapshot {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case raw, open := <-client.send:
			if !open {
				t.Fatal("Client was disconnected")
			}
			var ev received
			if err := json.Unmarshal(raw, &ev); err != nil {
				t.Fatalf("Invalid event: %v", err)
			}
			if ev.Op != OpState {
				continue
			}
			var snap engine.Snapshot
			if err := json.Unmarshal(ev.Data, &snap); err != nil {
				t.Fatalf("Invalid snapshot: %v", err)
			}
			if ok(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("Timed out waiting for state")
		}
	}
}

func hasMessage(snap engine.Snapshot, text string) bool {
	for _, m := range snap.Messages {
		if m.Text == text {
			return true
		}
	}
	return false
}

func startHub(t *testing.T, source Source, transport engine.Transport) *Hub {
	t.Helper()
	st, err := sqlstore.New("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	e := engine.New(engine.Config{
		Username:  "alice",
		Transport: transport,
		Store:     st,
		Enricher:  enrich.New(nil),
	})
	hub := NewHub(e, source, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.quit
		st.Close()
	})
	return hub
}

func TestHubRun(t *testing.T) {
	st, err := sqlstore.New("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	id, _ := auth.Generate()
	sw := swarm.New(swarm.Config{Store: st, Identity: id})
	t.Cleanup(func() {
		sw.Close()
		st.Close()
	})

	hub := startHub(t, sw, sw)
	client := newTestClient(t, hub)
	waitForState(t, client, func(engine.Snapshot) bool { return true })

	err = hub.Do(func(e *engine.Engine) engine.Outcome {
		if err := e.Send("Hello World"); err != nil {
			t.Errorf("Send failed: %v", err)
		}
		return engine.Outcome{}
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}

	snap := waitForState(t, client, func(s engine.Snapshot) bool { return hasMessage(s, "Hello World") })
	m := snap.Messages[0]
	if m.Username != "alice" || !m.Verified || m.DisplayName != "alice" {
		t.Errorf("Unexpected message view %+v", m)
	}
	if len(snap.Users) != 1 || snap.Users[0].Username != "alice" {
		t.Errorf("Expected alice in users, got %+v", snap.Users)
	}
}

func TestHubCommands(t *testing.T) {
	source := newFakeSource()
	hub := startHub(t, source, source)
	client := newTestClient(t, hub)

	hub.commands <- Command{Op: OpAddChannel, Channel: "#golang"}
	waitForState(t, client, func(s engine.Snapshot) bool { return s.Active == "golang" })
	if !source.Subscribed("golang") {
		t.Error("Expected add_channel to subscribe")
	}

	source.deliver(t, models.Message{Channel: "golang", Username: "bob", Text: "hi alice", Valid: true, ChangeSeq: 1})
	waitForState(t, client, func(s engine.Snapshot) bool { return hasMessage(s, "hi alice") })

	hub.commands <- Command{Op: OpToggleBlock, Username: "bob"}
	waitForState(t, client, func(s engine.Snapshot) bool {
		return len(s.Users) == 1 && s.Users[0].Blocked && len(s.Messages) == 0
	})

	hub.commands <- Command{Op: OpLeaveChannel, Channel: "golang"}
	snap := waitForState(t, client, func(s engine.Snapshot) bool { return s.Active == engine.DefaultChannel })
	for _, ch := range snap.Channels {
		if ch.Name == "golang" {
			t.Error("Expected golang to be gone")
		}
	}
}

func TestHubIgnoresDeliveryForLeftChannel(t *testing.T) {
	source := newFakeSource()
	hub := startHub(t, source, source)
	client := newTestClient(t, hub)
	waitForState(t, client, func(engine.Snapshot) bool { return true })

	source.deliver(t, models.Message{Channel: "ghost", Username: "bob", Text: "boo", Valid: true})
	source.deliver(t, models.Message{Channel: engine.DefaultChannel, Username: "bob", Text: "here", Valid: true})
	snap := waitForState(t, client, func(s engine.Snapshot) bool { return hasMessage(s, "here") })

	for _, ch := range snap.Channels {
		if ch.Name == "ghost" {
			t.Error("A stale delivery recreated a channel")
		}
	}
}

func TestHubBadge(t *testing.T) {
	source := newFakeSource()
	hub := startHub(t, source, source)
	client := newTestClient(t, hub)

	hub.commands <- Command{Op: OpFocus, Focused: false}
	source.deliver(t, models.Message{Channel: engine.DefaultChannel, Username: "bob", Text: "ping alice", Valid: true, ChangeSeq: 1})

	deadline := time.After(timeout)
	for {
		select {
		case raw := <-client.send:
			var ev received
			json.Unmarshal(raw, &ev)
			if ev.Op != OpBadge {
				continue
			}
			var badge engine.BadgeChanged
			json.Unmarshal(ev.Data, &badge)
			if badge.Count != 1 {
				t.Errorf("Expected badge 1, got %d", badge.Count)
			}
			return
		case <-deadline:
			t.Fatal("Timed out waiting for the badge event")
		}
	}
}

func TestDoAfterStop(t *testing.T) {
	source := newFakeSource()
	st, _ := sqlstore.New("sqlite3", ":memory:")
	defer st.Close()
	e := engine.New(engine.Config{Username: "alice", Transport: source, Store: st, Enricher: enrich.New(nil)})
	hub := NewHub(e, source, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	cancel()
	<-hub.quit

	err := hub.Do(func(*engine.Engine) engine.Outcome { return engine.Outcome{} })
	if !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
}

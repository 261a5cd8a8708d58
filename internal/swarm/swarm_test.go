package swarm

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pliu/friends/internal/auth"
	"github.com/pliu/friends/internal/models"
	"github.com/pliu/friends/internal/store/sqlstore"
)

const timeout = 5 * time.Second

func newTestSwarm(t *testing.T, cfg Config) *Swarm {
	t.Helper()
	st, err := sqlstore.New("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	cfg.Store = st
	if cfg.Retry == 0 {
		cfg.Retry = 50 * time.Millisecond
	}
	s := New(cfg)
	t.Cleanup(func() {
		s.Close()
		st.Close()
	})
	return s
}

func newIdentity(t *testing.T) *auth.Identity {
	t.Helper()
	id, err := auth.Generate()
	if err != nil {
		t.Fatalf("Failed to generate identity: %v", err)
	}
	return id
}

func collect(s *Swarm) <-chan models.Message {
	ch := make(chan models.Message, 100)
	s.Process(func(msg models.Message, done func()) {
		ch <- msg
		done()
	})
	return ch
}

func next(t *testing.T, ch <-chan models.Message) models.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(timeout):
		t.Fatal("Timed out waiting for a message")
	}
	return models.Message{}
}

func send(t *testing.T, s *Swarm, channel, username, text string) {
	t.Helper()
	msg := models.Message{Channel: channel, Username: username, Text: text, Timestamp: time.Now().UnixMilli()}
	if err := s.Send(msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
}

func TestSendDeliversInOrder(t *testing.T) {
	s := newTestSwarm(t, Config{Identity: newIdentity(t)})
	s.AddChannel("friends")
	msgs := collect(s)

	for _, text := range []string{"one", "two", "three"} {
		send(t, s, "friends", "alice", text)
	}

	for i, want := range []string{"one", "two", "three"} {
		m := next(t, msgs)
		if m.Text != want || m.ChangeSeq != int64(i+1) {
			t.Errorf("Expected %q at seq %d, got %q at seq %d", want, i+1, m.Text, m.ChangeSeq)
		}
		if !m.Valid || m.Anon {
			t.Errorf("Expected signed message to be valid, got %+v", m)
		}
	}
	if n := s.Changes("friends"); n != 3 {
		t.Errorf("Expected 3 changes, got %d", n)
	}
}

func TestDeliveryWaitsForDone(t *testing.T) {
	s := newTestSwarm(t, Config{})
	s.AddChannel("friends")

	type delivery struct {
		msg  models.Message
		done func()
	}
	deliveries := make(chan delivery, 10)
	s.Process(func(msg models.Message, done func()) {
		deliveries <- delivery{msg, done}
	})

	send(t, s, "friends", "alice", "first")
	send(t, s, "friends", "alice", "second")

	var first delivery
	select {
	case first = <-deliveries:
	case <-time.After(timeout):
		t.Fatal("Timed out waiting for the first message")
	}
	select {
	case d := <-deliveries:
		t.Fatalf("Delivered %q before done was called", d.msg.Text)
	case <-time.After(100 * time.Millisecond):
	}

	first.done()
	first.done()
	select {
	case d := <-deliveries:
		if d.msg.Text != "second" {
			t.Errorf("Expected second message, got %q", d.msg.Text)
		}
		d.done()
	case <-time.After(timeout):
		t.Fatal("Timed out waiting for the second message")
	}
}

func TestUnsignedIsAnonymous(t *testing.T) {
	s := newTestSwarm(t, Config{})
	s.AddChannel("friends")
	msgs := collect(s)

	send(t, s, "friends", "Anonymous (abc123)", "hi")

	m := next(t, msgs)
	if !m.Anon || m.Valid {
		t.Errorf("Expected anonymous unverified message, got %+v", m)
	}
}

func TestNotJoined(t *testing.T) {
	s := newTestSwarm(t, Config{})

	err := s.Send(models.Message{Channel: "golang", Text: "hi"})
	if !errors.Is(err, ErrNotJoined) {
		t.Errorf("Expected ErrNotJoined from Send, got %v", err)
	}
	if err := s.RemoveChannel("golang"); !errors.Is(err, ErrNotJoined) {
		t.Errorf("Expected ErrNotJoined from RemoveChannel, got %v", err)
	}

	s.AddChannel("golang")
	s.AddChannel("golang")
	if !s.Subscribed("golang") {
		t.Fatal("Expected golang to be subscribed")
	}
	if err := s.RemoveChannel("golang"); err != nil {
		t.Errorf("RemoveChannel failed: %v", err)
	}
	if s.Subscribed("golang") {
		t.Error("Expected golang to be unsubscribed")
	}
}

func TestRejoinReplaysLog(t *testing.T) {
	s := newTestSwarm(t, Config{})
	s.AddChannel("golang")
	msgs := collect(s)

	send(t, s, "golang", "alice", "kept")
	next(t, msgs)

	s.RemoveChannel("golang")
	s.AddChannel("golang")
	if m := next(t, msgs); m.Text != "kept" || m.ChangeSeq != 1 {
		t.Errorf("Expected log replay after rejoin, got %+v", m)
	}
	if s.Changes("golang") != 1 {
		t.Errorf("Expected the log to be kept, got %d", s.Changes("golang"))
	}
}

func TestMessageTrust(t *testing.T) {
	s := newTestSwarm(t, Config{})
	alice := newIdentity(t)
	mallory := newIdentity(t)

	signed := func(id *auth.Identity, username, text string) models.Entry {
		payload := auth.Payload("friends", username, text, 1)
		return models.Entry{
			Channel:   "friends",
			Username:  username,
			Text:      text,
			Timestamp: 1,
			PublicKey: id.PublicKey(),
			Signature: id.Sign(payload),
		}
	}

	if m := s.message(signed(alice, "alice", "hi")); !m.Valid {
		t.Error("Expected alice's first message to be valid")
	}
	if m := s.message(signed(mallory, "alice", "it's me")); m.Valid {
		t.Error("Expected another key claiming alice to be invalid")
	}
	tampered := signed(alice, "alice", "hi")
	tampered.Text = "bye"
	if m := s.message(tampered); m.Valid || m.Anon {
		t.Errorf("Expected tampered message to be invalid and not anonymous, got %+v", m)
	}
}

func TestReceiveDropsBadEntries(t *testing.T) {
	s := newTestSwarm(t, Config{})
	s.AddChannel("friends")
	p := &Peer{ID: uuid.New(), Channel: "friends"}

	payload := auth.Payload("friends", "bob", "hi", 1)
	good := models.Entry{Channel: "friends", Username: "bob", Text: "hi", Timestamp: 1, Key: auth.EntryKey(payload, "", "")}

	wrongKey := good
	wrongKey.Text = "changed"
	s.receive(p, wrongKey)

	otherChannel := good
	otherChannel.Channel = "golang"
	s.receive(p, otherChannel)

	if n := s.Changes("friends") + s.Changes("golang"); n != 0 {
		t.Fatalf("Expected bad entries to be dropped, got %d changes", n)
	}

	s.receive(p, good)
	s.receive(p, good)
	if n := s.Changes("friends"); n != 1 {
		t.Errorf("Expected one stored entry, got %d", n)
	}
}

func TestReplicationBetweenPeers(t *testing.T) {
	a := newTestSwarm(t, Config{Identity: newIdentity(t)})
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	a.AddChannel("friends")
	fromA := collect(a)
	send(t, a, "friends", "alice", "before connect")
	next(t, fromA)

	connected := make(chan *Peer, 1)
	a.OnPeer(func(p *Peer) { connected <- p })

	b := newTestSwarm(t, Config{Identity: newIdentity(t), Peers: []string{srv.URL}})
	fromB := collect(b)
	b.AddChannel("friends")

	var peer *Peer
	select {
	case peer = <-connected:
	case <-time.After(timeout):
		t.Fatal("Timed out waiting for b to connect")
	}
	if peer.Channel != "friends" || peer.ID == uuid.Nil {
		t.Errorf("Unexpected peer %+v", peer)
	}

	if m := next(t, fromB); m.Text != "before connect" || !m.Valid {
		t.Errorf("Expected b to receive a's log, got %+v", m)
	}

	send(t, b, "friends", "bob", "hello a")
	if m := next(t, fromA); m.Text != "hello a" || m.ChangeSeq != 2 {
		t.Errorf("Expected a to receive b's message at seq 2, got %+v", m)
	}
	if m := next(t, fromB); m.Text != "hello a" {
		t.Errorf("Expected b to receive its own message, got %+v", m)
	}

	b.RemoveChannel("friends")
	select {
	case <-peer.Done():
	case <-time.After(timeout):
		t.Fatal("Expected the peer to disconnect after leaving the channel")
	}
}

func TestServeRejections(t *testing.T) {
	s := newTestSwarm(t, Config{MaxPeers: 1})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	s.AddChannel("friends")
	collect(s)

	base := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(base+"/swarm/golang", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for an unjoined channel, got %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(base+"/swarm/friends", nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	for s.Peers() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	_, resp, err = websocket.DefaultDialer.Dial(base+"/swarm/friends", nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 when the peer limit is reached, got %v", err)
	}
}

func TestPeerURL(t *testing.T) {
	tests := []struct {
		base, channel, want string
		wantErr             bool
	}{
		{"ws://10.0.0.2:7000", "friends", "ws://10.0.0.2:7000/swarm/friends", false},
		{"http://host:7000/", "golang", "ws://host:7000/swarm/golang", false},
		{"https://host/chat", "a b", "wss://host/chat/swarm/a%20b", false},
		{"ftp://host", "friends", "", true},
	}
	for _, tt := range tests {
		got, err := peerURL(tt.base, tt.channel)
		if (err != nil) != tt.wantErr {
			t.Errorf("peerURL(%q) error = %v", tt.base, err)
			continue
		}
		if got != tt.want {
			t.Errorf("peerURL(%q, %q) = %q, want %q", tt.base, tt.channel, got, tt.want)
		}
	}
}

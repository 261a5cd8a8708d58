// Package swarm replicates per-channel append-only logs between peers and
// delivers them, one entry at a time, to a single handler.
//
// Each joined channel has a delivery pump that walks the local log in order.
// The pump waits for the handler to call done before it delivers the next
// entry. Peers are websocket links scoped to one channel: on connect both sides
// send their whole log, after which new entries are gossiped as they arrive.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pliu/friends/internal/auth"
	"github.com/pliu/friends/internal/models"
)

var (
	ErrNotJoined    = errors.New("channel not joined")
	ErrTooManyPeers = errors.New("too many peers")
)

const (
	DefaultMaxPeers = 20

	batchSize     = 100
	retryInterval = 5 * time.Second
)

// Log is the change log storage the swarm replicates.
type Log interface {
	AppendEntry(entry models.Entry) (seq int64, added bool, err error)
	Entries(channel string, after int64, limit int) ([]models.Entry, error)
	Changes(channel string) (int64, error)
}

// Handler receives one message at a time per channel. The next message of the
// same channel is not delivered until done is called.
type Handler func(msg models.Message, done func())

type Config struct {
	Store    Log
	Identity *auth.Identity // nil sends unsigned entries
	MaxPeers int
	// Peers are bootstrap base URLs such as ws://10.0.0.2:7000, dialed for
	// every joined channel.
	Peers  []string
	Dialer *websocket.Dialer
	Retry  time.Duration
}

type Swarm struct {
	store     Log
	identity  *auth.Identity
	keyring   *auth.Keyring
	maxPeers  int
	bootstrap []string
	dialer    *websocket.Dialer
	retry     time.Duration

	ready       chan struct{}
	processOnce sync.Once
	handler     Handler

	mu       sync.Mutex
	channels map[string]*subscription
	peers    map[uuid.UUID]*Peer
	onPeer   func(*Peer)

	wg sync.WaitGroup
}

type subscription struct {
	name   string
	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
}

func New(cfg Config) *Swarm {
	s := &Swarm{
		store:     cfg.Store,
		identity:  cfg.Identity,
		keyring:   auth.NewKeyring(),
		maxPeers:  cfg.MaxPeers,
		bootstrap: cfg.Peers,
		dialer:    cfg.Dialer,
		retry:     cfg.Retry,
		ready:     make(chan struct{}),
		channels:  make(map[string]*subscription),
		peers:     make(map[uuid.UUID]*Peer),
	}
	if s.maxPeers <= 0 {
		s.maxPeers = DefaultMaxPeers
	}
	if s.dialer == nil {
		s.dialer = websocket.DefaultDialer
	}
	if s.retry <= 0 {
		s.retry = retryInterval
	}
	return s
}

// Process registers the handler. Pumps hold deliveries until it is called.
// Only the first call has an effect.
func (s *Swarm) Process(h Handler) {
	s.processOnce.Do(func() {
		s.handler = h
		close(s.ready)
	})
}

// OnPeer registers a callback run for every connected peer. Peer.Done is
// closed when the peer disconnects.
func (s *Swarm) OnPeer(fn func(*Peer)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPeer = fn
}

// Changes returns the length of the channel's local log.
func (s *Swarm) Changes(channel string) int64 {
	n, err := s.store.Changes(channel)
	if err != nil {
		log.Printf("Error counting changes of %s: %v", channel, err)
		return 0
	}
	return n
}

// Subscribed reports whether the channel is joined.
func (s *Swarm) Subscribed(name string) bool {
	_, ok := s.subscription(name)
	return ok
}

// AddChannel starts replicating and delivering the channel. Adding a joined
// channel does nothing.
func (s *Swarm) AddChannel(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[name]; ok {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &subscription{name: name, ctx: ctx, cancel: cancel, wake: make(chan struct{}, 1)}
	s.channels[name] = sub

	s.wg.Add(1 + len(s.bootstrap))
	go s.pump(sub)
	for _, base := range s.bootstrap {
		go s.connect(sub, base)
	}
	return nil
}

// RemoveChannel stops delivery and disconnects the channel's peers. The local
// log is kept.
func (s *Swarm) RemoveChannel(name string) error {
	s.mu.Lock()
	sub, ok := s.channels[name]
	delete(s.channels, name)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("remove #%s: %w", name, ErrNotJoined)
	}
	sub.cancel()
	return nil
}

// Send signs msg with the local identity, appends it to the channel's log and
// gossips it to the channel's peers.
func (s *Swarm) Send(msg models.Message) error {
	if !s.Subscribed(msg.Channel) {
		return fmt.Errorf("send to #%s: %w", msg.Channel, ErrNotJoined)
	}
	entry := models.Entry{
		Channel:   msg.Channel,
		Username:  msg.Username,
		Text:      msg.Text,
		Timestamp: msg.Timestamp,
	}
	payload := auth.Payload(entry.Channel, entry.Username, entry.Text, entry.Timestamp)
	if s.identity != nil {
		entry.PublicKey = s.identity.PublicKey()
		entry.Signature = s.identity.Sign(payload)
	}
	entry.Key = auth.EntryKey(payload, entry.PublicKey, entry.Signature)

	_, err := s.append(entry, uuid.Nil)
	return err
}

// Peers returns the number of connected peers.
func (s *Swarm) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Close leaves every channel and waits for pumps and dialers to stop.
func (s *Swarm) Close() {
	s.mu.Lock()
	for name, sub := range s.channels {
		sub.cancel()
		delete(s.channels, name)
	}
	for _, p := range s.peers {
		p.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Swarm) subscription(name string) (*subscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.channels[name]
	return sub, ok
}

// append stores entry and, when it is new, wakes the channel's pump and
// forwards it to every peer of the channel except the one it came from.
func (s *Swarm) append(entry models.Entry, from uuid.UUID) (bool, error) {
	seq, added, err := s.store.AppendEntry(entry)
	if err != nil {
		return false, fmt.Errorf("failed to append entry: %w", err)
	}
	if !added {
		return false, nil
	}
	entry.Seq = seq

	s.mu.Lock()
	defer s.mu.Unlock()
	if sub, ok := s.channels[entry.Channel]; ok {
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
	for _, p := range s.peers {
		if p.Channel != entry.Channel || p.ID == from {
			continue
		}
		p.enqueue([]models.Entry{entry})
	}
	return true, nil
}

// message converts a log entry for delivery. Unsigned entries are anonymous.
// A signed entry is valid when its signature verifies and its key is the one
// first seen signing for the username.
func (s *Swarm) message(e models.Entry) models.Message {
	msg := models.Message{
		Channel:   e.Channel,
		Username:  e.Username,
		Text:      e.Text,
		Timestamp: e.Timestamp,
		ChangeSeq: e.Seq,
	}
	if e.Signature == "" {
		msg.Anon = true
		return msg
	}
	payload := auth.Payload(e.Channel, e.Username, e.Text, e.Timestamp)
	if err := auth.Verify(e.PublicKey, e.Signature, payload); err != nil {
		return msg
	}
	msg.Valid = s.keyring.Pin(e.Username, e.PublicKey)
	return msg
}

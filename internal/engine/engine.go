// Package engine turns the swarm's asynchronous message and presence events
// into per-channel conversation state.
//
// An Engine owns the channel registry, the message reducer's offsets, the user
// table and the presence counters. It is not safe for concurrent use: a single
// goroutine (ws.Hub) owns it and feeds it every event in turn. Operations return
// an Outcome instead of rendering, so the owner decides when to refresh views.
package engine

import (
	"iter"
	"log"
	"strings"
	"time"

	"github.com/pliu/friends/internal/models"
)

const (
	// DefaultChannel is always present, always joined and cannot be left.
	DefaultChannel = "friends"
	// ControlChannel carries channel announcements only. It is never shown.
	ControlChannel = "channels"

	untrustedPrefix = "Allegedly "
)

// Transport is the part of the swarm the engine drives. Message delivery and
// peer events are wired by the owner of the engine.
type Transport interface {
	Changes(channel string) int64
	AddChannel(name string) error
	RemoveChannel(name string) error
	Send(msg models.Message) error
}

// Membership persists the channels the local user has joined.
type Membership interface {
	PutChannel(rec models.ChannelRecord) error
	DeleteChannel(name string) error
	ChannelRecords() iter.Seq2[models.ChannelRecord, error]
}

// Enricher prepares raw messages for display.
type Enricher interface {
	Enrich(msg models.Message) models.RichMessage
	TimeAgo(timestamp int64) string
}

type Notifier interface {
	Notify(channel, username, text string) error
}

type Config struct {
	Username  string
	Transport Transport
	Store     Membership
	Enricher  Enricher
	Notifier  Notifier // optional
	Now       func() time.Time
}

type Engine struct {
	username string
	focused  bool

	transport Transport
	store     Membership
	enricher  Enricher
	notifier  Notifier
	now       func() time.Time

	channels *Registry
	offsets  map[string]*offset
	users    *Users
	peers    int
	badge    int
}

func New(cfg Config) *Engine {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		username:  cfg.Username,
		focused:   true,
		transport: cfg.Transport,
		store:     cfg.Store,
		enricher:  cfg.Enricher,
		notifier:  cfg.Notifier,
		now:       now,
		channels:  newRegistry(),
		offsets:   make(map[string]*offset),
		users:     newUsers(),
	}
}

// Outcome tells the owner what an operation changed.
type Outcome struct {
	Dirty  bool // state changed, views should re-read it
	Scroll bool // views should scroll to the newest message, even if the user scrolled away
	Badge  bool // the badge count changed
}

func (o Outcome) Merge(p Outcome) Outcome {
	return Outcome{
		Dirty:  o.Dirty || p.Dirty,
		Scroll: o.Scroll || p.Scroll,
		Badge:  o.Badge || p.Badge,
	}
}

// Signal is a notification for the view layer.
type Signal interface {
	isSignal()
}

// StateChanged carries no payload; views re-read the snapshot.
type StateChanged struct{}

type ScrollToBottom struct {
	Force bool `json:"force"`
}

type BadgeChanged struct {
	Count int `json:"count"`
}

func (StateChanged) isSignal()   {}
func (ScrollToBottom) isSignal() {}
func (BadgeChanged) isSignal()   {}

// Signals converts an Outcome into the signals views should receive, in order.
func (e *Engine) Signals(o Outcome) []Signal {
	var signals []Signal
	if o.Dirty {
		signals = append(signals, StateChanged{})
	}
	if o.Scroll {
		signals = append(signals, ScrollToBottom{Force: true})
	}
	if o.Badge {
		signals = append(signals, BadgeChanged{Count: e.badge})
	}
	return signals
}

func (e *Engine) Username() string {
	return e.username
}

func (e *Engine) SetUsername(name string) Outcome {
	if name == "" || name == e.username {
		return Outcome{}
	}
	e.username = name
	return Outcome{Dirty: true}
}

// SetFocused records whether the host window has input focus. Regaining focus
// clears the badge.
func (e *Engine) SetFocused(focused bool) Outcome {
	e.focused = focused
	if focused && e.badge != 0 {
		e.badge = 0
		return Outcome{Badge: true}
	}
	return Outcome{}
}

func (e *Engine) Badge() int {
	return e.badge
}

// Peers returns the global peer count.
func (e *Engine) Peers() int {
	return e.peers
}

// Send publishes text to the active channel. Blank text is ignored.
func (e *Engine) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	msg := models.Message{
		Channel:   e.channels.Active().Name,
		Username:  e.username,
		Text:      text,
		Timestamp: e.now().UnixMilli(),
	}
	if err := e.transport.Send(msg); err != nil {
		log.Printf("Error sending message to #%s: %v", msg.Channel, err)
		return err
	}
	return nil
}

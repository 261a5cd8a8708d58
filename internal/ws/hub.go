package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/pliu/friends/internal/engine"
	"github.com/pliu/friends/internal/models"
	"github.com/pliu/friends/internal/swarm"
)

var ErrStopped = errors.New("hub stopped")

// Source is the event side of the swarm.
type Source interface {
	Process(h swarm.Handler)
	OnPeer(fn func(*swarm.Peer))
	Subscribed(name string) bool
}

type delivery struct {
	msg  models.Message
	done func()
}

type call struct {
	fn   func(*engine.Engine) engine.Outcome
	done chan struct{}
}

// Hub owns the engine. Every swarm event, view command and timer tick is
// applied on the Run goroutine, one at a time.
type Hub struct {
	engine *engine.Engine
	source Source

	// Registered view clients.
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	commands   chan Command
	calls      chan call

	deliveries chan delivery
	peers      chan *swarm.Peer
	gone       chan engine.Attribution

	refresh time.Duration
	quit    chan struct{}

	// Cross-origin views allowed to open the websocket.
	origins []string
}

func NewHub(e *engine.Engine, source Source, refresh time.Duration) *Hub {
	h := &Hub{
		engine:     e,
		source:     source,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan Command),
		calls:      make(chan call),
		deliveries: make(chan delivery),
		peers:      make(chan *swarm.Peer),
		gone:       make(chan engine.Attribution),
		refresh:    refresh,
		quit:       make(chan struct{}),
	}
	if h.refresh <= 0 {
		h.refresh = time.Minute
	}
	source.Process(func(msg models.Message, done func()) {
		select {
		case h.deliveries <- delivery{msg, done}:
		case <-h.quit:
		}
	})
	source.OnPeer(func(p *swarm.Peer) {
		select {
		case h.peers <- p:
		case <-h.quit:
		}
	})
	return h
}

// AllowOrigins sets the cross-origin views that may connect. It must be
// called before the hub serves clients.
func (h *Hub) AllowOrigins(origins []string) {
	h.origins = origins
}

// Run starts the engine and applies events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.quit)

	h.apply(h.engine.Start())

	ticker := time.NewTicker(h.refresh)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.sendTo(client, h.stateEvent())
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case d := <-h.deliveries:
			// Deliveries already queued for a channel that was just left
			// must not bring it back.
			if d.msg.Channel != "" && !h.source.Subscribed(d.msg.Channel) {
				d.done()
				continue
			}
			out := h.engine.Ingest(d.msg)
			d.done()
			h.apply(out)
		case p := <-h.peers:
			a, out := h.engine.PeerConnected(p.Channel)
			go h.watch(p, a)
			h.apply(out)
		case a := <-h.gone:
			h.apply(h.engine.PeerDisconnected(a))
		case cmd := <-h.commands:
			h.apply(h.execute(cmd))
		case c := <-h.calls:
			h.apply(c.fn(h.engine))
			close(c.done)
		case <-ticker.C:
			h.apply(h.engine.RefreshTimeAgo())
		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			return
		}
	}
}

// Do runs fn on the hub goroutine and waits for it. The returned Outcome is
// broadcast to view clients.
func (h *Hub) Do(fn func(*engine.Engine) engine.Outcome) error {
	c := call{fn: fn, done: make(chan struct{})}
	select {
	case h.calls <- c:
	case <-h.quit:
		return ErrStopped
	}
	select {
	case <-c.done:
		return nil
	case <-h.quit:
		return ErrStopped
	}
}

func (h *Hub) watch(p *swarm.Peer, a engine.Attribution) {
	<-p.Done()
	select {
	case h.gone <- a:
	case <-h.quit:
	}
}

func (h *Hub) execute(cmd Command) engine.Outcome {
	switch cmd.Op {
	case OpSelectChannel:
		return h.engine.SetActive(cmd.Channel)
	case OpAddChannel:
		return h.engine.Add(cmd.Channel)
	case OpLeaveChannel:
		return h.engine.Remove(cmd.Channel)
	case OpSendMessage:
		// Send logs its own failures; the echo from the swarm updates the view.
		h.engine.Send(cmd.Text)
		return engine.Outcome{}
	case OpToggleBlock:
		return h.engine.ToggleBlock(cmd.Username)
	case OpFocus:
		return h.engine.SetFocused(cmd.Focused)
	case OpSetUsername:
		return h.engine.SetUsername(cmd.Username)
	default:
		log.Printf("Unknown command op: %s", cmd.Op)
		return engine.Outcome{}
	}
}

// apply broadcasts the signals of an outcome to every client.
func (h *Hub) apply(out engine.Outcome) {
	signals := h.engine.Signals(out)
	if len(signals) == 0 || len(h.clients) == 0 {
		return
	}
	for _, sig := range signals {
		var event Event
		switch s := sig.(type) {
		case engine.StateChanged:
			event = h.stateEvent()
		case engine.ScrollToBottom:
			event = Event{Op: OpScroll, Data: s}
		case engine.BadgeChanged:
			event = Event{Op: OpBadge, Data: s}
		}
		msgBytes, err := json.Marshal(event)
		if err != nil {
			log.Printf("Error encoding %s event: %v", event.Op, err)
			continue
		}
		for client := range h.clients {
			select {
			case client.send <- msgBytes:
			default:
				close(client.send)
				delete(h.clients, client)
			}
		}
	}
}

func (h *Hub) stateEvent() Event {
	return Event{Op: OpState, Data: h.engine.Snapshot()}
}

func (h *Hub) sendTo(client *Client, event Event) {
	msgBytes, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error encoding %s event: %v", event.Op, err)
		return
	}
	select {
	case client.send <- msgBytes:
	default:
		close(client.send)
		delete(h.clients, client)
	}
}

package engine

import (
	"log"
	"strings"

	"github.com/pliu/friends/internal/models"
)

// offset is the catch-up tracker of one subscription epoch.
type offset struct {
	expected int64
	caughtUp bool
}

// advance reports whether a message with the given change sequence is live.
// The first sequence reaching the expected backlog size flips the tracker for
// the rest of the epoch.
func (o *offset) advance(seq int64) bool {
	if !o.caughtUp && seq >= o.expected {
		o.caughtUp = true
	}
	return o.caughtUp
}

// Ingest folds one transport message into the engine state. Messages before
// the catch-up boundary only dirty the state; at and after it they also ask
// views to scroll.
//
// There is no de-duplication: a message delivered twice is stored twice unless
// it coalesces.
func (e *Engine) Ingest(msg models.Message) Outcome {
	if msg.Channel == ControlChannel {
		if !msg.Valid {
			return Outcome{}
		}
		return e.Announce(msg.Text)
	}
	if msg.Channel == "" {
		msg.Channel = DefaultChannel
	} else if name, ok := channelName(msg.Channel); ok {
		msg.Channel = name
	} else {
		return Outcome{}
	}

	ch, created := e.channels.ResolveOrCreate(msg.Channel)
	if created {
		ch.Joined = true
		e.channels.activate(ch)
	} else if !ch.Joined {
		ch.Joined = true
	}

	rich := e.enricher.Enrich(msg)
	coalesce(ch, &rich)
	e.users.Observe(rich.Username, rich.Avatar, rich.Valid, rich.Anon)

	live := e.offset(ch.Name).advance(msg.ChangeSeq)
	out := Outcome{Dirty: true, Scroll: live}
	if live && e.mentioned(msg) {
		e.alert(ch.Name, msg)
		e.badge++
		out.Badge = true
	}
	return out
}

// coalesce appends msg to the channel, or merges it into the last entry when
// that entry has the same author and the same trust flags. A merged entry is
// rendered with one trust annotation, so fragments of differing trust never
// share an entry.
func coalesce(ch *models.Channel, msg *models.RichMessage) {
	if n := len(ch.Messages); n > 0 {
		last := ch.Messages[n-1]
		if last.Username == msg.Username && last.Anon == msg.Anon && last.Valid == msg.Valid {
			last.Text += "\n" + msg.Text
			last.HTML += msg.HTML
			return
		}
	}
	ch.Messages = append(ch.Messages, msg)
}

// offset returns the channel's tracker, capturing the backlog size if the
// channel's traffic arrived before any explicit subscription.
func (e *Engine) offset(name string) *offset {
	o, ok := e.offsets[name]
	if !ok {
		o = &offset{expected: e.transport.Changes(name)}
		e.offsets[name] = o
	}
	return o
}

func (e *Engine) mentioned(msg models.Message) bool {
	if e.username == "" || e.focused || msg.Username == e.username {
		return false
	}
	return strings.Contains(msg.Text, e.username)
}

func (e *Engine) alert(channel string, msg models.Message) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(channel, msg.Username, msg.Text); err != nil {
		log.Printf("Error sending notification: %v", err)
	}
}

// RefreshTimeAgo recomputes relative timestamps for the active channel only.
func (e *Engine) RefreshTimeAgo() Outcome {
	msgs := e.channels.Active().Messages
	for _, m := range msgs {
		m.TimeAgo = e.enricher.TimeAgo(m.Timestamp)
	}
	return Outcome{Dirty: len(msgs) > 0}
}

package engine

import "github.com/pliu/friends/internal/models"

// Attribution remembers which channel a connected peer was counted against.
type Attribution struct {
	channel *models.Channel
}

// PeerConnected counts a new peer for the channel, if the channel still exists,
// and globally.
func (e *Engine) PeerConnected(name string) (Attribution, Outcome) {
	var a Attribution
	if ch, ok := e.channels.Get(name); ok {
		ch.PeerCount++
		a.channel = ch
	}
	e.peers++
	return a, Outcome{Dirty: true}
}

// PeerDisconnected reverses PeerConnected. Counts attributed to a channel that
// has since been removed are not reconciled.
func (e *Engine) PeerDisconnected(a Attribution) Outcome {
	if a.channel != nil && a.channel.PeerCount > 0 {
		a.channel.PeerCount--
	}
	if e.peers > 0 {
		e.peers--
	}
	return Outcome{Dirty: true}
}

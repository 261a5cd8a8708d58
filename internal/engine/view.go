package engine

import "github.com/pliu/friends/internal/models"

// Snapshot is the materialized state a view renders.
type Snapshot struct {
	Username string        `json:"username"`
	Peers    int           `json:"peers"`
	Badge    int           `json:"badge"`
	Active   string        `json:"active"`
	Channels []ChannelView `json:"channels"`
	Messages []MessageView `json:"messages"`
	Users    []models.User `json:"users"`
}

type ChannelView struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Joined bool   `json:"joined"`
	Active bool   `json:"active"`
	Peers  int    `json:"peers"`
}

type MessageView struct {
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar"`
	Text        string `json:"text"`
	HTML        string `json:"html"`
	Timestamp   int64  `json:"timestamp"`
	TimeAgo     string `json:"timeago"`
	Verified    bool   `json:"verified"`
}

func (e *Engine) Snapshot() Snapshot {
	active := e.channels.Active()
	snap := Snapshot{
		Username: e.username,
		Peers:    e.peers,
		Badge:    e.badge,
		Active:   active.Name,
		Messages: e.render(active),
		Users:    e.users.List(),
	}
	for _, ch := range e.channels.List() {
		snap.Channels = append(snap.Channels, ChannelView{
			ID:     ch.ID,
			Name:   ch.Name,
			Joined: ch.Joined,
			Active: ch.Active,
			Peers:  ch.PeerCount,
		})
	}
	return snap
}

// Messages materializes the named channel's conversation.
func (e *Engine) Messages(name string) ([]MessageView, bool) {
	ch, ok := e.Channel(name)
	if !ok {
		return nil, false
	}
	return e.render(ch), true
}

// render hides blocked authors and applies the trust annotation. Stored
// messages are left untouched.
func (e *Engine) render(ch *models.Channel) []MessageView {
	views := make([]MessageView, 0, len(ch.Messages))
	for _, m := range ch.Messages {
		if e.users.Blocked(m.Username) {
			continue
		}
		display := m.Username
		if !m.Anon && !m.Valid {
			display = untrustedPrefix + m.Username
		}
		views = append(views, MessageView{
			Username:    m.Username,
			DisplayName: display,
			Avatar:      m.Avatar,
			Text:        m.Text,
			HTML:        m.HTML,
			Timestamp:   m.Timestamp,
			TimeAgo:     m.TimeAgo,
			Verified:    !m.Anon && m.Valid,
		})
	}
	return views
}

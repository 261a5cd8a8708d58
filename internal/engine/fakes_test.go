package engine

import (
	"iter"
	"strings"

	"github.com/pliu/friends/internal/models"
)

type fakeTransport struct {
	changes map[string]int64
	added   []string
	removed []string
	sent    []models.Message
	sendErr error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{changes: make(map[string]int64)}
}

func (t *fakeTransport) Changes(channel string) int64 { return t.changes[channel] }

func (t *fakeTransport) AddChannel(name string) error {
	t.added = append(t.added, name)
	return nil
}

func (t *fakeTransport) RemoveChannel(name string) error {
	t.removed = append(t.removed, name)
	return nil
}

func (t *fakeTransport) Send(msg models.Message) error {
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) subscribed(name string) bool {
	for _, n := range t.added {
		if n == name {
			return true
		}
	}
	return false
}

type fakeStore struct {
	records []models.ChannelRecord
	puts    []models.ChannelRecord
	dels    []string
	delErr  error
	readErr error
}

func (s *fakeStore) PutChannel(rec models.ChannelRecord) error {
	s.puts = append(s.puts, rec)
	return nil
}

func (s *fakeStore) DeleteChannel(name string) error {
	s.dels = append(s.dels, name)
	return s.delErr
}

func (s *fakeStore) ChannelRecords() iter.Seq2[models.ChannelRecord, error] {
	return func(yield func(models.ChannelRecord, error) bool) {
		for _, rec := range s.records {
			if !yield(rec, nil) {
				return
			}
		}
		if s.readErr != nil {
			yield(models.ChannelRecord{}, s.readErr)
		}
	}
}

type fakeEnricher struct{}

func (fakeEnricher) Enrich(msg models.Message) models.RichMessage {
	return models.RichMessage{
		Message: msg,
		Avatar:  "avatar:" + msg.Username,
		HTML:    "<p>" + msg.Text + "</p>",
	}
}

func (fakeEnricher) TimeAgo(timestamp int64) string {
	if timestamp == 0 {
		return "long ago"
	}
	return "just now"
}

type notification struct {
	channel, username, text string
}

type fakeNotifier struct {
	sent []notification
}

func (n *fakeNotifier) Notify(channel, username, text string) error {
	n.sent = append(n.sent, notification{channel, username, text})
	return nil
}

type fixture struct {
	engine    *Engine
	transport *fakeTransport
	store     *fakeStore
	notifier  *fakeNotifier
}

func newFixture(username string) *fixture {
	f := &fixture{
		transport: newFakeTransport(),
		store:     &fakeStore{},
		notifier:  &fakeNotifier{},
	}
	f.engine = New(Config{
		Username:  username,
		Transport: f.transport,
		Store:     f.store,
		Enricher:  fakeEnricher{},
		Notifier:  f.notifier,
	})
	return f
}

func msg(channel, username, text string, seq int64) models.Message {
	return models.Message{
		Channel:   channel,
		Username:  username,
		Text:      text,
		Timestamp: 1700000000000,
		ChangeSeq: seq,
		Valid:     true,
	}
}

func activeNames(e *Engine) []string {
	var names []string
	for _, ch := range e.channels.order {
		if ch.Active {
			names = append(names, ch.Name)
		}
	}
	return names
}

func channelNames(e *Engine) string {
	var names []string
	for _, ch := range e.Channels() {
		names = append(names, ch.Name)
	}
	return strings.Join(names, ",")
}

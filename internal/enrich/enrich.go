// Package enrich prepares raw swarm messages for display.
package enrich

import (
	"bytes"
	"html"
	"log"
	"net/url"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/pliu/friends/internal/models"
)

// DefaultAvatar is shown for anonymous and unverified authors.
const DefaultAvatar = "static/Icon.png"

type Enricher struct {
	md  goldmark.Markdown
	now func() time.Time
}

// New returns an Enricher. now may be nil.
func New(now func() time.Time) *Enricher {
	if now == nil {
		now = time.Now
	}
	return &Enricher{
		// Raw HTML in message text is omitted by the default renderer.
		md:  goldmark.New(goldmark.WithExtensions(extension.Linkify, extension.Strikethrough)),
		now: now,
	}
}

func (e *Enricher) Enrich(msg models.Message) models.RichMessage {
	return models.RichMessage{
		Message: msg,
		Avatar:  Avatar(msg),
		HTML:    e.render(msg.Text),
		TimeAgo: e.TimeAgo(msg.Timestamp),
	}
}

func (e *Enricher) render(text string) string {
	var buf bytes.Buffer
	if err := e.md.Convert([]byte(text), &buf); err != nil {
		log.Printf("Error rendering markdown: %v", err)
		return html.EscapeString(text)
	}
	return buf.String()
}

// TimeAgo formats a unix millisecond timestamp relative to now.
func (e *Enricher) TimeAgo(timestamp int64) string {
	return humanize.RelTime(time.UnixMilli(timestamp), e.now(), "ago", "from now")
}

// Avatar resolves the GitHub avatar of verified authors.
func Avatar(msg models.Message) string {
	if msg.Anon || !msg.Valid || msg.Username == "" {
		return DefaultAvatar
	}
	return "https://github.com/" + url.PathEscape(msg.Username) + ".png"
}

// Package notify raises desktop alerts for mentions.
package notify

import (
	"bytes"
	"fmt"
	"log"
	"text/template"

	"github.com/gen2brain/beeep"
)

const (
	titleTemplate = `Mentioned in #{{.Channel}}`
	bodyTemplate  = `{{.Username}}: {{preview .Text}}`

	previewLength = 20
)

type Notifier struct {
	Enabled bool
	Icon    string

	title *template.Template
	body  *template.Template
	send  func(title, body, icon string) error
}

func New(enabled bool, icon string) *Notifier {
	funcs := template.FuncMap{"preview": preview}
	return &Notifier{
		Enabled: enabled,
		Icon:    icon,
		title:   template.Must(template.New("title").Parse(titleTemplate)),
		body:    template.Must(template.New("body").Funcs(funcs).Parse(bodyTemplate)),
		send: func(title, body, icon string) error {
			return beeep.Notify(title, body, icon)
		},
	}
}

// Notify alerts the user that they were mentioned. When disabled it only logs.
func (n *Notifier) Notify(channel, username, text string) error {
	data := map[string]string{"Channel": channel, "Username": username, "Text": text}

	var title, body bytes.Buffer
	if err := n.title.Execute(&title, data); err != nil {
		return fmt.Errorf("failed to execute title template: %w", err)
	}
	if err := n.body.Execute(&body, data); err != nil {
		return fmt.Errorf("failed to execute body template: %w", err)
	}

	if !n.Enabled {
		log.Printf("Notification: %s: %s", title.String(), body.String())
		return nil
	}
	if err := n.send(title.String(), body.String(), n.Icon); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) > previewLength {
		return string(runes[:previewLength])
	}
	return text
}

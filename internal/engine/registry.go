package engine

import (
	"log"
	"strings"

	"github.com/pliu/friends/internal/models"
)

// Registry is the directory of known channels in discovery order.
type Registry struct {
	byName map[string]*models.Channel
	order  []*models.Channel
	nextID int
	active *models.Channel
}

func newRegistry() *Registry {
	r := &Registry{byName: make(map[string]*models.Channel)}
	home, _ := r.ResolveOrCreate(DefaultChannel)
	home.Joined = true
	r.activate(home)
	return r
}

func (r *Registry) Get(name string) (*models.Channel, bool) {
	ch, ok := r.byName[name]
	return ch, ok
}

// ResolveOrCreate returns the named channel, creating an unjoined one if it
// has not been seen. It never subscribes the transport.
func (r *Registry) ResolveOrCreate(name string) (*models.Channel, bool) {
	if ch, ok := r.byName[name]; ok {
		return ch, false
	}
	ch := &models.Channel{ID: r.nextID, Name: name}
	r.nextID++
	r.byName[name] = ch
	r.order = append(r.order, ch)
	return ch, true
}

func (r *Registry) Active() *models.Channel {
	return r.active
}

// List returns the user-visible channels in discovery order.
func (r *Registry) List() []*models.Channel {
	list := make([]*models.Channel, 0, len(r.order))
	for _, ch := range r.order {
		if ch.Name == ControlChannel {
			continue
		}
		list = append(list, ch)
	}
	return list
}

func (r *Registry) activate(target *models.Channel) {
	for _, ch := range r.order {
		ch.Active = ch == target
	}
	r.active = target
}

func (r *Registry) delete(name string) {
	ch, ok := r.byName[name]
	if !ok {
		return
	}
	delete(r.byName, name)
	for i, c := range r.order {
		if c == ch {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// channelName strips a leading '#' and rejects empty and reserved names.
func channelName(raw string) (string, bool) {
	name := strings.TrimPrefix(raw, "#")
	if name == "" || name == ControlChannel {
		return "", false
	}
	return name, true
}

// Announce records that a channel exists without joining it.
func (e *Engine) Announce(raw string) Outcome {
	name, ok := channelName(raw)
	if !ok {
		return Outcome{}
	}
	if _, created := e.channels.ResolveOrCreate(name); !created {
		return Outcome{}
	}
	return Outcome{Dirty: true}
}

// SetActive makes name the only active channel. A channel that was only
// announced is joined here, which is the only place discovery turns into a
// transport subscription.
func (e *Engine) SetActive(name string) Outcome {
	if name == ControlChannel {
		return Outcome{}
	}
	ch, ok := e.channels.Get(name)
	if !ok {
		return Outcome{}
	}
	if !ch.Joined {
		ch.Joined = true
		e.subscribe(ch.Name)
	}
	e.channels.activate(ch)
	if ch.Name != DefaultChannel {
		e.persist(ch)
	}
	return Outcome{Dirty: true, Scroll: true}
}

// Add joins (creating and announcing if needed) and selects a channel.
// SetActive persists the membership.
func (e *Engine) Add(raw string) Outcome {
	name, ok := channelName(raw)
	if !ok {
		return Outcome{}
	}
	ch, created := e.channels.ResolveOrCreate(name)
	switch {
	case created:
		ch.Joined = true
		e.subscribe(name)
		e.announce(name)
	case !ch.Joined:
		ch.Joined = true
		e.subscribe(name)
	}
	return e.SetActive(name)
}

// Remove leaves a channel. Leaving the default channel does nothing.
func (e *Engine) Remove(name string) Outcome {
	if name == DefaultChannel || name == ControlChannel {
		return Outcome{}
	}
	ch, ok := e.channels.Get(name)
	if !ok {
		return Outcome{}
	}

	if err := e.store.DeleteChannel(name); err != nil {
		log.Printf("Error deleting channel %s: %v", name, err)
	}
	e.channels.delete(name)
	delete(e.offsets, name)
	if ch.Joined {
		if err := e.transport.RemoveChannel(name); err != nil {
			log.Printf("Error unsubscribing from %s: %v", name, err)
		}
	}

	out := Outcome{Dirty: true}
	if ch.Active {
		ch.Active = false
		home, _ := e.channels.Get(DefaultChannel)
		e.channels.activate(home)
		out.Scroll = true
	}
	return out
}

// Channels returns the user-visible channels in discovery order.
func (e *Engine) Channels() []*models.Channel {
	return e.channels.List()
}

func (e *Engine) Channel(name string) (*models.Channel, bool) {
	if name == ControlChannel {
		return nil, false
	}
	return e.channels.Get(name)
}

func (e *Engine) Active() *models.Channel {
	return e.channels.Active()
}

// subscribe starts a new subscription epoch for the channel.
func (e *Engine) subscribe(name string) {
	if err := e.transport.AddChannel(name); err != nil {
		log.Printf("Error subscribing to %s: %v", name, err)
	}
	e.offsets[name] = &offset{expected: e.transport.Changes(name)}
}

func (e *Engine) persist(ch *models.Channel) {
	if err := e.store.PutChannel(models.ChannelRecord{Name: ch.Name, ID: ch.ID}); err != nil {
		log.Printf("Error saving channel %s: %v", ch.Name, err)
	}
}

func (e *Engine) announce(name string) {
	msg := models.Message{
		Channel:   ControlChannel,
		Username:  e.username,
		Text:      name,
		Timestamp: e.now().UnixMilli(),
	}
	if err := e.transport.Send(msg); err != nil {
		log.Printf("Error announcing %s: %v", name, err)
	}
}

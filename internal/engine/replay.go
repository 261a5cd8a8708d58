package engine

import "log"

// Start subscribes the control and default channels and replays the persisted
// membership. It must run before any transport message is ingested.
func (e *Engine) Start() Outcome {
	if err := e.transport.AddChannel(ControlChannel); err != nil {
		log.Printf("Error subscribing to %s: %v", ControlChannel, err)
	}
	e.subscribe(DefaultChannel)

	// Subscriptions wait for the end of the stream so the store is free
	// while the transport opens each channel.
	var joined []string
	for rec, err := range e.store.ChannelRecords() {
		if err != nil {
			log.Printf("Error reading joined channels: %v", err)
			break
		}
		name, ok := channelName(rec.Name)
		if !ok || name == DefaultChannel {
			continue
		}
		ch, _ := e.channels.ResolveOrCreate(name)
		if ch.Joined {
			continue
		}
		ch.Joined = true
		joined = append(joined, name)
	}
	for _, name := range joined {
		e.subscribe(name)
	}
	return Outcome{Dirty: true}
}

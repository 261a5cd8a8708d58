package swarm

import (
	"log"
	"sync"
	"time"

	"github.com/pliu/friends/internal/models"
)

func (s *Swarm) pump(sub *subscription) {
	defer s.wg.Done()

	select {
	case <-s.ready:
	case <-sub.ctx.Done():
		return
	}

	var cursor int64
	for {
		entries, err := s.store.Entries(sub.name, cursor, batchSize)
		if err != nil {
			log.Printf("Error reading log of %s: %v", sub.name, err)
			select {
			case <-time.After(s.retry):
				continue
			case <-sub.ctx.Done():
				return
			}
		}
		for _, e := range entries {
			if !s.deliver(sub, e) {
				return
			}
			cursor = e.Seq
		}
		if len(entries) == batchSize {
			continue
		}

		select {
		case <-sub.wake:
		case <-sub.ctx.Done():
			return
		}
	}
}

// deliver hands one entry to the handler and blocks until it is done or the
// channel is left.
func (s *Swarm) deliver(sub *subscription, e models.Entry) bool {
	if sub.ctx.Err() != nil {
		return false
	}
	done := make(chan struct{})
	var once sync.Once
	s.handler(s.message(e), func() {
		once.Do(func() { close(done) })
	})

	select {
	case <-done:
		return true
	case <-sub.ctx.Done():
		return false
	}
}

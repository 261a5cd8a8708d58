package swarm

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pliu/friends/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 1 << 20
	sendBufferSize = 256
)

// Peer is a websocket link to another node, scoped to one channel.
type Peer struct {
	ID      uuid.UUID
	Channel string
	Remote  string

	conn      *websocket.Conn
	send      chan []models.Entry
	done      chan struct{}
	closeOnce sync.Once
}

func newPeer(conn *websocket.Conn, channel, remote string) *Peer {
	return &Peer{
		ID:      uuid.New(),
		Channel: channel,
		Remote:  remote,
		conn:    conn,
		send:    make(chan []models.Entry, sendBufferSize),
		done:    make(chan struct{}),
	}
}

// Done is closed when the peer disconnects.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

func (p *Peer) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}

// enqueue queues a batch for the write pump. A peer that cannot keep up is
// dropped; it receives the full log again when it reconnects.
func (p *Peer) enqueue(batch []models.Entry) {
	select {
	case p.send <- batch:
	case <-p.done:
	default:
		log.Printf("Dropping slow peer %s on #%s", p.ID, p.Channel)
		p.Close()
	}
}

func (p *Peer) readPump(receive func([]models.Entry)) {
	defer p.Close()

	p.conn.SetReadLimit(maxFrameSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var batch []models.Entry
		if err := p.conn.ReadJSON(&batch); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Error reading from peer %s: %v", p.ID, err)
			}
			return
		}
		receive(batch)
	}
}

func (p *Peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.Close()
	}()

	for {
		select {
		case batch := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteJSON(batch); err != nil {
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-p.done:
			return
		}
	}
}

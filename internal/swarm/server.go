package swarm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/pliu/friends/internal/auth"
	"github.com/pliu/friends/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Peers are other nodes, not browsers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler returns the router accepting peer links at /swarm/{channel}.
func (s *Swarm) Handler() http.Handler {
	r := mux.NewRouter().UseEncodedPath()
	r.HandleFunc("/swarm/{channel}", s.serveWs).Methods("GET")
	return r
}

func (s *Swarm) serveWs(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(mux.Vars(r)["channel"])
	if err != nil {
		http.Error(w, "Invalid channel", http.StatusBadRequest)
		return
	}
	sub, ok := s.subscription(name)
	if !ok {
		http.Error(w, ErrNotJoined.Error(), http.StatusNotFound)
		return
	}
	if s.Peers() >= s.maxPeers {
		http.Error(w, ErrTooManyPeers.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Error upgrading peer %s: %v", r.RemoteAddr, err)
		return
	}
	if err := s.serve(sub.ctx, newPeer(conn, name, r.RemoteAddr)); err != nil {
		log.Printf("Error serving peer %s: %v", r.RemoteAddr, err)
	}
}

// connect keeps a link to one bootstrap peer open for as long as the channel
// is joined.
func (s *Swarm) connect(sub *subscription, base string) {
	defer s.wg.Done()

	target, err := peerURL(base, sub.name)
	if err != nil {
		log.Printf("Error parsing peer address %s: %v", base, err)
		return
	}
	for {
		if err := s.dial(sub, target); err != nil && sub.ctx.Err() == nil {
			log.Printf("Error connecting to %s: %v", target, err)
		}
		select {
		case <-sub.ctx.Done():
			return
		case <-time.After(s.retry):
		}
	}
}

func (s *Swarm) dial(sub *subscription, target string) error {
	if s.Peers() >= s.maxPeers {
		return ErrTooManyPeers
	}
	conn, _, err := s.dialer.DialContext(sub.ctx, target, nil)
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}
	return s.serve(sub.ctx, newPeer(conn, sub.name, target))
}

// serve runs a connected peer until it disconnects or the channel is left.
func (s *Swarm) serve(ctx context.Context, p *Peer) error {
	if err := s.addPeer(p); err != nil {
		p.Close()
		return err
	}
	defer s.removePeer(p)

	go p.writePump()
	go func() {
		select {
		case <-ctx.Done():
			p.Close()
		case <-p.done:
		}
	}()
	go s.sendLog(p)

	p.readPump(func(batch []models.Entry) {
		for _, e := range batch {
			s.receive(p, e)
		}
	})
	return nil
}

func (s *Swarm) addPeer(p *Peer) error {
	s.mu.Lock()
	if len(s.peers) >= s.maxPeers {
		s.mu.Unlock()
		return ErrTooManyPeers
	}
	s.peers[p.ID] = p
	onPeer := s.onPeer
	s.mu.Unlock()

	if onPeer != nil {
		onPeer(p)
	}
	return nil
}

func (s *Swarm) removePeer(p *Peer) {
	p.Close()
	s.mu.Lock()
	delete(s.peers, p.ID)
	s.mu.Unlock()
}

// sendLog streams the channel's whole local log to a newly connected peer.
func (s *Swarm) sendLog(p *Peer) {
	var cursor int64
	for {
		entries, err := s.store.Entries(p.Channel, cursor, batchSize)
		if err != nil {
			log.Printf("Error reading log of %s: %v", p.Channel, err)
			p.Close()
			return
		}
		if len(entries) == 0 {
			return
		}
		select {
		case p.send <- entries:
		case <-p.done:
			return
		}
		cursor = entries[len(entries)-1].Seq
	}
}

// receive appends an entry replicated by p. Entries for another channel or
// whose key does not match their content are dropped.
func (s *Swarm) receive(p *Peer, e models.Entry) {
	if e.Channel != p.Channel {
		log.Printf("Dropping entry for #%s from peer on #%s", e.Channel, p.Channel)
		return
	}
	payload := auth.Payload(e.Channel, e.Username, e.Text, e.Timestamp)
	if auth.EntryKey(payload, e.PublicKey, e.Signature) != e.Key {
		log.Printf("Dropping entry with mismatched key from peer %s", p.ID)
		return
	}
	if _, err := s.append(e, p.ID); err != nil {
		log.Printf("Error storing entry from peer %s: %v", p.ID, err)
	}
}

// peerURL builds the websocket address of a channel on a bootstrap peer.
func peerURL(base, channel string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", errors.New("unsupported scheme " + u.Scheme)
	}
	prefix := strings.TrimSuffix(u.Path, "/")
	u.Path = prefix + "/swarm/" + channel
	u.RawPath = prefix + "/swarm/" + url.PathEscape(channel)
	return u.String(), nil
}

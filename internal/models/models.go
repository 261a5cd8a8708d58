package models

// Message is a raw chat event as delivered by the swarm transport.
// ChangeSeq is the position of the entry in the local change log for its
// channel. It is not a unique id.
type Message struct {
	Channel   string `json:"channel"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	ChangeSeq int64  `json:"change"`
	Valid     bool   `json:"valid"`
	Anon      bool   `json:"anon"`
}

// RichMessage is a Message prepared for display.
type RichMessage struct {
	Message
	Avatar  string `json:"avatar"`
	HTML    string `json:"html"`
	TimeAgo string `json:"timeago"`
}

type Channel struct {
	ID        int            `json:"id"`
	Name      string         `json:"name"`
	Joined    bool           `json:"joined"`
	Active    bool           `json:"active"`
	PeerCount int            `json:"peers"`
	Messages  []*RichMessage `json:"-"`
}

type User struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Blocked  bool   `json:"blocked"`
}

// ChannelRecord is the persisted form of a joined channel.
type ChannelRecord struct {
	Name string `json:"name"`
	ID   int    `json:"id"`
}

// Entry is a signed change log record as stored and replicated between peers.
type Entry struct {
	Seq       int64  `json:"-"`
	Key       string `json:"key"`
	Channel   string `json:"channel"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	PublicKey string `json:"public_key,omitempty"`
	Signature string `json:"signature,omitempty"`
}

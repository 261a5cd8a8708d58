package ws

// Ops sent by view clients.
const (
	OpSelectChannel = "select_channel"
	OpAddChannel    = "add_channel"
	OpLeaveChannel  = "leave_channel"
	OpSendMessage   = "send_message"
	OpToggleBlock   = "toggle_block"
	OpFocus         = "focus"
	OpSetUsername   = "set_username"
)

// Ops sent to view clients.
const (
	OpState  = "state"
	OpScroll = "scroll"
	OpBadge  = "badge"
)

// Command is a view action. Only the fields its Op needs are set.
type Command struct {
	Op       string `json:"op"`
	Channel  string `json:"channel,omitempty"`
	Text     string `json:"text,omitempty"`
	Username string `json:"username,omitempty"`
	Focused  bool   `json:"focused,omitempty"`
}

// Event is pushed to view clients.
type Event struct {
	Op   string `json:"op"`
	Data any    `json:"data,omitempty"`
}

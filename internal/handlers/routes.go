package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pliu/friends/internal/ws"
)

// Register mounts the view API and the view websocket on r.
func Register(r *mux.Router, hub *ws.Hub, users *UserHandler) {
	channels := &ChannelHandler{Hub: hub}
	if users == nil {
		users = &UserHandler{Hub: hub}
	}

	r.HandleFunc("/state", channels.GetState).Methods("GET")
	r.HandleFunc("/channels", channels.GetChannels).Methods("GET")
	r.HandleFunc("/channels", channels.AddChannel).Methods("POST")
	r.HandleFunc("/channels/{name}/messages", channels.GetChannelMessages).Methods("GET")
	r.HandleFunc("/channels/{name}/select", channels.SelectChannel).Methods("POST")
	r.HandleFunc("/channels/{name}", channels.LeaveChannel).Methods("DELETE")
	r.HandleFunc("/messages", channels.SendMessage).Methods("POST")

	r.HandleFunc("/users", users.SearchUsers).Methods("GET")
	r.HandleFunc("/users/{username}/block", users.ToggleBlock).Methods("POST")
	r.HandleFunc("/username", users.GetUsername).Methods("GET")
	r.HandleFunc("/username", users.SetUsername).Methods("PUT")
	r.HandleFunc("/focus", users.Focus).Methods("POST")

	r.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r)
	})
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pliu/friends/internal/engine"
	"github.com/pliu/friends/internal/ws"
)

type ChannelHandler struct {
	Hub *ws.Hub
}

type AddChannelRequest struct {
	Name string `json:"name"`
}

type SendMessageRequest struct {
	Text string `json:"text"`
}

func (h *ChannelHandler) GetState(w http.ResponseWriter, r *http.Request) {
	var snap engine.Snapshot
	err := h.Hub.Do(func(e *engine.Engine) engine.Outcome {
		snap = e.Snapshot()
		return engine.Outcome{}
	})
	if err != nil {
		hubError(w, err)
		return
	}
	json.NewEncoder(w).Encode(snap)
}

func (h *ChannelHandler) GetChannels(w http.ResponseWriter, r *http.Request) {
	var channels []engine.ChannelView
	err := h.Hub.Do(func(e *engine.Engine) engine.Outcome {
		channels = e.Snapshot().Channels
		return engine.Outcome{}
	})
	if err != nil {
		hubError(w, err)
		return
	}
	json.NewEncoder(w).Encode(channels)
}

func (h *ChannelHandler) GetChannelMessages(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var messages []engine.MessageView
	var found bool
	err := h.Hub.Do(func(e *engine.Engine) engine.Outcome {
		messages, found = e.Messages(name)
		return engine.Outcome{}
	})
	if err != nil {
		hubError(w, err)
		return
	}
	if !found {
		http.Error(w, "Channel not found", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(messages)
}

// AddChannel joins, and announces if new, the channel and selects it.
func (h *ChannelHandler) AddChannel(w http.ResponseWriter, r *http.Request) {
	var req AddChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var active string
	var changed bool
	err := h.Hub.Do(func(e *engine.Engine) engine.Outcome {
		out := e.Add(req.Name)
		changed = out.Dirty
		active = e.Active().Name
		return out
	})
	if err != nil {
		hubError(w, err)
		return
	}
	if !changed {
		http.Error(w, "Invalid channel name", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"name": active})
}

func (h *ChannelHandler) SelectChannel(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var changed bool
	err := h.Hub.Do(func(e *engine.Engine) engine.Outcome {
		out := e.SetActive(name)
		changed = out.Dirty
		return out
	})
	if err != nil {
		hubError(w, err)
		return
	}
	if !changed {
		http.Error(w, "Channel not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// LeaveChannel leaves the channel. Leaving the default channel is accepted and
// does nothing.
func (h *ChannelHandler) LeaveChannel(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	err := h.Hub.Do(func(e *engine.Engine) engine.Outcome {
		return e.Remove(name)
	})
	if err != nil {
		hubError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SendMessage publishes to the active channel. The message shows up in the
// state once the swarm delivers it back.
func (h *ChannelHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var sendErr error
	err := h.Hub.Do(func(e *engine.Engine) engine.Outcome {
		sendErr = e.Send(req.Text)
		return engine.Outcome{}
	})
	if err != nil {
		hubError(w, err)
		return
	}
	if sendErr != nil {
		http.Error(w, sendErr.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func hubError(w http.ResponseWriter, err error) {
	if errors.Is(err, ws.ErrStopped) {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

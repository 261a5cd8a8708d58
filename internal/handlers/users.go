package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/pliu/friends/internal/engine"
	"github.com/pliu/friends/internal/models"
	"github.com/pliu/friends/internal/ws"
)

type UserHandler struct {
	Hub *ws.Hub
	// OnUsername, if set, is called after the local username changes.
	OnUsername func(name string) error
}

type SetUsernameRequest struct {
	Username string `json:"username"`
}

type FocusRequest struct {
	Focused bool `json:"focused"`
}

// SearchUsers returns the known users whose name starts with q, for
// autocompletion.
func (h *UserHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	query := strings.ToLower(r.URL.Query().Get("q"))

	matches := []models.User{}
	err := h.Hub.Do(func(e *engine.Engine) engine.Outcome {
		for _, u := range e.Users() {
			if strings.HasPrefix(strings.ToLower(u.Username), query) {
				matches = append(matches, u)
			}
		}
		return engine.Outcome{}
	})
	if err != nil {
		hubError(w, err)
		return
	}
	json.NewEncoder(w).Encode(matches)
}

func (h *UserHandler) ToggleBlock(w http.ResponseWriter, r *http.Request) {
	username := mux.Vars(r)["username"]

	var changed bool
	err := h.Hub.Do(func(e *engine.Engine) engine.Outcome {
		out := e.ToggleBlock(username)
		changed = out.Dirty
		return out
	})
	if err != nil {
		hubError(w, err)
		return
	}
	if !changed {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *UserHandler) GetUsername(w http.ResponseWriter, r *http.Request) {
	var name string
	err := h.Hub.Do(func(e *engine.Engine) engine.Outcome {
		name = e.Username()
		return engine.Outcome{}
	})
	if err != nil {
		hubError(w, err)
		return
	}
	json.NewEncoder(w).Encode(SetUsernameRequest{Username: name})
}

func (h *UserHandler) SetUsername(w http.ResponseWriter, r *http.Request) {
	var req SetUsernameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		http.Error(w, "Username is required", http.StatusBadRequest)
		return
	}

	err := h.Hub.Do(func(e *engine.Engine) engine.Outcome {
		return e.SetUsername(req.Username)
	})
	if err != nil {
		hubError(w, err)
		return
	}
	if h.OnUsername != nil {
		if err := h.OnUsername(req.Username); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

// Focus reports whether the view has input focus. Mentions raise alerts only
// while it does not.
func (h *UserHandler) Focus(w http.ResponseWriter, r *http.Request) {
	var req FocusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err := h.Hub.Do(func(e *engine.Engine) engine.Outcome {
		return e.SetFocused(req.Focused)
	})
	if err != nil {
		hubError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

package engine

import "github.com/pliu/friends/internal/models"

// Users is the directory of verified usernames seen in traffic.
type Users struct {
	byName map[string]*models.User
	order  []string
}

func newUsers() *Users {
	return &Users{byName: make(map[string]*models.User)}
}

// Observe records a verified, non-anonymous author the first time it is seen.
// Later sightings never overwrite the avatar or the block state.
func (u *Users) Observe(username, avatar string, valid, anon bool) bool {
	if anon || !valid {
		return false
	}
	if _, ok := u.byName[username]; ok {
		return false
	}
	u.byName[username] = &models.User{Username: username, Avatar: avatar}
	u.order = append(u.order, username)
	return true
}

func (u *Users) Get(username string) (*models.User, bool) {
	user, ok := u.byName[username]
	return user, ok
}

func (u *Users) Blocked(username string) bool {
	user, ok := u.byName[username]
	return ok && user.Blocked
}

// List returns copies of all users in first-seen order.
func (u *Users) List() []models.User {
	list := make([]models.User, 0, len(u.order))
	for _, name := range u.order {
		list = append(list, *u.byName[name])
	}
	return list
}

// ToggleBlock flips the local block flag. It is never sent to peers.
func (e *Engine) ToggleBlock(username string) Outcome {
	user, ok := e.users.Get(username)
	if !ok {
		return Outcome{}
	}
	user.Blocked = !user.Blocked
	return Outcome{Dirty: true}
}

func (e *Engine) Users() []models.User {
	return e.users.List()
}

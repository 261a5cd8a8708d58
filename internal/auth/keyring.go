package auth

import "sync"

// Keyring pins each username to the first public key seen signing for it.
type Keyring struct {
	mu   sync.Mutex
	keys map[string]string
}

func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string]string)}
}

// Pin records publicKey for username unless another key already claimed it,
// and reports whether publicKey is the pinned one.
func (k *Keyring) Pin(username, publicKey string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	pinned, ok := k.keys[username]
	if !ok {
		k.keys[username] = publicKey
		return true
	}
	return pinned == publicKey
}

package auth

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/nacl/sign"
)

var ErrBadSignature = errors.New("bad signature")

// Identity is the local signing key pair.
type Identity struct {
	public  *[32]byte
	private *[64]byte
}

func Generate() (*Identity, error) {
	pub, priv, err := sign.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return &Identity{public: pub, private: priv}, nil
}

// LoadOrCreate reads the private key stored at path, generating and saving a
// new one if the file does not exist.
func LoadOrCreate(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		id, err := Generate()
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create key dir: %w", err)
		}
		encoded := base64.URLEncoding.EncodeToString(id.private[:])
		if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
			return nil, fmt.Errorf("failed to save key: %w", err)
		}
		return id, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}

	raw, err := base64.URLEncoding.DecodeString(string(bytes.TrimSpace(data)))
	if err != nil || len(raw) != 64 {
		return nil, errors.New("invalid key file")
	}
	id := &Identity{public: new([32]byte), private: new([64]byte)}
	copy(id.private[:], raw)
	// The second half of a signing key is its public key
	copy(id.public[:], raw[32:])
	return id, nil
}

func (id *Identity) PublicKey() string {
	return base64.URLEncoding.EncodeToString(id.public[:])
}

// ShortID is a short, stable handle for anonymous display names.
func (id *Identity) ShortID() string {
	return hex.EncodeToString(id.public[:3])
}

// Sign returns the detached signature of payload.
func (id *Identity) Sign(payload []byte) string {
	signed := sign.Sign(nil, payload, id.private)
	return base64.URLEncoding.EncodeToString(signed[:sign.Overhead])
}

// Verify checks a detached signature produced by Sign.
func Verify(publicKey, signature string, payload []byte) error {
	pubBytes, err := base64.URLEncoding.DecodeString(publicKey)
	if err != nil || len(pubBytes) != 32 {
		return errors.New("invalid public key encoding")
	}
	sig, err := base64.URLEncoding.DecodeString(signature)
	if err != nil || len(sig) != sign.Overhead {
		return errors.New("invalid signature encoding")
	}

	var pub [32]byte
	copy(pub[:], pubBytes)
	signed := append(sig, payload...)
	if _, ok := sign.Open(nil, signed, &pub); !ok {
		return ErrBadSignature
	}
	return nil
}

// Payload is the canonical byte form of a message that signatures and entry
// keys cover.
func Payload(channel, username, text string, timestamp int64) []byte {
	var b bytes.Buffer
	for _, field := range []string{channel, username, text, strconv.FormatInt(timestamp, 10)} {
		b.WriteString(strconv.Itoa(len(field)))
		b.WriteByte(':')
		b.WriteString(field)
	}
	return b.Bytes()
}

// EntryKey content-addresses a log entry, signature included.
func EntryKey(payload []byte, publicKey, signature string) string {
	h, _ := blake2b.New256(nil)
	h.Write(payload)
	h.Write([]byte(publicKey))
	h.Write([]byte(signature))
	return hex.EncodeToString(h.Sum(nil))
}

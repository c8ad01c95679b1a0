package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"github.com/dmitrijs2005/yank/internal/common"
)

// NonceSize is the AES-GCM nonce length: u32 zero || u64 counter, big-endian.
const NonceSize = 12

// TagSize is the GCM authentication tag appended to every sealed frame.
const TagSize = 16

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return aead, nil
}

func counterNonce(counter uint64) []byte {
	nonce := make([]byte, NonceSize)
	binary.BigEndian.PutUint64(nonce[4:], counter)
	return nonce
}

// Sealer encrypts outbound frame bodies for one direction of a session. The
// nonce counter starts at zero and increments per frame; it is never reused
// within a session.
type Sealer struct {
	aead    cipher.AEAD
	counter uint64
}

func NewSealer(key []byte) (*Sealer, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext under the next counter nonce and advances the
// counter. Output is ciphertext || 16-byte tag.
func (s *Sealer) Seal(plaintext []byte) []byte {
	nonce := counterNonce(s.counter)
	s.counter++
	return s.aead.Seal(nil, nonce, plaintext, nil)
}

// Counter reports how many frames have been sealed.
func (s *Sealer) Counter() uint64 { return s.counter }

// Opener decrypts inbound frame bodies for one direction. Its counter mirrors
// the peer's Sealer; frames must arrive in order.
type Opener struct {
	aead    cipher.AEAD
	counter uint64
}

func NewOpener(key []byte) (*Opener, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &Opener{aead: aead}, nil
}

// Open decrypts ciphertext under the next counter nonce. Any failure is an
// authentication error and must close the connection.
func (o *Opener) Open(ciphertext []byte) ([]byte, error) {
	nonce := counterNonce(o.counter)
	plaintext, err := o.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt: %v", common.ErrAuth, err)
	}
	o.counter++
	return plaintext, nil
}

// Package cryptox holds the key-derivation and framing-encryption primitives:
// PIN-based pairing keys, per-connection session keys and AEAD sealing with
// counter nonces.
package cryptox

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32

	// HandshakeNonceSize is the per-connection random sent in HANDSHAKE_HELLO
	// and HANDSHAKE_CHALLENGE.
	HandshakeNonceSize = 16

	// ChallengeSize is the random challenge the acceptor issues.
	ChallengeSize = 32

	// PairingSaltSize salts the PIN key derivation.
	PairingSaltSize = 16

	// PairingRandomSize is the per-side random exchanged while pairing.
	PairingRandomSize = 32

	// pinIterations matches the PBKDF2 work factor used since v1; changing it
	// breaks pairing with older peers.
	pinIterations = 100_000

	sessionInfo = "yank/v1"
	pairingInfo = "yank/v1 pairing"
)

// RandBytes returns size cryptographically random bytes.
func RandBytes(size int) ([]byte, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("rand: %w", err)
	}
	return b, nil
}

// GeneratePIN returns a 6-decimal-digit pairing PIN.
func GeneratePIN() (string, error) {
	// Draw a uniform value below 10^6 by rejection sampling over 3 bytes.
	for {
		b, err := RandBytes(3)
		if err != nil {
			return "", err
		}
		v := int(b[0])<<16 | int(b[1])<<8 | int(b[2])
		if v < 16_000_000 {
			return fmt.Sprintf("%06d", v%1_000_000), nil
		}
	}
}

// DerivePINKey stretches the pairing PIN into a 32-byte key. The construction
// is PBKDF2-HMAC-SHA256 over PIN with the exchanged salt.
func DerivePINKey(pin string, salt []byte) []byte {
	return pbkdf2.Key([]byte(pin), salt, pinIterations, KeySize, sha256.New)
}

// DerivePairingSecret combines the PIN key with both sides' 32-byte randoms
// into the persistent shared secret.
func DerivePairingSecret(pinKey, randomA, randomB []byte) ([]byte, error) {
	salt := append(append([]byte{}, randomA...), randomB...)
	r := hkdf.New(sha256.New, pinKey, salt, []byte(pairingInfo))
	secret := make([]byte, KeySize)
	if _, err := io.ReadFull(r, secret); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return secret, nil
}

// PairingMAC proves knowledge of the PIN key during pairing. The role string
// ("host" or "join") keeps the two directions' proofs distinct.
func PairingMAC(pinKey []byte, role string, randomA, randomB []byte) []byte {
	mac := hmac.New(sha256.New, pinKey)
	mac.Write([]byte(role))
	mac.Write(randomA)
	mac.Write(randomB)
	return mac.Sum(nil)
}

// SessionKeys are the per-connection AEAD keys, one per direction.
type SessionKeys struct {
	ClientToServer []byte
	ServerToClient []byte
}

// DeriveSessionKeys derives the directional keys for one connection:
// HKDF-SHA256(ikm=shared_secret, salt=nonce_client||nonce_server, info="yank/v1"),
// split into key_c2s then key_s2c.
func DeriveSessionKeys(secret, nonceClient, nonceServer []byte) (*SessionKeys, error) {
	salt := append(append([]byte{}, nonceClient...), nonceServer...)
	r := hkdf.New(sha256.New, secret, salt, []byte(sessionInfo))
	material := make([]byte, 2*KeySize)
	if _, err := io.ReadFull(r, material); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return &SessionKeys{
		ClientToServer: material[:KeySize],
		ServerToClient: material[KeySize:],
	}, nil
}

// AuthMAC computes the handshake response:
// HMAC(shared_secret, challenge || nonce_c || nonce_s).
func AuthMAC(secret, challenge, nonceClient, nonceServer []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(challenge)
	mac.Write(nonceClient)
	mac.Write(nonceServer)
	return mac.Sum(nil)
}

// MACEqual compares MACs in constant time.
func MACEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}

package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/dmitrijs2005/yank/internal/common"
	"github.com/dmitrijs2005/yank/internal/cryptox"
	"github.com/dmitrijs2005/yank/internal/pairing"
	"github.com/dmitrijs2005/yank/internal/protocol"
)

// HandshakeTimeout bounds the whole HELLO/CHALLENGE/RESPONSE/OK sequence.
const HandshakeTimeout = 10 * time.Second

// Options controls handshake behavior.
type Options struct {
	// Insecure skips AEAD sealing after authentication (--no-security).
	// The challenge-response itself always runs.
	Insecure bool
}

// Connect runs the connector side of the handshake on a dialed socket and
// returns the framed connection, sealed unless opts.Insecure is set.
func Connect(nc net.Conn, rec *pairing.Record, opts Options) (*Conn, error) {
	secret, err := rec.SharedSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrAuth, err)
	}

	_ = nc.SetDeadline(time.Now().Add(HandshakeTimeout))
	defer nc.SetDeadline(time.Time{})

	c := newConn(nc)

	nonceC, err := cryptox.RandBytes(cryptox.HandshakeNonceSize)
	if err != nil {
		return nil, err
	}

	if err := c.Send(&protocol.HandshakeHello{Nonce: nonceC, DeviceID: rec.DeviceID}, nil); err != nil {
		return nil, err
	}

	m, _, err := c.Receive()
	if err != nil {
		return nil, err
	}
	challenge, ok := m.(*protocol.HandshakeChallenge)
	if !ok {
		return nil, fmt.Errorf("%w: expected challenge, got %T", common.ErrProtocol, m)
	}
	if len(challenge.Nonce) != cryptox.HandshakeNonceSize || len(challenge.Challenge) != cryptox.ChallengeSize {
		return nil, fmt.Errorf("%w: bad challenge parameters", common.ErrProtocol)
	}

	mac := cryptox.AuthMAC(secret, challenge.Challenge, nonceC, challenge.Nonce)
	if err := c.Send(&protocol.HandshakeResponse{MAC: mac}, nil); err != nil {
		return nil, err
	}

	m, _, err = c.Receive()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrAuth, err)
	}
	if _, ok := m.(*protocol.HandshakeOK); !ok {
		return nil, fmt.Errorf("%w: handshake rejected", common.ErrAuth)
	}

	if !opts.Insecure {
		keys, err := cryptox.DeriveSessionKeys(secret, nonceC, challenge.Nonce)
		if err != nil {
			return nil, err
		}
		if err := c.enableSecurity(keys, true); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Accept runs the acceptor side of the handshake on an accepted socket. The
// peer must present the paired device_id and prove possession of the shared
// secret before OK is sent.
func Accept(nc net.Conn, rec *pairing.Record, opts Options) (*Conn, error) {
	secret, err := rec.SharedSecret()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrAuth, err)
	}

	_ = nc.SetDeadline(time.Now().Add(HandshakeTimeout))
	defer nc.SetDeadline(time.Time{})

	c := newConn(nc)

	m, _, err := c.Receive()
	if err != nil {
		return nil, err
	}
	hello, ok := m.(*protocol.HandshakeHello)
	if !ok {
		return nil, fmt.Errorf("%w: expected hello, got %T", common.ErrProtocol, m)
	}
	if len(hello.Nonce) != cryptox.HandshakeNonceSize {
		return nil, fmt.Errorf("%w: bad hello nonce", common.ErrProtocol)
	}
	if hello.DeviceID != rec.PeerDeviceID {
		return nil, fmt.Errorf("%w: unknown device %q", common.ErrAuth, hello.DeviceID)
	}

	nonceS, err := cryptox.RandBytes(cryptox.HandshakeNonceSize)
	if err != nil {
		return nil, err
	}
	challenge, err := cryptox.RandBytes(cryptox.ChallengeSize)
	if err != nil {
		return nil, err
	}

	if err := c.Send(&protocol.HandshakeChallenge{Nonce: nonceS, Challenge: challenge}, nil); err != nil {
		return nil, err
	}

	m, _, err = c.Receive()
	if err != nil {
		return nil, err
	}
	response, ok := m.(*protocol.HandshakeResponse)
	if !ok {
		return nil, fmt.Errorf("%w: expected response, got %T", common.ErrProtocol, m)
	}

	want := cryptox.AuthMAC(secret, challenge, hello.Nonce, nonceS)
	if !cryptox.MACEqual(response.MAC, want) {
		return nil, fmt.Errorf("%w: bad handshake mac", common.ErrAuth)
	}

	if err := c.Send(&protocol.HandshakeOK{}, nil); err != nil {
		return nil, err
	}

	if !opts.Insecure {
		keys, err := cryptox.DeriveSessionKeys(secret, hello.Nonce, nonceS)
		if err != nil {
			return nil, err
		}
		if err := c.enableSecurity(keys, false); err != nil {
			return nil, err
		}
	}
	return c, nil
}

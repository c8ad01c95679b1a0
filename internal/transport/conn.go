// Package transport provides the authenticated connection between the two
// paired peers: TCP connect/accept, the challenge-response handshake and
// AEAD sealing of every subsequent frame.
package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dmitrijs2005/yank/internal/cryptox"
	"github.com/dmitrijs2005/yank/internal/protocol"
)

// Conn is one framed connection to the peer. Writes are serialized by a
// connection-level mutex so watcher-driven sends, chunk streaming and
// heartbeats never interleave frames. Reads must stay on a single goroutine
// (the connection handler's read loop).
type Conn struct {
	nc net.Conn

	writeMu sync.Mutex
	sealer  *cryptox.Sealer
	opener  *cryptox.Opener
}

// Dial opens a TCP connection to the peer. The handshake is a separate step.
func Dial(addr string, timeout time.Duration) (net.Conn, error) {
	nc, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if tc, ok := nc.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return nc, nil
}

func newConn(nc net.Conn) *Conn {
	return &Conn{nc: nc}
}

// enableSecurity switches the connection to sealed frames. The connector
// seals with key_c2s and opens with key_s2c; the acceptor the reverse.
func (c *Conn) enableSecurity(keys *cryptox.SessionKeys, connector bool) error {
	sealKey, openKey := keys.ClientToServer, keys.ServerToClient
	if !connector {
		sealKey, openKey = openKey, sealKey
	}

	sealer, err := cryptox.NewSealer(sealKey)
	if err != nil {
		return err
	}
	opener, err := cryptox.NewOpener(openKey)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	c.sealer = sealer
	c.opener = opener
	c.writeMu.Unlock()
	return nil
}

// Secured reports whether frames are AEAD-sealed (false under --no-security).
func (c *Conn) Secured() bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.sealer != nil
}

// Send encodes, seals and writes one frame.
func (c *Conn) Send(m protocol.Message, payload []byte) error {
	body, err := protocol.MarshalBody(m, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.sealer != nil {
		body = c.sealer.Seal(body)
	}
	return protocol.WriteRaw(c.nc, body)
}

// Receive reads, opens and decodes one frame. A decrypt failure is an
// authentication error; the caller must close the connection.
func (c *Conn) Receive() (protocol.Message, []byte, error) {
	body, err := protocol.ReadRaw(c.nc)
	if err != nil {
		return nil, nil, err
	}
	if c.opener != nil {
		body, err = c.opener.Open(body)
		if err != nil {
			return nil, nil, err
		}
	}
	return protocol.ParseBody(body)
}

// SetReadDeadline bounds the next Receive. Used for heartbeat liveness.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.nc.SetReadDeadline(t)
}

func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

func (c *Conn) Close() error { return c.nc.Close() }

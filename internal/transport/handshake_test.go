package transport

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/dmitrijs2005/yank/internal/common"
	"github.com/dmitrijs2005/yank/internal/cryptox"
	"github.com/dmitrijs2005/yank/internal/pairing"
	"github.com/dmitrijs2005/yank/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pairedRecords(t *testing.T) (*pairing.Record, *pairing.Record) {
	t.Helper()
	secret, err := cryptox.RandBytes(cryptox.KeySize)
	require.NoError(t, err)

	connector := &pairing.Record{DeviceID: "conn-id", PeerDeviceID: "acc-id", PeerName: "desktop"}
	connector.SetSharedSecret(secret)
	acceptor := &pairing.Record{DeviceID: "acc-id", PeerDeviceID: "conn-id", PeerName: "laptop"}
	acceptor.SetSharedSecret(secret)
	return connector, acceptor
}

func handshakePair(t *testing.T, connRec, accRec *pairing.Record, opts Options) (*Conn, *Conn, error, error) {
	t.Helper()
	connSide, accSide := net.Pipe()

	type result struct {
		c   *Conn
		err error
	}
	accCh := make(chan result, 1)
	go func() {
		c, err := Accept(accSide, accRec, opts)
		if err != nil {
			// Unblock a connector still waiting on the next frame.
			accSide.Close()
		}
		accCh <- result{c, err}
	}()

	connConn, connErr := Connect(connSide, connRec, opts)
	if connErr != nil {
		connSide.Close()
	}
	acc := <-accCh
	return connConn, acc.c, connErr, acc.err
}

func TestHandshake_Success(t *testing.T) {
	connRec, accRec := pairedRecords(t)
	connector, acceptor, connErr, accErr := handshakePair(t, connRec, accRec, Options{})
	require.NoError(t, connErr)
	require.NoError(t, accErr)
	defer connector.Close()
	defer acceptor.Close()

	assert.True(t, connector.Secured())
	assert.True(t, acceptor.Secured())

	// Sealed traffic flows both ways.
	done := make(chan error, 1)
	go func() { done <- connector.Send(&protocol.Text{Content: "hello world"}, nil) }()

	m, _, err := acceptor.Receive()
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, &protocol.Text{Content: "hello world"}, m)

	go func() { done <- acceptor.Send(&protocol.Heartbeat{}, nil) }()
	m, _, err = connector.Receive()
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.IsType(t, &protocol.Heartbeat{}, m)
}

func TestHandshake_WrongSecret(t *testing.T) {
	connRec, accRec := pairedRecords(t)
	other, err := cryptox.RandBytes(cryptox.KeySize)
	require.NoError(t, err)
	connRec.SetSharedSecret(other)

	_, _, connErr, accErr := handshakePair(t, connRec, accRec, Options{})

	require.Error(t, accErr)
	assert.True(t, errors.Is(accErr, common.ErrAuth))
	require.Error(t, connErr)
}

func TestHandshake_UnknownDevice(t *testing.T) {
	connRec, accRec := pairedRecords(t)
	connRec.DeviceID = "stranger"

	_, _, _, accErr := handshakePair(t, connRec, accRec, Options{})
	require.Error(t, accErr)
	assert.True(t, errors.Is(accErr, common.ErrAuth))
}

func TestHandshake_Insecure(t *testing.T) {
	connRec, accRec := pairedRecords(t)
	connector, acceptor, connErr, accErr := handshakePair(t, connRec, accRec, Options{Insecure: true})
	require.NoError(t, connErr)
	require.NoError(t, accErr)
	defer connector.Close()
	defer acceptor.Close()

	assert.False(t, connector.Secured())

	done := make(chan error, 1)
	go func() { done <- connector.Send(&protocol.Text{Content: "plain"}, nil) }()
	m, _, err := acceptor.Receive()
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, &protocol.Text{Content: "plain"}, m)
}

func TestConn_PayloadRoundTrip(t *testing.T) {
	connRec, accRec := pairedRecords(t)
	connector, acceptor, connErr, accErr := handshakePair(t, connRec, accRec, Options{})
	require.NoError(t, connErr)
	require.NoError(t, accErr)
	defer connector.Close()
	defer acceptor.Close()

	payload := make([]byte, 1<<16)
	for i := range payload {
		payload[i] = byte(i)
	}

	done := make(chan error, 1)
	go func() {
		done <- connector.Send(&protocol.FileChunk{TransferID: "t", Offset: 0, Length: len(payload)}, payload)
	}()

	m, got, err := acceptor.Receive()
	require.NoError(t, err)
	require.NoError(t, <-done)
	chunk := m.(*protocol.FileChunk)
	assert.Equal(t, len(payload), chunk.Length)
	assert.Equal(t, payload, got)
}

func TestConn_ReadDeadline(t *testing.T) {
	connRec, accRec := pairedRecords(t)
	connector, acceptor, connErr, accErr := handshakePair(t, connRec, accRec, Options{})
	require.NoError(t, connErr)
	require.NoError(t, accErr)
	defer connector.Close()
	defer acceptor.Close()

	require.NoError(t, acceptor.SetReadDeadline(time.Now().Add(20*time.Millisecond)))
	_, _, err := acceptor.Receive()
	require.Error(t, err)
	var ne net.Error
	require.ErrorAs(t, err, &ne)
	assert.True(t, ne.Timeout())
}

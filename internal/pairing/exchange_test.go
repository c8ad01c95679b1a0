package pairing

import (
	"errors"
	"net"
	"testing"

	"github.com/dmitrijs2005/yank/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type exchangeResult struct {
	rec *Record
	err error
}

func runExchange(t *testing.T, hostPIN, joinPIN string) (exchangeResult, exchangeResult) {
	t.Helper()
	hostConn, joinConn := net.Pipe()
	defer hostConn.Close()
	defer joinConn.Close()

	hostCh := make(chan exchangeResult, 1)
	go func() {
		rec, err := Host(hostConn, hostPIN, "host-id", "desktop")
		hostCh <- exchangeResult{rec, err}
	}()

	rec, err := Join(joinConn, joinPIN, "join-id", "laptop")
	// Hang up so a host still waiting on the next message unblocks.
	joinConn.Close()
	return <-hostCh, exchangeResult{rec, err}
}

func TestExchange_MatchingPIN(t *testing.T) {
	host, join := runExchange(t, "123456", "123456")
	require.NoError(t, host.err)
	require.NoError(t, join.err)

	hostSecret, err := host.rec.SharedSecret()
	require.NoError(t, err)
	joinSecret, err := join.rec.SharedSecret()
	require.NoError(t, err)
	assert.Equal(t, hostSecret, joinSecret)

	// Identities cross over.
	assert.Equal(t, "host-id", host.rec.DeviceID)
	assert.Equal(t, "join-id", host.rec.PeerDeviceID)
	assert.Equal(t, "laptop", host.rec.PeerName)
	assert.Equal(t, "host-id", join.rec.PeerDeviceID)
	assert.Equal(t, "desktop", join.rec.PeerName)
}

func TestExchange_WrongPIN(t *testing.T) {
	host, join := runExchange(t, "123456", "000000")

	require.Error(t, join.err)
	assert.True(t, errors.Is(join.err, common.ErrAuth))
	assert.Nil(t, join.rec)

	// The joiner detects the mismatch on the host's proof and hangs up
	// without sending its own, so the host fails too and no record exists
	// on either side.
	require.Error(t, host.err)
	assert.Nil(t, host.rec)
}

func TestExchange_GarbageFromPeer(t *testing.T) {
	hostConn, joinConn := net.Pipe()
	defer hostConn.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := Host(hostConn, "123456", "host-id", "desktop")
		errCh <- err
	}()

	_, _ = joinConn.Write([]byte{0, 0, 0, 2, 'h', 'i'})
	joinConn.Close()

	err := <-errCh
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrProtocol))
}

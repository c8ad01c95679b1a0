package pairing

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/dmitrijs2005/yank/internal/common"
	"github.com/dmitrijs2005/yank/internal/cryptox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(t *testing.T) *Record {
	t.Helper()
	secret, err := cryptox.RandBytes(cryptox.KeySize)
	require.NoError(t, err)

	rec := &Record{
		DeviceID:     "aaaa",
		PeerDeviceID: "bbbb",
		PeerName:     "laptop",
		CreatedAt:    time.Now().UTC(),
	}
	rec.SetSharedSecret(secret)
	return rec
}

func TestStore_LoadUnpaired(t *testing.T) {
	s := NewStoreAt(filepath.Join(t.TempDir(), "pairing.json"))

	_, err := s.Load()
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrNotPaired))
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairing.json")
	s := NewStoreAt(path)

	rec := testRecord(t)
	require.NoError(t, s.Save(rec))

	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, rec.DeviceID, got.DeviceID)
	assert.Equal(t, rec.PeerDeviceID, got.PeerDeviceID)
	assert.Equal(t, rec.PeerName, got.PeerName)

	wantSecret, err := rec.SharedSecret()
	require.NoError(t, err)
	gotSecret, err := got.SharedSecret()
	require.NoError(t, err)
	assert.Equal(t, wantSecret, gotSecret)
}

func TestStore_FilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permission bits")
	}
	path := filepath.Join(t.TempDir(), "pairing.json")
	s := NewStoreAt(path)
	require.NoError(t, s.Save(testRecord(t)))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestStore_Delete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairing.json")
	s := NewStoreAt(path)
	require.NoError(t, s.Save(testRecord(t)))

	require.NoError(t, s.Delete())
	_, err := s.Load()
	assert.True(t, errors.Is(err, common.ErrNotPaired))

	// Deleting again is fine.
	assert.NoError(t, s.Delete())
}

func TestStore_TouchLastSeen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairing.json")
	s := NewStoreAt(path)
	require.NoError(t, s.Save(testRecord(t)))

	require.NoError(t, s.TouchLastSeen())

	got, err := s.Load()
	require.NoError(t, err)
	assert.False(t, got.LastSeen.IsZero())
}

func TestRecord_SharedSecretValidation(t *testing.T) {
	rec := &Record{SharedSecretB64: "!!!not base64!!!"}
	_, err := rec.SharedSecret()
	assert.Error(t, err)

	rec.SharedSecretB64 = "c2hvcnQ=" // "short"
	_, err = rec.SharedSecret()
	assert.Error(t, err)
}

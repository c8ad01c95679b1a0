package pairing

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/dmitrijs2005/yank/internal/common"
	"github.com/dmitrijs2005/yank/internal/cryptox"
	"github.com/dmitrijs2005/yank/internal/protocol"
)

// The pairing conversation runs before any shared secret exists, so it uses
// its own plaintext JSON messages over the same u32 length-prefixed framing
// as the main protocol. Both sides stretch the PIN with PBKDF2 and prove
// knowledge of it with HMACs over the exchanged randoms before either derives
// the persistent secret:
//
//	join → host  hello{device_id, device_name, random_a}
//	host → join  challenge{device_id, device_name, salt, random_b, mac_host}
//	join → host  confirm{mac_join}
//	host → join  result{ok}
//
// shared_secret = HKDF(PBKDF2(PIN, salt), random_a || random_b).
//
// The construction resists offline guessing only to the degree of LAN
// exposure; see DESIGN.md for the Open Question decision.

const (
	msgPairHello     = 0x01
	msgPairChallenge = 0x02
	msgPairConfirm   = 0x03
	msgPairResult    = 0x04

	// ExchangeTimeout bounds a single pairing conversation.
	ExchangeTimeout = 30 * time.Second
)

type pairHello struct {
	Type       int    `json:"type"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	RandomA    []byte `json:"random_a"`
}

type pairChallenge struct {
	Type       int    `json:"type"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	Salt       []byte `json:"salt"`
	RandomB    []byte `json:"random_b"`
	MAC        []byte `json:"mac"`
}

type pairConfirm struct {
	Type int    `json:"type"`
	MAC  []byte `json:"mac"`
}

type pairResult struct {
	Type   int    `json:"type"`
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

func writeMsg(conn net.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal pairing message: %w", err)
	}
	return protocol.WriteRaw(conn, data)
}

func readMsg(conn net.Conn, wantType int, v any) error {
	data, err := protocol.ReadRaw(conn)
	if err != nil {
		return fmt.Errorf("%w: read pairing message: %v", common.ErrProtocol, err)
	}
	var probe struct {
		Type int `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("%w: pairing message: %v", common.ErrProtocol, err)
	}
	if probe.Type != wantType {
		return fmt.Errorf("%w: unexpected pairing message type 0x%02x", common.ErrProtocol, probe.Type)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: pairing message: %v", common.ErrProtocol, err)
	}
	return nil
}

// Host runs the host side of the PIN exchange over an accepted connection.
// On success it returns the record to persist, with LastSeen unset.
func Host(conn net.Conn, pin, deviceID, deviceName string) (*Record, error) {
	_ = conn.SetDeadline(time.Now().Add(ExchangeTimeout))
	defer conn.SetDeadline(time.Time{})

	var hello pairHello
	if err := readMsg(conn, msgPairHello, &hello); err != nil {
		return nil, err
	}
	if len(hello.RandomA) != cryptox.PairingRandomSize {
		return nil, fmt.Errorf("%w: bad pairing random", common.ErrProtocol)
	}

	salt, err := cryptox.RandBytes(cryptox.PairingSaltSize)
	if err != nil {
		return nil, err
	}
	randomB, err := cryptox.RandBytes(cryptox.PairingRandomSize)
	if err != nil {
		return nil, err
	}

	pinKey := cryptox.DerivePINKey(pin, salt)

	challenge := pairChallenge{
		Type:       msgPairChallenge,
		DeviceID:   deviceID,
		DeviceName: deviceName,
		Salt:       salt,
		RandomB:    randomB,
		MAC:        cryptox.PairingMAC(pinKey, "host", hello.RandomA, randomB),
	}
	if err := writeMsg(conn, challenge); err != nil {
		return nil, err
	}

	var confirm pairConfirm
	if err := readMsg(conn, msgPairConfirm, &confirm); err != nil {
		return nil, err
	}

	want := cryptox.PairingMAC(pinKey, "join", hello.RandomA, randomB)
	if !cryptox.MACEqual(confirm.MAC, want) {
		_ = writeMsg(conn, pairResult{Type: msgPairResult, OK: false, Reason: "pin mismatch"})
		return nil, fmt.Errorf("%w: pin mismatch", common.ErrAuth)
	}

	if err := writeMsg(conn, pairResult{Type: msgPairResult, OK: true}); err != nil {
		return nil, err
	}

	secret, err := cryptox.DerivePairingSecret(pinKey, hello.RandomA, randomB)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		DeviceID:     deviceID,
		PeerDeviceID: hello.DeviceID,
		PeerName:     hello.DeviceName,
		CreatedAt:    time.Now().UTC(),
	}
	rec.SetSharedSecret(secret)
	return rec, nil
}

// Join runs the joiner side of the PIN exchange over a dialed connection.
// The joiner verifies the host's proof before revealing its own, so a
// wrong-PIN host learns nothing usable.
func Join(conn net.Conn, pin, deviceID, deviceName string) (*Record, error) {
	_ = conn.SetDeadline(time.Now().Add(ExchangeTimeout))
	defer conn.SetDeadline(time.Time{})

	randomA, err := cryptox.RandBytes(cryptox.PairingRandomSize)
	if err != nil {
		return nil, err
	}

	hello := pairHello{
		Type:       msgPairHello,
		DeviceID:   deviceID,
		DeviceName: deviceName,
		RandomA:    randomA,
	}
	if err := writeMsg(conn, hello); err != nil {
		return nil, err
	}

	var challenge pairChallenge
	if err := readMsg(conn, msgPairChallenge, &challenge); err != nil {
		return nil, err
	}
	if len(challenge.Salt) != cryptox.PairingSaltSize || len(challenge.RandomB) != cryptox.PairingRandomSize {
		return nil, fmt.Errorf("%w: bad pairing parameters", common.ErrProtocol)
	}

	pinKey := cryptox.DerivePINKey(pin, challenge.Salt)

	want := cryptox.PairingMAC(pinKey, "host", randomA, challenge.RandomB)
	if !cryptox.MACEqual(challenge.MAC, want) {
		return nil, fmt.Errorf("%w: pin mismatch", common.ErrAuth)
	}

	confirm := pairConfirm{
		Type: msgPairConfirm,
		MAC:  cryptox.PairingMAC(pinKey, "join", randomA, challenge.RandomB),
	}
	if err := writeMsg(conn, confirm); err != nil {
		return nil, err
	}

	var result pairResult
	if err := readMsg(conn, msgPairResult, &result); err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, fmt.Errorf("%w: %s", common.ErrAuth, result.Reason)
	}

	secret, err := cryptox.DerivePairingSecret(pinKey, randomA, challenge.RandomB)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		DeviceID:     deviceID,
		PeerDeviceID: challenge.DeviceID,
		PeerName:     challenge.DeviceName,
		CreatedAt:    time.Now().UTC(),
	}
	rec.SetSharedSecret(secret)
	return rec, nil
}

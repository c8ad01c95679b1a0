package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dmitrijs2005/yank/internal/common"
)

// MaxFrameSize bounds the memory a single frame may consume. Anything larger
// is a protocol error and terminates the connection.
const MaxFrameSize = 128 << 20

// MarshalBody encodes a message and payload into a frame body:
// u32 header_length || header JSON || payload. The outer length prefix is
// added by WriteRaw (or by the transport after sealing).
func MarshalBody(m Message, payload []byte) ([]byte, error) {
	fields, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal header: %v", common.ErrProtocol, err)
	}

	// Inject the type tag into the header object.
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(fields, &obj); err != nil {
		return nil, fmt.Errorf("%w: header is not an object: %v", common.ErrProtocol, err)
	}
	if obj == nil {
		obj = map[string]json.RawMessage{}
	}
	tag, _ := json.Marshal(int(m.MsgType()))
	obj["type"] = tag

	header, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal header: %v", common.ErrProtocol, err)
	}

	total := 4 + len(header) + len(payload)
	if total > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", common.ErrProtocol, total)
	}

	body := make([]byte, total)
	binary.BigEndian.PutUint32(body, uint32(len(header)))
	copy(body[4:], header)
	copy(body[4+len(header):], payload)
	return body, nil
}

// ParseBody decodes a frame body produced by MarshalBody into its message
// variant and payload. The payload slice aliases body.
func ParseBody(body []byte) (Message, []byte, error) {
	if len(body) < 4 {
		return nil, nil, fmt.Errorf("%w: truncated frame body", common.ErrProtocol)
	}
	headerLen := binary.BigEndian.Uint32(body)
	if int(headerLen) > len(body)-4 {
		return nil, nil, fmt.Errorf("%w: header length %d overflows body", common.ErrProtocol, headerLen)
	}
	header := body[4 : 4+headerLen]
	payload := body[4+headerLen:]

	var probe struct {
		Type *int `json:"type"`
	}
	if err := json.Unmarshal(header, &probe); err != nil {
		return nil, nil, fmt.Errorf("%w: header: %v", common.ErrProtocol, err)
	}
	if probe.Type == nil {
		return nil, nil, fmt.Errorf("%w: header missing type", common.ErrProtocol)
	}

	var m Message
	switch Type(*probe.Type) {
	case TypeHandshakeHello:
		m = &HandshakeHello{}
	case TypeHandshakeChallenge:
		m = &HandshakeChallenge{}
	case TypeHandshakeResponse:
		m = &HandshakeResponse{}
	case TypeHandshakeOK:
		m = &HandshakeOK{}
	case TypeHeartbeat:
		m = &Heartbeat{}
	case TypeText:
		m = &Text{}
	case TypeImage:
		m = &Image{}
	case TypeFilesInline:
		m = &FilesInline{}
	case TypeFileAnnounce:
		m = &FileAnnounce{}
	case TypeFileRequest:
		m = &FileRequest{}
	case TypeFileChunk:
		m = &FileChunk{}
	case TypeFileComplete:
		m = &FileComplete{}
	case TypeTransferCancel:
		m = &TransferCancel{}
	case TypeTransferError:
		m = &TransferError{}
	default:
		return nil, nil, fmt.Errorf("%w: unknown message type 0x%02x", common.ErrProtocol, *probe.Type)
	}

	if err := json.Unmarshal(header, m); err != nil {
		return nil, nil, fmt.Errorf("%w: header: %v", common.ErrProtocol, err)
	}
	return m, payload, nil
}

// WriteRaw writes one length-prefixed unit: u32 big-endian length, then body.
func WriteRaw(w io.Writer, body []byte) error {
	if len(body) > MaxFrameSize {
		return fmt.Errorf("%w: frame of %d bytes exceeds limit", common.ErrProtocol, len(body))
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// ReadRaw reads one length-prefixed unit. A length above MaxFrameSize is a
// protocol error; the caller must close the connection.
func ReadRaw(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", common.ErrProtocol, length)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: short frame: %v", common.ErrProtocol, err)
	}
	return body, nil
}

// Write encodes and writes a plaintext frame. Used before the handshake
// completes; afterwards the transport seals bodies itself.
func Write(w io.Writer, m Message, payload []byte) error {
	body, err := MarshalBody(m, payload)
	if err != nil {
		return err
	}
	return WriteRaw(w, body)
}

// Read reads and decodes a plaintext frame.
func Read(r io.Reader) (Message, []byte, error) {
	body, err := ReadRaw(r)
	if err != nil {
		return nil, nil, err
	}
	return ParseBody(body)
}

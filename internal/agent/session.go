package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/yank/internal/clipboard"
	"github.com/dmitrijs2005/yank/internal/common"
	"github.com/dmitrijs2005/yank/internal/protocol"
	"github.com/dmitrijs2005/yank/internal/transfer"
	"github.com/dmitrijs2005/yank/internal/transport"
)

// clipboard write retry policy for transient adapter failures
const (
	clipboardRetries = 3
	clipboardBackoff = 200 * time.Millisecond
)

// request retry backoff after a transient transfer error
var requestBackoff = []time.Duration{2 * time.Second, 5 * time.Second, 10 * time.Second}

// inboundState assembles one incoming transfer: the current file's writer
// plus everything finalized so far. Owned exclusively by the read loop.
type inboundState struct {
	rec       transfer.Record
	fileIndex int
	writer    *transfer.Writer
	written   map[int]string
	done      int64
	speed     speedometer
	retries   int
}

// session is the connection handler's state: the read loop is the sole
// dispatcher for inbound frames, so inbound maps need no locking.
type session struct {
	agent   *Agent
	conn    *transport.Conn
	inbound map[string]*inboundState
}

func newSession(a *Agent, conn *transport.Conn) *session {
	return &session{agent: a, conn: conn, inbound: map[string]*inboundState{}}
}

// readLoop dispatches frames until the connection dies. Liveness: the read
// deadline spans three heartbeat intervals, so a silent peer times the
// connection out.
func (s *session) readLoop(ctx context.Context) error {
	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(protocol.HeartbeatInterval * protocol.HeartbeatMisses)); err != nil {
			return err
		}
		m, payload, err := s.conn.Receive()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", common.ErrConnectionLost, err)
		}
		if err := s.dispatch(ctx, m, payload); err != nil {
			return err
		}
	}
}

// dispatch handles one inbound message. A non-nil return closes the
// connection (protocol or auth trouble); transfer-level errors are handled
// in place.
func (s *session) dispatch(ctx context.Context, m protocol.Message, payload []byte) error {
	switch msg := m.(type) {
	case *protocol.Heartbeat:
		return nil

	case *protocol.Text:
		return s.handleText(ctx, msg)

	case *protocol.Image:
		return s.handleImage(ctx, msg, payload)

	case *protocol.FilesInline:
		return s.handleFilesInline(ctx, msg, payload)

	case *protocol.FileAnnounce:
		return s.handleAnnounce(ctx, msg)

	case *protocol.FileRequest:
		s.agent.startStreaming(ctx, s.conn, msg)
		return nil

	case *protocol.FileChunk:
		return s.handleChunk(ctx, msg, payload)

	case *protocol.FileComplete:
		return s.handleComplete(ctx, msg)

	case *protocol.TransferCancel:
		s.handleCancel(ctx, msg)
		return nil

	case *protocol.TransferError:
		s.handleTransferError(ctx, msg)
		return nil

	default:
		return fmt.Errorf("%w: unexpected message %T", common.ErrProtocol, m)
	}
}

// writeClipboard retries transient adapter failures before surfacing.
func (s *session) writeClipboard(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(clipboardRetries, retry.NewConstant(clipboardBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		s.agent.callbacks.fireError(common.ErrClipboardUnavailable, err.Error())
	}
	return nil
}

func (s *session) handleText(ctx context.Context, msg *protocol.Text) error {
	if !s.agent.cfg.SyncText {
		return nil
	}
	s.agent.watcher.SetEchoMask(clipboard.TakeSnapshot(clipboard.Content{Kind: clipboard.KindText, Text: msg.Content}))
	return s.writeClipboard(ctx, func() error { return s.agent.adapter.WriteText(msg.Content) })
}

func (s *session) handleImage(ctx context.Context, msg *protocol.Image, payload []byte) error {
	if !s.agent.cfg.SyncImages {
		return nil
	}
	s.agent.log.Debug(ctx, "image received", "format", msg.Format, "bytes", len(payload))
	s.agent.watcher.SetEchoMask(clipboard.TakeSnapshot(clipboard.Content{Kind: clipboard.KindImage, Image: payload}))
	return s.writeClipboard(ctx, func() error { return s.agent.adapter.WriteImage(payload) })
}

// handleFilesInline unpacks the concatenated payload into the destination
// directory, verifying each file's checksum.
func (s *session) handleFilesInline(ctx context.Context, msg *protocol.FilesInline, payload []byte) error {
	if !s.agent.cfg.SyncFiles {
		return nil
	}
	if protocol.TotalSize(msg.Files) != int64(len(payload)) {
		return fmt.Errorf("%w: inline payload is %d bytes, metadata says %d",
			common.ErrProtocol, len(payload), protocol.TotalSize(msg.Files))
	}

	var paths []string
	var offset int64
	for _, meta := range msg.Files {
		data := payload[offset : offset+meta.Size]
		offset += meta.Size

		w, err := transfer.NewWriter(s.agent.destDir, meta.Name)
		if err != nil {
			s.agent.callbacks.fireError(common.ErrInternal, err.Error())
			return nil
		}
		if err := w.WriteChunk(0, data, ""); err != nil {
			w.Abort()
			s.agent.callbacks.fireError(common.ErrInternal, err.Error())
			return nil
		}
		final, err := w.Finalize(meta.Checksum)
		if err != nil {
			s.agent.callbacks.fireError(common.ErrChecksumMismatch, meta.Name)
			return nil
		}
		paths = append(paths, final)
	}

	s.agent.watcher.SetEchoMask(clipboard.TakeSnapshot(clipboard.Content{Kind: clipboard.KindFiles, Files: paths}))
	return s.writeClipboard(ctx, func() error { return s.agent.adapter.WriteFiles(paths) })
}

// handleAnnounce registers the pending transfer and requests the download.
// With a LazyOfferer adapter the request waits for the placeholder to be
// consumed; otherwise it goes out immediately (eager policy).
func (s *session) handleAnnounce(ctx context.Context, msg *protocol.FileAnnounce) error {
	if !s.agent.cfg.SyncFiles {
		return nil
	}
	rec := s.agent.registry.RegisterPending(msg.TransferID, msg.Files)
	s.agent.log.Info(ctx, "transfer announced", "transfer_id", msg.TransferID,
		"files", len(msg.Files), "bytes", rec.BytesTotal)
	s.agent.callbacks.fireAnnounced(msg.TransferID, msg.Files)

	if offerer, ok := s.agent.adapter.(clipboard.LazyOfferer); ok {
		names := make([]string, len(msg.Files))
		for i, f := range msg.Files {
			names[i] = f.Name
		}
		if consumed, err := offerer.OfferLazy(msg.TransferID, names); err == nil {
			conn := s.conn
			go func() {
				select {
				case <-ctx.Done():
				case <-consumed:
					_ = conn.Send(&protocol.FileRequest{TransferID: msg.TransferID}, nil)
				}
			}()
			return nil
		}
	}
	return s.conn.Send(&protocol.FileRequest{TransferID: msg.TransferID}, nil)
}

func (s *session) handleChunk(ctx context.Context, msg *protocol.FileChunk, payload []byte) error {
	st, ok := s.inbound[msg.TransferID]
	if !ok {
		rec, found := s.agent.registry.GetPending(msg.TransferID)
		if !found {
			// Never announced on this connection: protocol violation.
			return fmt.Errorf("%w: chunk for unknown transfer %s", common.ErrProtocol, msg.TransferID)
		}
		st = &inboundState{rec: rec, fileIndex: msg.FileIndex, written: map[int]string{}}
		s.inbound[msg.TransferID] = st
		s.agent.registry.Mark(msg.TransferID, transfer.StatusTransferring)
	}

	if msg.FileIndex < 0 || msg.FileIndex >= len(st.rec.Files) {
		s.failInbound(st, msg.TransferID, common.ErrProtocol, "chunk file index out of range")
		return fmt.Errorf("%w: chunk file index out of range", common.ErrProtocol)
	}

	// A new file index finalizes the previous file first.
	if st.writer != nil && msg.FileIndex != st.fileIndex {
		if err := s.finalizeCurrent(st); err != nil {
			s.failInbound(st, msg.TransferID, common.ErrChecksumMismatch, err.Error())
			return nil
		}
	}
	if st.writer == nil || msg.FileIndex != st.fileIndex {
		w, err := transfer.NewWriter(s.agent.destDir, st.rec.Files[msg.FileIndex].Name)
		if err != nil {
			s.failInbound(st, msg.TransferID, common.ErrInternal, err.Error())
			return nil
		}
		st.writer = w
		st.fileIndex = msg.FileIndex
	}

	if err := st.writer.WriteChunk(msg.Offset, payload, msg.ChunkChecksum); err != nil {
		s.failInbound(st, msg.TransferID, common.ErrChecksumMismatch, err.Error())
		return nil
	}

	st.done += int64(len(payload))
	s.agent.registry.UpdateProgress(msg.TransferID, st.done)
	speed, eta := st.speed.update(st.done, st.rec.BytesTotal)
	s.agent.callbacks.fireProgress(msg.TransferID, st.done, st.rec.BytesTotal, speed, eta)
	return nil
}

// finalizeCurrent closes the in-progress file and records its final path.
func (s *session) finalizeCurrent(st *inboundState) error {
	meta := st.rec.Files[st.fileIndex]
	final, err := st.writer.Finalize(meta.Checksum)
	st.writer = nil
	if err != nil {
		return err
	}
	st.written[st.fileIndex] = final
	return nil
}

func (s *session) handleComplete(ctx context.Context, msg *protocol.FileComplete) error {
	st, ok := s.inbound[msg.TransferID]
	if !ok {
		rec, found := s.agent.registry.GetPending(msg.TransferID)
		if !found {
			return nil
		}
		// No chunks at all: every file must be empty.
		st = &inboundState{rec: rec, fileIndex: -1, written: map[int]string{}}
		s.inbound[msg.TransferID] = st
	}

	if st.writer != nil {
		if err := s.finalizeCurrent(st); err != nil {
			s.failInbound(st, msg.TransferID, common.ErrChecksumMismatch, err.Error())
			return nil
		}
	}

	// Files that never got a chunk are zero-byte: materialize them empty.
	for idx := range st.rec.Files {
		if _, ok := st.written[idx]; ok {
			continue
		}
		w, err := transfer.NewWriter(s.agent.destDir, st.rec.Files[idx].Name)
		if err != nil {
			s.failInbound(st, msg.TransferID, common.ErrInternal, err.Error())
			return nil
		}
		final, err := w.Finalize(st.rec.Files[idx].Checksum)
		if err != nil {
			s.failInbound(st, msg.TransferID, common.ErrChecksumMismatch, err.Error())
			return nil
		}
		st.written[idx] = final
	}

	paths := make([]string, len(st.rec.Files))
	for idx := range st.rec.Files {
		paths[idx] = st.written[idx]
	}

	delete(s.inbound, msg.TransferID)
	s.agent.registry.Mark(msg.TransferID, transfer.StatusComplete)
	s.agent.registry.Remove(msg.TransferID)

	s.agent.log.Info(ctx, "transfer complete", "transfer_id", msg.TransferID, "files", len(paths))
	s.agent.watcher.SetEchoMask(clipboard.TakeSnapshot(clipboard.Content{Kind: clipboard.KindFiles, Files: paths}))
	if err := s.writeClipboard(ctx, func() error { return s.agent.adapter.WriteFiles(paths) }); err != nil {
		return err
	}
	s.agent.callbacks.fireComplete(msg.TransferID, paths)
	return nil
}

func (s *session) handleCancel(ctx context.Context, msg *protocol.TransferCancel) {
	if st, ok := s.inbound[msg.TransferID]; ok {
		if st.writer != nil {
			st.writer.Abort()
		}
		delete(s.inbound, msg.TransferID)
	}
	// The peer may also cancel a request we are streaming.
	s.agent.stopStreamingIf(msg.TransferID)
	s.agent.registry.Mark(msg.TransferID, transfer.StatusCanceled)
	s.agent.registry.Remove(msg.TransferID)
	s.agent.log.Info(ctx, "transfer canceled by peer", "transfer_id", msg.TransferID, "reason", msg.Reason)
}

// handleTransferError surfaces the failure; transient read errors get up to
// three delayed re-requests, checksum/expiry none.
func (s *session) handleTransferError(ctx context.Context, msg *protocol.TransferError) {
	st := s.inbound[msg.TransferID]
	if st == nil && msg.Code == protocol.ErrCodeRead {
		// Failed before the first chunk: track it so the retry budget applies.
		if rec, ok := s.agent.registry.GetPending(msg.TransferID); ok {
			st = &inboundState{rec: rec, fileIndex: -1, written: map[int]string{}}
			s.inbound[msg.TransferID] = st
		}
	}
	if st != nil && st.writer != nil {
		st.writer.Abort()
		st.writer = nil
	}

	if msg.Code == protocol.ErrCodeRead && st != nil && st.retries < len(requestBackoff) {
		delay := requestBackoff[st.retries]
		st.retries++
		st.written = map[int]string{}
		st.done = 0
		conn := s.conn
		id := msg.TransferID
		s.agent.log.Info(ctx, "retrying transfer", "transfer_id", id, "attempt", st.retries)
		time.AfterFunc(delay, func() {
			_ = conn.Send(&protocol.FileRequest{TransferID: id}, nil)
		})
		return
	}

	delete(s.inbound, msg.TransferID)
	s.agent.registry.Mark(msg.TransferID, transfer.StatusFailed)
	s.agent.registry.Remove(msg.TransferID)

	kind := common.ErrInternal
	if msg.Code == protocol.ErrCodeExpiredOrUnknown {
		kind = common.ErrExpiredOrUnknownTransfer
	}
	s.agent.callbacks.fireError(kind, fmt.Sprintf("transfer %s: %s %s", msg.TransferID, msg.Code, msg.Detail))
}

// failInbound aborts a receiving transfer and tells the peer.
func (s *session) failInbound(st *inboundState, id string, kind error, detail string) {
	if st.writer != nil {
		st.writer.Abort()
		st.writer = nil
	}
	delete(s.inbound, id)
	s.agent.registry.Mark(id, transfer.StatusFailed)
	s.agent.registry.Remove(id)
	s.agent.callbacks.fireError(kind, detail)
	_ = s.conn.Send(&protocol.TransferCancel{TransferID: id, Reason: detail}, nil)
}

// cleanup aborts any half-written files after the connection dies.
func (s *session) cleanup() {
	for id, st := range s.inbound {
		if st.writer != nil {
			st.writer.Abort()
		}
		delete(s.inbound, id)
	}
}

package agent

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"github.com/dmitrijs2005/yank/internal/clipboard"
	"github.com/dmitrijs2005/yank/internal/common"
	"github.com/dmitrijs2005/yank/internal/imagex"
	"github.com/dmitrijs2005/yank/internal/protocol"
	"github.com/dmitrijs2005/yank/internal/transfer"
)

// onClipboardChange is the watcher's emit target: classify the change and
// ship it. Runs on the watcher goroutine; sends serialize on the
// connection's write mutex.
func (a *Agent) onClipboardChange(c clipboard.Content) {
	ctx := context.Background()
	conn := a.activeConn()
	if conn == nil {
		a.log.Debug(ctx, "clipboard change while disconnected, dropped", "kind", c.Kind.String())
		return
	}

	switch c.Kind {
	case clipboard.KindText:
		if !a.cfg.SyncText {
			return
		}
		if err := conn.Send(&protocol.Text{Content: c.Text}, nil); err != nil {
			a.log.Warn(ctx, "text send failed", "error", err)
		}

	case clipboard.KindImage:
		if !a.cfg.SyncImages {
			return
		}
		a.sendImage(ctx, conn, c.Image)

	case clipboard.KindFiles:
		if !a.cfg.SyncFiles {
			return
		}
		a.sendFiles(ctx, conn, c.Files)
	}
}

func (a *Agent) sendImage(ctx context.Context, conn connSender, data []byte) {
	norm, err := imagex.Normalize(data)
	if err != nil {
		a.log.Warn(ctx, "image normalization failed", "error", err)
		return
	}
	msg := &protocol.Image{Width: norm.Width, Height: norm.Height, Format: norm.Format}
	if err := conn.Send(msg, norm.Data); err != nil {
		a.log.Warn(ctx, "image send failed", "error", err)
	}
}

// sendFiles applies the ignore filter and size limits, then picks inline or
// announce by the lazy threshold.
func (a *Agent) sendFiles(ctx context.Context, conn connSender, paths []string) {
	paths = a.filterFiles(ctx, paths)
	if len(paths) == 0 {
		return
	}

	metas := make([]protocol.FileMetadata, 0, len(paths))
	readable := make([]string, 0, len(paths))
	for _, p := range paths {
		size, sum, err := transfer.FileDigest(p)
		if err != nil {
			a.log.Warn(ctx, "unreadable file dropped", "path", p, "error", err)
			continue
		}
		meta := protocol.FileMetadata{Name: filepath.Base(p), Size: size, Checksum: sum}
		if mt, err := mimetype.DetectFile(p); err == nil {
			meta.MimeHint = mt.String()
		}
		metas = append(metas, meta)
		readable = append(readable, p)
	}
	if len(metas) == 0 {
		return
	}

	if protocol.TotalSize(metas) >= a.cfg.LazyThreshold {
		a.announceFiles(ctx, conn, metas, readable)
		return
	}
	a.sendFilesInline(ctx, conn, metas, readable)
}

// filterFiles drops ignored names, configured extensions and oversized
// files. Drops are silent at the wire level, logged at info.
func (a *Agent) filterFiles(ctx context.Context, paths []string) []string {
	kept, dropped := a.filter.Apply(paths)
	for _, p := range dropped {
		a.log.Info(ctx, "file ignored by filter", "path", p)
	}

	var out []string
	var total int64
	for _, p := range kept {
		if extIgnored(a.cfg.IgnoredExtensions, p) {
			a.log.Info(ctx, "file ignored by extension", "path", p)
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			a.log.Warn(ctx, "unreadable file dropped", "path", p, "error", err)
			continue
		}
		if info.IsDir() {
			// Folders are flattened: every file in the tree is taken, at
			// any depth, and the folder structure is dropped.
			out = append(out, a.flattenDir(ctx, p, &total)...)
			continue
		}
		if a.cfg.MaxFileSize > 0 && info.Size() > a.cfg.MaxFileSize {
			a.log.Info(ctx, "file exceeds max_file_size, dropped", "path", p, "size", info.Size())
			continue
		}
		total += info.Size()
		out = append(out, p)
	}

	if a.cfg.MaxTotalSize > 0 && total > a.cfg.MaxTotalSize {
		a.log.Info(ctx, "selection exceeds max_total_size, dropped", "bytes", total)
		return nil
	}
	return out
}

// flattenDir collects a directory's files, discarding the tree structure.
func (a *Agent) flattenDir(ctx context.Context, dir string, total *int64) []string {
	var out []string
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if a.filter.Match(filepath.Base(path)) || extIgnored(a.cfg.IgnoredExtensions, path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if a.cfg.MaxFileSize > 0 && info.Size() > a.cfg.MaxFileSize {
			a.log.Info(ctx, "file exceeds max_file_size, dropped", "path", path, "size", info.Size())
			return nil
		}
		*total += info.Size()
		out = append(out, path)
		return nil
	})
	return out
}

func extIgnored(exts []string, path string) bool {
	ext := filepath.Ext(path)
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// sendFilesInline ships the files whole in one frame.
func (a *Agent) sendFilesInline(ctx context.Context, conn connSender, metas []protocol.FileMetadata, paths []string) {
	payload := make([]byte, 0, protocol.TotalSize(metas))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			a.log.Warn(ctx, "inline read failed, send dropped", "path", p, "error", err)
			return
		}
		payload = append(payload, data...)
	}

	if err := conn.Send(&protocol.FilesInline{Files: metas}, payload); err != nil {
		a.log.Warn(ctx, "inline send failed", "error", err)
		return
	}
	a.log.Info(ctx, "files sent inline", "files", len(metas), "bytes", len(payload))
}

// announceFiles registers a lazy transfer and ships its metadata. A new copy
// while a transfer is active cancels and supersedes the prior one.
func (a *Agent) announceFiles(ctx context.Context, conn connSender, metas []protocol.FileMetadata, paths []string) {
	a.supersedeOutbound(conn)

	id := transfer.NewID()
	rec := a.registry.RegisterAnnounced(id, metas, paths)
	if err := conn.Send(&protocol.FileAnnounce{TransferID: id, Files: metas}, nil); err != nil {
		a.log.Warn(ctx, "announce failed", "error", err)
		a.registry.Remove(id)
		return
	}

	a.outMu.Lock()
	a.activeOut = id
	a.outMu.Unlock()
	a.log.Info(ctx, "transfer announced", "transfer_id", id, "files", len(metas), "bytes", rec.BytesTotal)
}

// supersedeOutbound cancels the announce this side currently owns, if any.
func (a *Agent) supersedeOutbound(conn connSender) {
	a.outMu.Lock()
	id := a.activeOut
	stop := a.activeOutStop
	a.activeOut = ""
	a.activeOutStop = nil
	a.outMu.Unlock()

	if id == "" {
		return
	}
	if stop != nil {
		stop()
	}
	a.registry.Mark(id, transfer.StatusCanceled)
	a.registry.Remove(id)
	if conn != nil {
		_ = conn.Send(&protocol.TransferCancel{TransferID: id, Reason: "superseded"}, nil)
	}
}

// cancelOutbound drops outbound transfer state without touching the wire.
// Used at connection teardown.
func (a *Agent) cancelOutbound() {
	a.outMu.Lock()
	stop := a.activeOutStop
	a.activeOut = ""
	a.activeOutStop = nil
	a.outMu.Unlock()
	if stop != nil {
		stop()
	}
}

// stopStreamingIf aborts the running chunk streamer when it serves the given
// transfer.
func (a *Agent) stopStreamingIf(id string) {
	a.outMu.Lock()
	stop := a.activeOutStop
	match := a.activeOut == id
	if match {
		a.activeOut = ""
		a.activeOutStop = nil
	}
	a.outMu.Unlock()
	if match && stop != nil {
		stop()
	}
}

// connSender is the slice of transport.Conn the outbound path needs;
// narrowed for tests.
type connSender interface {
	Send(m protocol.Message, payload []byte) error
}

// startStreaming serves a FILE_REQUEST against the announced registry. Each
// transfer streams on its own worker; at most one runs at a time and a newer
// copy supersedes it.
func (a *Agent) startStreaming(ctx context.Context, conn connSender, req *protocol.FileRequest) {
	rec, ok := a.registry.GetAnnounced(req.TransferID)
	if !ok {
		_ = conn.Send(&protocol.TransferError{
			TransferID: req.TransferID,
			Code:       protocol.ErrCodeExpiredOrUnknown,
		}, nil)
		return
	}

	streamCtx, stop := context.WithCancel(ctx)
	a.outMu.Lock()
	a.activeOut = req.TransferID
	a.activeOutStop = stop
	a.outMu.Unlock()

	a.registry.Mark(req.TransferID, transfer.StatusTransferring)

	go func() {
		defer stop()
		a.streamTransfer(streamCtx, conn, rec, req)
	}()
}

// streamTransfer pushes every requested chunk, then FILE_COMPLETE. The write
// mutex plus the TCP window provide backpressure; memory stays bounded at
// one chunk.
func (a *Agent) streamTransfer(ctx context.Context, conn connSender, rec transfer.Record, req *protocol.FileRequest) {
	var done int64
	var speed speedometer
	id := rec.TransferID

	for idx := req.FileIndex; idx < len(rec.SourcePaths); idx++ {
		if ctx.Err() != nil {
			return
		}

		r, err := transfer.OpenChunkReader(rec.SourcePaths[idx], a.cfg.ChunkSize)
		if err != nil {
			a.failStreaming(ctx, conn, id, err)
			return
		}
		if idx == req.FileIndex && req.Offset > 0 {
			if err := r.Seek(req.Offset); err != nil {
				r.Close()
				a.failStreaming(ctx, conn, id, err)
				return
			}
			done = req.Offset
		}

		for {
			if ctx.Err() != nil {
				r.Close()
				return
			}
			offset, data, sum, err := r.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				r.Close()
				a.failStreaming(ctx, conn, id, err)
				return
			}

			chunk := &protocol.FileChunk{
				TransferID:    id,
				FileIndex:     idx,
				Offset:        offset,
				Length:        len(data),
				ChunkChecksum: sum,
			}
			if err := conn.Send(chunk, data); err != nil {
				r.Close()
				a.log.Warn(ctx, "chunk send failed", "transfer_id", id, "error", err)
				a.registry.Mark(id, transfer.StatusFailed)
				return
			}

			done += int64(len(data))
			a.registry.UpdateProgress(id, done)
			bps, eta := speed.update(done, rec.BytesTotal)
			a.callbacks.fireProgress(id, done, rec.BytesTotal, bps, eta)
		}
		r.Close()
	}

	if err := conn.Send(&protocol.FileComplete{TransferID: id}, nil); err != nil {
		a.registry.Mark(id, transfer.StatusFailed)
		return
	}
	a.registry.Mark(id, transfer.StatusComplete)
	a.log.Info(ctx, "transfer streamed", "transfer_id", id, "bytes", done)

	a.outMu.Lock()
	if a.activeOut == id {
		a.activeOut = ""
		a.activeOutStop = nil
	}
	a.outMu.Unlock()
}

// failStreaming reports a sender-side read failure to the peer.
func (a *Agent) failStreaming(ctx context.Context, conn connSender, id string, err error) {
	a.log.Warn(ctx, "transfer read failed", "transfer_id", id, "error", err)
	a.registry.Mark(id, transfer.StatusFailed)
	a.callbacks.fireError(common.ErrInternal, err.Error())
	_ = conn.Send(&protocol.TransferError{
		TransferID: id,
		Code:       protocol.ErrCodeRead,
		Detail:     err.Error(),
	}, nil)
}

package sftp

import (
	"context"
	"io"
	"path"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/socib/go-sftp/internal/sshfx"
)

const fakeMaxPacket = 2 << 20

// readReq records one SSH_FXP_READ as the server saw it.
type readReq struct {
	Off uint64
	Len uint32
}

// fakeServer is an in-process SFTP v3 server speaking over a pipe,
// serving a small in-memory tree one request at a time.
//
// Knobs make it misbehave in the ways a real server legitimately can
// (short responses, reordered completion, zero-length data at end-of-file)
// or illegitimately can (failing a particular read or write), so the
// session and the transfer engines can be exercised deterministically.
type fakeServer struct {
	t *testing.T

	rd io.Reader
	wr io.WriteCloser

	mu      sync.Mutex
	root    string
	files   map[string][]byte
	perms   map[string]sshfx.FileMode
	dirs    map[string][]*sshfx.NameEntry
	handles map[string]*fakeHandle
	nhandle int

	// Knobs, set before start.
	serveLimit   uint32          // cap on bytes served per read, 0 caps at the request length
	halfReads    bool            // serve ceil(half) of every read
	eofZeroData  bool            // answer reads at end-of-file with empty data instead of SSH_FX_EOF
	failReadAt   int64           // fail the read whose range covers this offset, -1 disables
	failWriteAt  int64           // fail the write whose range covers this offset, -1 disables
	holdOffsets  map[uint64]bool // stash these reads' responses until after the next response
	readdirBatch int             // entries per READDIR response, 0 serves all at once

	stash  [][]byte
	reads  []readReq // reads in arrival order
	writes []int     // write payload lengths in arrival order

	wg sync.WaitGroup
}

type fakeHandle struct {
	path   string
	dir    bool
	dirSrc []*sshfx.NameEntry
}

func newFakeServer(t *testing.T) *fakeServer {
	return &fakeServer{
		t:           t,
		root:        "/home/test",
		files:       make(map[string][]byte),
		perms:       make(map[string]sshfx.FileMode),
		dirs:        make(map[string][]*sshfx.NameEntry),
		handles:     make(map[string]*fakeHandle),
		failReadAt:  -1,
		failWriteAt: -1,
	}
}

// start wires the server to a new session over in-memory pipes.
// The session and the server are torn down by t.Cleanup.
func (fx *fakeServer) start(opts ...SessionOption) *Session {
	crd, swr := io.Pipe()
	srd, cwr := io.Pipe()

	fx.rd, fx.wr = srd, swr

	fx.wg.Add(1)
	go fx.serve()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := NewSessionPipe(ctx, crd, cwr, opts...)
	if err != nil {
		fx.t.Fatalf("NewSessionPipe(): %v", err)
	}

	fx.t.Cleanup(func() {
		s.Close()
		fx.wg.Wait()
	})

	return s
}

func (fx *fakeServer) serve() {
	defer fx.wg.Done()
	defer fx.wr.Close()

	buf, err := sshfx.ReadFrame(fx.rd, nil, fakeMaxPacket)
	if err != nil {
		fx.t.Errorf("fake server: read init: %v", err)
		return
	}

	typ, err := buf.ConsumeUint8()
	if err != nil || sshfx.PacketType(typ) != sshfx.PacketTypeInit {
		fx.t.Errorf("fake server: expected SSH_FXP_INIT, got %v (%v)", sshfx.PacketType(typ), err)
		return
	}

	ver := &sshfx.VersionPacket{Version: 3}
	data, err := ver.MarshalBinary()
	if err != nil {
		fx.t.Errorf("fake server: marshal version: %v", err)
		return
	}
	if _, err := fx.wr.Write(data); err != nil {
		return
	}

	for {
		var raw sshfx.RawPacket
		if err := raw.ReadFrom(fx.rd, nil, fakeMaxPacket); err != nil {
			// The client hung up.
			return
		}

		fx.process(&raw)
	}
}

func (fx *fakeServer) process(raw *sshfx.RawPacket) {
	fx.mu.Lock()
	defer fx.mu.Unlock()

	nstash := len(fx.stash)

	fx.handlePacket(raw)

	// A response stashed by an earlier read goes out now,
	// after the response to this request, arriving out of order.
	if len(fx.stash) == nstash {
		for _, b := range fx.stash {
			fx.write(b)
		}
		fx.stash = fx.stash[:0]
	}
}

func (fx *fakeServer) handlePacket(raw *sshfx.RawPacket) {
	reqid := raw.RequestID
	buf := &raw.Data

	switch raw.PacketType {
	case sshfx.PacketTypeRealPath:
		var req sshfx.RealPathPacket
		if err := req.UnmarshalPacketBody(buf); err != nil {
			fx.sendStatus(reqid, sshfx.StatusBadMessage, err.Error())
			return
		}

		p := req.Path
		if !path.IsAbs(p) {
			p = path.Join(fx.root, p)
		}

		fx.send(reqid, &sshfx.NamePacket{
			Entries: []*sshfx.NameEntry{{Filename: path.Clean(p)}},
		})

	case sshfx.PacketTypeStat:
		var req sshfx.StatPacket
		if err := req.UnmarshalPacketBody(buf); err != nil {
			fx.sendStatus(reqid, sshfx.StatusBadMessage, err.Error())
			return
		}
		fx.sendAttrs(reqid, req.Path)

	case sshfx.PacketTypeLStat:
		var req sshfx.LStatPacket
		if err := req.UnmarshalPacketBody(buf); err != nil {
			fx.sendStatus(reqid, sshfx.StatusBadMessage, err.Error())
			return
		}
		fx.sendAttrs(reqid, req.Path)

	case sshfx.PacketTypeOpen:
		fx.handleOpen(reqid, buf)

	case sshfx.PacketTypeClose:
		var req sshfx.ClosePacket
		if err := req.UnmarshalPacketBody(buf); err != nil {
			fx.sendStatus(reqid, sshfx.StatusBadMessage, err.Error())
			return
		}

		if _, ok := fx.handles[req.Handle]; !ok {
			fx.sendStatus(reqid, sshfx.StatusFailure, "invalid handle")
			return
		}
		delete(fx.handles, req.Handle)
		fx.sendStatus(reqid, sshfx.StatusOK, "")

	case sshfx.PacketTypeRead:
		fx.handleRead(reqid, buf)

	case sshfx.PacketTypeWrite:
		fx.handleWrite(reqid, buf)

	case sshfx.PacketTypeFStat:
		var req sshfx.FStatPacket
		if err := req.UnmarshalPacketBody(buf); err != nil {
			fx.sendStatus(reqid, sshfx.StatusBadMessage, err.Error())
			return
		}

		h, ok := fx.handles[req.Handle]
		if !ok {
			fx.sendStatus(reqid, sshfx.StatusFailure, "invalid handle")
			return
		}
		fx.sendAttrs(reqid, h.path)

	case sshfx.PacketTypeOpenDir:
		var req sshfx.OpenDirPacket
		if err := req.UnmarshalPacketBody(buf); err != nil {
			fx.sendStatus(reqid, sshfx.StatusBadMessage, err.Error())
			return
		}

		entries, ok := fx.dirs[req.Path]
		if !ok {
			fx.sendStatus(reqid, sshfx.StatusNoSuchFile, "no such directory")
			return
		}

		h := fx.newHandle(req.Path, true)
		fx.handles[h].dirSrc = slices.Clone(entries)
		fx.send(reqid, &sshfx.HandlePacket{Handle: h})

	case sshfx.PacketTypeReadDir:
		var req sshfx.ReadDirPacket
		if err := req.UnmarshalPacketBody(buf); err != nil {
			fx.sendStatus(reqid, sshfx.StatusBadMessage, err.Error())
			return
		}

		h, ok := fx.handles[req.Handle]
		if !ok || !h.dir {
			fx.sendStatus(reqid, sshfx.StatusFailure, "invalid handle")
			return
		}

		if len(h.dirSrc) == 0 {
			fx.sendStatus(reqid, sshfx.StatusEOF, "")
			return
		}

		n := len(h.dirSrc)
		if fx.readdirBatch > 0 && n > fx.readdirBatch {
			n = fx.readdirBatch
		}

		fx.send(reqid, &sshfx.NamePacket{Entries: h.dirSrc[:n]})
		h.dirSrc = h.dirSrc[n:]

	case sshfx.PacketTypeMkdir:
		var req sshfx.MkdirPacket
		if err := req.UnmarshalPacketBody(buf); err != nil {
			fx.sendStatus(reqid, sshfx.StatusBadMessage, err.Error())
			return
		}

		if fx.exists(req.Path) {
			fx.sendStatus(reqid, sshfx.StatusFileAlreadyExists, "file already exists")
			return
		}
		fx.dirs[req.Path] = []*sshfx.NameEntry{}
		fx.sendStatus(reqid, sshfx.StatusOK, "")

	case sshfx.PacketTypeRmdir:
		var req sshfx.RmdirPacket
		if err := req.UnmarshalPacketBody(buf); err != nil {
			fx.sendStatus(reqid, sshfx.StatusBadMessage, err.Error())
			return
		}

		entries, ok := fx.dirs[req.Path]
		switch {
		case !ok:
			fx.sendStatus(reqid, sshfx.StatusNoSuchFile, "no such directory")
		case len(entries) != 0:
			fx.sendStatus(reqid, sshfx.StatusFailure, "directory not empty")
		default:
			delete(fx.dirs, req.Path)
			fx.sendStatus(reqid, sshfx.StatusOK, "")
		}

	case sshfx.PacketTypeRemove:
		var req sshfx.RemovePacket
		if err := req.UnmarshalPacketBody(buf); err != nil {
			fx.sendStatus(reqid, sshfx.StatusBadMessage, err.Error())
			return
		}

		if _, ok := fx.files[req.Path]; !ok {
			fx.sendStatus(reqid, sshfx.StatusNoSuchFile, "no such file")
			return
		}
		delete(fx.files, req.Path)
		fx.sendStatus(reqid, sshfx.StatusOK, "")

	case sshfx.PacketTypeRename:
		var req sshfx.RenamePacket
		if err := req.UnmarshalPacketBody(buf); err != nil {
			fx.sendStatus(reqid, sshfx.StatusBadMessage, err.Error())
			return
		}

		if fx.exists(req.NewPath) {
			fx.sendStatus(reqid, sshfx.StatusFileAlreadyExists, "file already exists")
			return
		}

		if data, ok := fx.files[req.OldPath]; ok {
			delete(fx.files, req.OldPath)
			fx.files[req.NewPath] = data
			fx.perms[req.NewPath] = fx.perms[req.OldPath]
			fx.sendStatus(reqid, sshfx.StatusOK, "")
			return
		}
		if entries, ok := fx.dirs[req.OldPath]; ok {
			delete(fx.dirs, req.OldPath)
			fx.dirs[req.NewPath] = entries
			fx.sendStatus(reqid, sshfx.StatusOK, "")
			return
		}
		fx.sendStatus(reqid, sshfx.StatusNoSuchFile, "no such file")

	default:
		fx.sendStatus(reqid, sshfx.StatusOPUnsupported, "not implemented")
	}
}

func (fx *fakeServer) handleOpen(reqid uint32, buf *sshfx.Buffer) {
	var req sshfx.OpenPacket
	if err := req.UnmarshalPacketBody(buf); err != nil {
		fx.sendStatus(reqid, sshfx.StatusBadMessage, err.Error())
		return
	}

	_, exists := fx.files[req.Filename]

	switch {
	case req.PFlags&sshfx.FlagWrite != 0:
		if !exists && req.PFlags&sshfx.FlagCreate == 0 {
			fx.sendStatus(reqid, sshfx.StatusNoSuchFile, "no such file")
			return
		}
		if exists && req.PFlags&sshfx.FlagExclusive != 0 {
			fx.sendStatus(reqid, sshfx.StatusFileAlreadyExists, "file already exists")
			return
		}

		if !exists || req.PFlags&sshfx.FlagTruncate != 0 {
			fx.files[req.Filename] = nil
		}
		if !exists && req.Attrs.Flags&sshfx.AttrPermissions != 0 {
			fx.perms[req.Filename] = req.Attrs.Permissions
		}

	default:
		if !exists {
			fx.sendStatus(reqid, sshfx.StatusNoSuchFile, "no such file")
			return
		}
	}

	fx.send(reqid, &sshfx.HandlePacket{Handle: fx.newHandle(req.Filename, false)})
}

func (fx *fakeServer) handleRead(reqid uint32, buf *sshfx.Buffer) {
	var req sshfx.ReadPacket
	if err := req.UnmarshalPacketBody(buf); err != nil {
		fx.sendStatus(reqid, sshfx.StatusBadMessage, err.Error())
		return
	}

	h, ok := fx.handles[req.Handle]
	if !ok || h.dir {
		fx.sendStatus(reqid, sshfx.StatusFailure, "invalid handle")
		return
	}

	fx.reads = append(fx.reads, readReq{Off: req.Offset, Len: req.Length})

	if fx.failReadAt >= 0 &&
		req.Offset <= uint64(fx.failReadAt) && uint64(fx.failReadAt) < req.Offset+uint64(req.Length) {
		fx.sendStatus(reqid, sshfx.StatusFailure, "injected read failure")
		return
	}

	data := fx.files[h.path]

	if req.Offset >= uint64(len(data)) {
		if fx.eofZeroData {
			fx.sendRead(req.Offset, reqid, &sshfx.DataPacket{})
			return
		}
		fx.sendStatus(reqid, sshfx.StatusEOF, "")
		return
	}

	n := req.Length
	if fx.halfReads {
		n = (n + 1) / 2
	}
	if fx.serveLimit > 0 && n > fx.serveLimit {
		n = fx.serveLimit
	}
	if avail := uint64(len(data)) - req.Offset; uint64(n) > avail {
		n = uint32(avail)
	}

	fx.sendRead(req.Offset, reqid, &sshfx.DataPacket{
		Data: data[req.Offset : req.Offset+uint64(n)],
	})
}

func (fx *fakeServer) handleWrite(reqid uint32, buf *sshfx.Buffer) {
	var req sshfx.WritePacket
	if err := req.UnmarshalPacketBody(buf); err != nil {
		fx.sendStatus(reqid, sshfx.StatusBadMessage, err.Error())
		return
	}

	h, ok := fx.handles[req.Handle]
	if !ok || h.dir {
		fx.sendStatus(reqid, sshfx.StatusFailure, "invalid handle")
		return
	}

	fx.writes = append(fx.writes, len(req.Data))

	if fx.failWriteAt >= 0 &&
		req.Offset <= uint64(fx.failWriteAt) && uint64(fx.failWriteAt) < req.Offset+uint64(len(req.Data)) {
		fx.sendStatus(reqid, sshfx.StatusFailure, "injected write failure")
		return
	}

	data := fx.files[h.path]
	if end := req.Offset + uint64(len(req.Data)); uint64(len(data)) < end {
		data = append(data, make([]byte, end-uint64(len(data)))...)
	}
	copy(data[req.Offset:], req.Data)
	fx.files[h.path] = data

	fx.sendStatus(reqid, sshfx.StatusOK, "")
}

func (fx *fakeServer) newHandle(p string, dir bool) string {
	fx.nhandle++
	h := "h" + strconv.Itoa(fx.nhandle)
	fx.handles[h] = &fakeHandle{path: p, dir: dir}
	return h
}

func (fx *fakeServer) exists(p string) bool {
	if _, ok := fx.files[p]; ok {
		return true
	}
	_, ok := fx.dirs[p]
	return ok
}

func (fx *fakeServer) sendAttrs(reqid uint32, p string) {
	if _, ok := fx.dirs[p]; ok {
		fx.send(reqid, &sshfx.AttrsPacket{
			Attrs: sshfx.Attributes{
				Flags:       sshfx.AttrPermissions,
				Permissions: sshfx.ModeDir | 0o755,
			},
		})
		return
	}

	data, ok := fx.files[p]
	if !ok {
		fx.sendStatus(reqid, sshfx.StatusNoSuchFile, "no such file")
		return
	}

	perm, ok := fx.perms[p]
	if !ok {
		perm = 0o644
	}

	fx.send(reqid, &sshfx.AttrsPacket{
		Attrs: sshfx.Attributes{
			Flags:       sshfx.AttrSize | sshfx.AttrPermissions,
			Size:        uint64(len(data)),
			Permissions: sshfx.ModeRegular | perm,
		},
	})
}

func (fx *fakeServer) sendStatus(reqid uint32, code sshfx.Status, msg string) {
	fx.send(reqid, &sshfx.StatusPacket{
		StatusCode:   code,
		ErrorMessage: msg,
	})
}

// sendRead sends a read response, or stashes it when its offset is marked
// to be held back, so it arrives after the next response instead.
func (fx *fakeServer) sendRead(off uint64, reqid uint32, pkt sshfx.PacketMarshaller) {
	if fx.holdOffsets[off] {
		delete(fx.holdOffsets, off)
		fx.stash = append(fx.stash, fx.marshal(reqid, pkt))
		return
	}

	fx.send(reqid, pkt)
}

func (fx *fakeServer) send(reqid uint32, pkt sshfx.PacketMarshaller) {
	fx.write(fx.marshal(reqid, pkt))
}

func (fx *fakeServer) marshal(reqid uint32, pkt sshfx.PacketMarshaller) []byte {
	b, err := sshfx.ComposePacket(pkt.MarshalPacket(reqid, nil))
	if err != nil {
		fx.t.Errorf("fake server: marshal response: %v", err)
		return nil
	}

	return b
}

func (fx *fakeServer) write(b []byte) {
	if len(b) == 0 {
		return
	}

	// Write errors mean the client hung up; the read loop notices.
	_, _ = fx.wr.Write(b)
}

// The accessors below take the server lock,
// so tests can inspect state while the serve loop is still running.

func (fx *fakeServer) readLog() []readReq {
	fx.mu.Lock()
	defer fx.mu.Unlock()

	return slices.Clone(fx.reads)
}

func (fx *fakeServer) writeLog() []int {
	fx.mu.Lock()
	defer fx.mu.Unlock()

	return slices.Clone(fx.writes)
}

func (fx *fakeServer) fileData(p string) ([]byte, bool) {
	fx.mu.Lock()
	defer fx.mu.Unlock()

	data, ok := fx.files[p]
	return slices.Clone(data), ok
}

func (fx *fakeServer) filePerm(p string) (sshfx.FileMode, bool) {
	fx.mu.Lock()
	defer fx.mu.Unlock()

	perm, ok := fx.perms[p]
	return perm, ok
}

func (fx *fakeServer) hasDir(p string) bool {
	fx.mu.Lock()
	defer fx.mu.Unlock()

	_, ok := fx.dirs[p]
	return ok
}

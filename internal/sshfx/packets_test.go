package sshfx

import (
	"bytes"
	"testing"
)

var (
	_ Packet = &OpenPacket{}
	_ Packet = &OpenDirPacket{}
	_ Packet = &ClosePacket{}
	_ Packet = &ReadPacket{}
	_ Packet = &WritePacket{}
	_ Packet = &ReadDirPacket{}
	_ Packet = &StatPacket{}
	_ Packet = &LStatPacket{}
	_ Packet = &RealPathPacket{}
	_ Packet = &RemovePacket{}
	_ Packet = &MkdirPacket{}
	_ Packet = &RmdirPacket{}
	_ Packet = &RenamePacket{}
)

func TestOpenPacket(t *testing.T) {
	const (
		id       = 2
		filename = "/tmp/out.bin"
		pflags   = FlagWrite | FlagCreate | FlagTruncate
		perms    = 0o644
	)

	p := &OpenPacket{
		Filename: filename,
		PFlags:   pflags,
		Attrs: Attributes{
			Flags:       AttrPermissions,
			Permissions: perms,
		},
	}

	buf, err := ComposePacket(p.MarshalPacket(id, nil))
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	want := []byte{
		0x00, 0x00, 0x00, 33,
		3,
		0x00, 0x00, 0x00, 2,
		0x00, 0x00, 0x00, 12, '/', 't', 'm', 'p', '/', 'o', 'u', 't', '.', 'b', 'i', 'n',
		0x00, 0x00, 0x00, 26,
		0x00, 0x00, 0x00, 4,
		0x00, 0x00, 0x01, 0xa4,
	}

	if !bytes.Equal(buf, want) {
		t.Fatalf("MarshalPacket() = %X, but wanted %X", buf, want)
	}

	*p = OpenPacket{}

	// UnmarshalPacketBody assumes the uint32(length) + uint8(type) + uint32(request-id) have already been consumed.
	if err := p.UnmarshalPacketBody(NewBuffer(buf[9:])); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if p.Filename != filename {
		t.Errorf("UnmarshalPacketBody(): Filename was %q, but expected %q", p.Filename, filename)
	}
	if p.PFlags != pflags {
		t.Errorf("UnmarshalPacketBody(): PFlags was %x, but expected %x", p.PFlags, pflags)
	}
	if p.Attrs.Permissions != perms {
		t.Errorf("UnmarshalPacketBody(): Attrs.Permissions was %o, but expected %o", p.Attrs.Permissions, perms)
	}
}

func TestReadPacket(t *testing.T) {
	const (
		id     = 3
		handle = "h4"
		offset = 0x200
		length = 0x8000
	)

	p := &ReadPacket{
		Handle: handle,
		Offset: offset,
		Length: length,
	}

	buf, err := ComposePacket(p.MarshalPacket(id, nil))
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	want := []byte{
		0x00, 0x00, 0x00, 23,
		5,
		0x00, 0x00, 0x00, 3,
		0x00, 0x00, 0x00, 2, 'h', '4',
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x02, 0x00,
		0x00, 0x00, 0x80, 0x00,
	}

	if !bytes.Equal(buf, want) {
		t.Fatalf("MarshalPacket() = %X, but wanted %X", buf, want)
	}

	*p = ReadPacket{}

	if err := p.UnmarshalPacketBody(NewBuffer(buf[9:])); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if p.Handle != handle {
		t.Errorf("UnmarshalPacketBody(): Handle was %q, but expected %q", p.Handle, handle)
	}
	if p.Offset != offset {
		t.Errorf("UnmarshalPacketBody(): Offset was %d, but expected %d", p.Offset, offset)
	}
	if p.Length != length {
		t.Errorf("UnmarshalPacketBody(): Length was %d, but expected %d", p.Length, length)
	}
}

func TestWritePacket(t *testing.T) {
	const (
		id     = 4
		handle = "h4"
		offset = 8
	)

	data := []byte("abcd")

	p := &WritePacket{
		Handle: handle,
		Offset: offset,
		Data:   data,
	}

	buf, err := ComposePacket(p.MarshalPacket(id, nil))
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	want := []byte{
		0x00, 0x00, 0x00, 27,
		6,
		0x00, 0x00, 0x00, 4,
		0x00, 0x00, 0x00, 2, 'h', '4',
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x08,
		0x00, 0x00, 0x00, 4, 'a', 'b', 'c', 'd',
	}

	if !bytes.Equal(buf, want) {
		t.Fatalf("MarshalPacket() = %X, but wanted %X", buf, want)
	}

	*p = WritePacket{}

	if err := p.UnmarshalPacketBody(NewBuffer(buf[9:])); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if p.Handle != handle {
		t.Errorf("UnmarshalPacketBody(): Handle was %q, but expected %q", p.Handle, handle)
	}
	if p.Offset != offset {
		t.Errorf("UnmarshalPacketBody(): Offset was %d, but expected %d", p.Offset, offset)
	}
	if !bytes.Equal(p.Data, data) {
		t.Errorf("UnmarshalPacketBody(): Data was %X, but expected %X", p.Data, data)
	}
}

func TestRenamePacket(t *testing.T) {
	const (
		id      = 5
		oldpath = "/data/a.log"
		newpath = "/data/b.log"
	)

	p := &RenamePacket{
		OldPath: oldpath,
		NewPath: newpath,
	}

	buf, err := ComposePacket(p.MarshalPacket(id, nil))
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	want := []byte{
		0x00, 0x00, 0x00, 35,
		18,
		0x00, 0x00, 0x00, 5,
		0x00, 0x00, 0x00, 11, '/', 'd', 'a', 't', 'a', '/', 'a', '.', 'l', 'o', 'g',
		0x00, 0x00, 0x00, 11, '/', 'd', 'a', 't', 'a', '/', 'b', '.', 'l', 'o', 'g',
	}

	if !bytes.Equal(buf, want) {
		t.Fatalf("MarshalPacket() = %X, but wanted %X", buf, want)
	}

	*p = RenamePacket{}

	if err := p.UnmarshalPacketBody(NewBuffer(buf[9:])); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if p.OldPath != oldpath {
		t.Errorf("UnmarshalPacketBody(): OldPath was %q, but expected %q", p.OldPath, oldpath)
	}
	if p.NewPath != newpath {
		t.Errorf("UnmarshalPacketBody(): NewPath was %q, but expected %q", p.NewPath, newpath)
	}
}

func TestMkdirPacket(t *testing.T) {
	const (
		id    = 6
		path  = "/data/new"
		perms = 0o755
	)

	p := &MkdirPacket{
		Path: path,
		Attrs: Attributes{
			Flags:       AttrPermissions,
			Permissions: perms,
		},
	}

	buf, err := ComposePacket(p.MarshalPacket(id, nil))
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	want := []byte{
		0x00, 0x00, 0x00, 26,
		14,
		0x00, 0x00, 0x00, 6,
		0x00, 0x00, 0x00, 9, '/', 'd', 'a', 't', 'a', '/', 'n', 'e', 'w',
		0x00, 0x00, 0x00, 4,
		0x00, 0x00, 0x01, 0xed,
	}

	if !bytes.Equal(buf, want) {
		t.Fatalf("MarshalPacket() = %X, but wanted %X", buf, want)
	}

	*p = MkdirPacket{}

	if err := p.UnmarshalPacketBody(NewBuffer(buf[9:])); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if p.Path != path {
		t.Errorf("UnmarshalPacketBody(): Path was %q, but expected %q", p.Path, path)
	}
	if p.Attrs.Permissions != perms {
		t.Errorf("UnmarshalPacketBody(): Attrs.Permissions was %o, but expected %o", p.Attrs.Permissions, perms)
	}
}

package sshfx

import (
	"bytes"
	"errors"
	"testing"
)

func TestBufferConsumeShort(t *testing.T) {
	b := NewBuffer([]byte{0x00, 0x00})

	if _, err := b.ConsumeUint32(); !errors.Is(err, ErrShortPacket) {
		t.Errorf("ConsumeUint32() on two bytes: err was %v, but expected %v", err, ErrShortPacket)
	}

	b = NewBuffer([]byte{0x00, 0x00, 0x00, 0x08, 'a', 'b'})

	if _, err := b.ConsumeByteSlice(); !errors.Is(err, ErrShortPacket) {
		t.Errorf("ConsumeByteSlice() with overlong length: err was %v, but expected %v", err, ErrShortPacket)
	}
}

func TestBufferStartPacket(t *testing.T) {
	b := NewBuffer(make([]byte, 0, 64))

	b.StartPacket(PacketTypeStat, 7)
	b.AppendString("/t")

	header, payload, err := b.Packet(nil)
	if err != nil {
		t.Fatal("unexpected error:", err)
	}
	if payload != nil {
		t.Errorf("Packet(nil): payload was %X, but expected nil", payload)
	}

	want := []byte{
		0x00, 0x00, 0x00, 11,
		17,
		0x00, 0x00, 0x00, 7,
		0x00, 0x00, 0x00, 2, '/', 't',
	}

	if !bytes.Equal(header, want) {
		t.Fatalf("Packet() = %X, but wanted %X", header, want)
	}
}

func TestBufferRoundTrip(t *testing.T) {
	b := NewBuffer(nil)

	b.AppendUint8(0x7f)
	b.AppendUint32(0xdeadbeef)
	b.AppendUint64(0x0102030405060708)
	b.AppendString("quux")
	b.AppendByteSlice([]byte{0xa, 0xb})

	if v, err := b.ConsumeUint8(); err != nil || v != 0x7f {
		t.Errorf("ConsumeUint8() = %x, %v, but expected 7f, nil", v, err)
	}
	if v, err := b.ConsumeUint32(); err != nil || v != 0xdeadbeef {
		t.Errorf("ConsumeUint32() = %x, %v, but expected deadbeef, nil", v, err)
	}
	if v, err := b.ConsumeUint64(); err != nil || v != 0x0102030405060708 {
		t.Errorf("ConsumeUint64() = %x, %v, but expected 0102030405060708, nil", v, err)
	}
	if v, err := b.ConsumeString(); err != nil || v != "quux" {
		t.Errorf("ConsumeString() = %q, %v, but expected quux, nil", v, err)
	}
	if v, err := b.ConsumeByteSlice(); err != nil || !bytes.Equal(v, []byte{0xa, 0xb}) {
		t.Errorf("ConsumeByteSlice() = %X, %v, but expected 0A0B, nil", v, err)
	}
	if b.Len() != 0 {
		t.Errorf("Len() = %d, but expected 0", b.Len())
	}
}

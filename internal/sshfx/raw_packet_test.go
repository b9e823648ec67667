package sshfx

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestRawPacketReadFrom(t *testing.T) {
	const id = 42

	status := &StatusPacket{
		StatusCode:   StatusPermissionDenied,
		ErrorMessage: "Permission denied",
	}

	frame, err := ComposePacket(status.MarshalPacket(id, nil))
	if err != nil {
		t.Fatal("unexpected error:", err)
	}

	var p RawPacket
	if err := p.ReadFrom(bytes.NewReader(frame), nil, 34000); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if p.PacketType != PacketTypeStatus {
		t.Errorf("ReadFrom(): PacketType was %v, but expected %v", p.PacketType, PacketTypeStatus)
	}
	if p.RequestID != id {
		t.Errorf("ReadFrom(): RequestID was %d, but expected %d", p.RequestID, id)
	}

	var resp StatusPacket
	if err := resp.UnmarshalPacketBody(&p.Data); err != nil {
		t.Fatal("unexpected error:", err)
	}

	if resp.StatusCode != StatusPermissionDenied {
		t.Errorf("UnmarshalPacketBody(): StatusCode was %v, but expected %v", resp.StatusCode, StatusPermissionDenied)
	}
	if resp.ErrorMessage != "Permission denied" {
		t.Errorf("UnmarshalPacketBody(): ErrorMessage was %q, but expected %q", resp.ErrorMessage, "Permission denied")
	}
}

func TestReadFrameLimits(t *testing.T) {
	// Advertised length larger than the allowed maximum.
	long := []byte{0x00, 0x00, 0x01, 0x00}
	if _, err := ReadFrame(bytes.NewReader(long), nil, 64); !errors.Is(err, ErrLongPacket) {
		t.Errorf("ReadFrame() err was %v, but expected %v", err, ErrLongPacket)
	}

	// Advertised length smaller than any valid packet.
	short := []byte{0x00, 0x00, 0x00, 0x02, 0x01, 0x02}
	if _, err := ReadFrame(bytes.NewReader(short), nil, 64); !errors.Is(err, ErrShortPacket) {
		t.Errorf("ReadFrame() err was %v, but expected %v", err, ErrShortPacket)
	}

	// Advertised length longer than the data actually available.
	truncated := []byte{0x00, 0x00, 0x00, 0x14, 101, 0x00, 0x00}
	if _, err := ReadFrame(bytes.NewReader(truncated), nil, 64); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ReadFrame() err was %v, but expected %v", err, io.ErrUnexpectedEOF)
	}
}

func TestPacketTypeString(t *testing.T) {
	tests := []struct {
		typ  PacketType
		want string
	}{
		{PacketTypeInit, "SSH_FXP_INIT"},
		{PacketTypeRead, "SSH_FXP_READ"},
		{PacketTypeStatus, "SSH_FXP_STATUS"},
		{PacketType(88), "SSH_FXP_UNKNOWN(88)"},
	}

	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("PacketType(%d).String() = %q, but expected %q", uint8(tt.typ), got, tt.want)
		}
	}
}

func TestStatusString(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusOK, "SSH_FX_OK"},
		{StatusEOF, "SSH_FX_EOF"},
		{StatusNotADirectory, "SSH_FX_NOT_A_DIRECTORY"},
		{Status(99), "SSH_FX_UNKNOWN(99)"},
	}

	for _, tt := range tests {
		if got := tt.status.String(); got != tt.want {
			t.Errorf("Status(%d).String() = %q, but expected %q", uint32(tt.status), got, tt.want)
		}
	}
}

package sftp

import (
	"errors"
	"io"
	"os"
	"testing"

	"github.com/socib/go-sftp/internal/sshfx"
)

func TestStatusToError(t *testing.T) {
	var tests = []struct {
		desc       string
		code       sshfx.Status
		okExpected bool
		want       error
	}{
		{
			desc:       "SSH_FX_OK",
			code:       sshfx.StatusOK,
			okExpected: true,
		},
		{
			desc: "SSH_FX_EOF",
			code: sshfx.StatusEOF,
			want: io.EOF,
		},
		{
			desc: "SSH_FX_NO_SUCH_FILE",
			code: sshfx.StatusNoSuchFile,
			want: os.ErrNotExist,
		},
		{
			desc: "SSH_FX_PERMISSION_DENIED",
			code: sshfx.StatusPermissionDenied,
			want: os.ErrPermission,
		},
		{
			desc: "SSH_FX_FAILURE",
			code: sshfx.StatusFailure,
			want: sshfx.StatusFailure,
		},
		{
			desc: "SSH_FX_FILE_ALREADY_EXISTS",
			code: sshfx.StatusFileAlreadyExists,
			want: os.ErrExist,
		},
		{
			desc: "SSH_FX_NOT_A_DIRECTORY",
			code: sshfx.StatusNotADirectory,
			want: sshfx.StatusNotADirectory,
		},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			pkt := &sshfx.StatusPacket{
				StatusCode: tt.code,
			}

			if got := statusToError(pkt, tt.okExpected); !errors.Is(got, tt.want) {
				t.Errorf("statusToError(%s) = %#v, want: %#v", tt.code, got, tt.want)
			}
		})
	}

	t.Run("unexpected SSH_FX_OK", func(t *testing.T) {
		pkt := &sshfx.StatusPacket{
			StatusCode: sshfx.StatusOK,
		}

		if got := statusToError(pkt, false); got == nil {
			t.Error("statusToError(SSH_FX_OK) with no data expected returned no error")
		}
	})
}

func TestStatusErrorMessage(t *testing.T) {
	pkt := &sshfx.StatusPacket{
		StatusCode:   sshfx.StatusFailure,
		ErrorMessage: "quota exceeded",
	}

	err := statusToError(pkt, false)
	if err == nil {
		t.Fatal("statusToError(SSH_FX_FAILURE) returned no error")
	}

	// The server-supplied message must survive into the reported error.
	if got := err.Error(); got != `sftp: "quota exceeded" (SSH_FX_FAILURE)` {
		t.Errorf("unexpected error message: %q", got)
	}
}

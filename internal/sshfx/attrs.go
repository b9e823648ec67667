package sshfx

import (
	"io/fs"
	"path"
	"time"
)

// Attributes related flags.
const (
	AttrSize        = 1 << iota // SSH_FILEXFER_ATTR_SIZE
	AttrUIDGID                  // SSH_FILEXFER_ATTR_UIDGID
	AttrPermissions             // SSH_FILEXFER_ATTR_PERMISSIONS
	AttrACModTime               // SSH_FILEXFER_ATTR_ACMODTIME

	AttrExtended = 1 << 31 // SSH_FILEXFER_ATTR_EXTENDED
)

// Attributes defines the file attributes type defined in draft-ietf-secsh-filexfer-02
//
// Defined in: https://tools.ietf.org/html/draft-ietf-secsh-filexfer-02#section-5
type Attributes struct {
	Flags uint32

	// AttrSize
	Size uint64

	// AttrUIDGID
	UID uint32
	GID uint32

	// AttrPermissions
	Permissions FileMode

	// AttrACModTime
	ATime uint32
	MTime uint32

	// AttrExtended
	ExtendedAttributes []ExtendedAttribute
}

// GetSize returns the size field.
// The value is undefined unless AttrSize is set in Flags.
func (a *Attributes) GetSize() uint64 {
	return a.Size
}

// GetUserGroup returns the uid and gid fields.
// The values are undefined unless AttrUIDGID is set in Flags.
func (a *Attributes) GetUserGroup() (uid, gid uint32) {
	return a.UID, a.GID
}

// GetPermissions returns the permissions field.
// The value is undefined unless AttrPermissions is set in Flags.
func (a *Attributes) GetPermissions() FileMode {
	return a.Permissions
}

// GetACModTime returns the access and modification times.
// The values are undefined unless AttrACModTime is set in Flags.
func (a *Attributes) GetACModTime() (atime, mtime time.Time) {
	return time.Unix(int64(a.ATime), 0), time.Unix(int64(a.MTime), 0)
}

// IsDir reports whether the Permissions attribute carries the directory type bit.
// It returns false when the permissions attribute is absent.
func (a *Attributes) IsDir() bool {
	return a.Flags&AttrPermissions != 0 && a.Permissions.IsDir()
}

// Len returns the number of bytes a would marshal into.
func (a *Attributes) Len() int {
	length := 4

	if a.Flags&AttrSize != 0 {
		length += 8
	}

	if a.Flags&AttrUIDGID != 0 {
		length += 4 + 4
	}

	if a.Flags&AttrPermissions != 0 {
		length += 4
	}

	if a.Flags&AttrACModTime != 0 {
		length += 4 + 4
	}

	if a.Flags&AttrExtended != 0 {
		length += 4

		for _, ext := range a.ExtendedAttributes {
			length += ext.Len()
		}
	}

	return length
}

// MarshalInto marshals a onto the end of the given Buffer.
func (a *Attributes) MarshalInto(b *Buffer) {
	b.AppendUint32(a.Flags)

	if a.Flags&AttrSize != 0 {
		b.AppendUint64(a.Size)
	}

	if a.Flags&AttrUIDGID != 0 {
		b.AppendUint32(a.UID)
		b.AppendUint32(a.GID)
	}

	if a.Flags&AttrPermissions != 0 {
		b.AppendUint32(uint32(a.Permissions))
	}

	if a.Flags&AttrACModTime != 0 {
		b.AppendUint32(a.ATime)
		b.AppendUint32(a.MTime)
	}

	if a.Flags&AttrExtended != 0 {
		b.AppendUint32(uint32(len(a.ExtendedAttributes)))

		for _, ext := range a.ExtendedAttributes {
			ext.MarshalInto(b)
		}
	}
}

// UnmarshalFrom unmarshals an Attributes from the given Buffer into a.
//
// NOTE: The values of fields not covered by a.Flags are explicitly undefined.
func (a *Attributes) UnmarshalFrom(b *Buffer) (err error) {
	if a.Flags, err = b.ConsumeUint32(); err != nil {
		return err
	}

	// Short-circuit dummy attributes.
	if a.Flags == 0 {
		return nil
	}

	if a.Flags&AttrSize != 0 {
		if a.Size, err = b.ConsumeUint64(); err != nil {
			return err
		}
	}

	if a.Flags&AttrUIDGID != 0 {
		if a.UID, err = b.ConsumeUint32(); err != nil {
			return err
		}

		if a.GID, err = b.ConsumeUint32(); err != nil {
			return err
		}
	}

	if a.Flags&AttrPermissions != 0 {
		m, err := b.ConsumeUint32()
		if err != nil {
			return err
		}
		a.Permissions = FileMode(m)
	}

	if a.Flags&AttrACModTime != 0 {
		if a.ATime, err = b.ConsumeUint32(); err != nil {
			return err
		}

		if a.MTime, err = b.ConsumeUint32(); err != nil {
			return err
		}
	}

	if a.Flags&AttrExtended != 0 {
		count, err := b.ConsumeUint32()
		if err != nil {
			return err
		}

		a.ExtendedAttributes = make([]ExtendedAttribute, count)
		for i := range a.ExtendedAttributes {
			if err := a.ExtendedAttributes[i].UnmarshalFrom(b); err != nil {
				return err
			}
		}
	}

	return nil
}

// ExtendedAttribute defines the extended file attribute type defined in draft-ietf-secsh-filexfer-02
//
// Defined in: https://tools.ietf.org/html/draft-ietf-secsh-filexfer-02#section-5
type ExtendedAttribute struct {
	Type string
	Data string
}

// Len returns the number of bytes e would marshal into.
func (e *ExtendedAttribute) Len() int {
	return 4 + len(e.Type) + 4 + len(e.Data)
}

// MarshalInto marshals e onto the end of the given Buffer.
func (e *ExtendedAttribute) MarshalInto(b *Buffer) {
	b.AppendString(e.Type)
	b.AppendString(e.Data)
}

// UnmarshalFrom unmarshals an ExtendedAttribute from the given Buffer into e.
func (e *ExtendedAttribute) UnmarshalFrom(b *Buffer) (err error) {
	if e.Type, err = b.ConsumeString(); err != nil {
		return err
	}

	if e.Data, err = b.ConsumeString(); err != nil {
		return err
	}

	return nil
}

// NameEntry implements the repeated data type in SSH_FXP_NAME responses,
// from draft-ietf-secsh-filexfer-02.
//
// This type is incompatible with versions 4 or higher.
type NameEntry struct {
	Filename string
	Longname string
	Attrs    Attributes
}

// Name returns the base name of the file.
func (e *NameEntry) Name() string {
	return path.Base(e.Filename)
}

// Size returns the length in bytes for regular files; system-dependent for others.
// It returns zero when the size attribute is absent.
func (e *NameEntry) Size() int64 {
	if e.Attrs.Flags&AttrSize == 0 {
		return 0
	}
	return int64(e.Attrs.Size)
}

// Mode returns the file mode bits converted from their POSIX representation.
// It returns zero when the permissions attribute is absent.
func (e *NameEntry) Mode() fs.FileMode {
	if e.Attrs.Flags&AttrPermissions == 0 {
		return 0
	}
	return ToGoFileMode(e.Attrs.Permissions)
}

// ModTime returns the last modification time of the file.
// It returns the zero time when the acmodtime attribute is absent.
func (e *NameEntry) ModTime() time.Time {
	if e.Attrs.Flags&AttrACModTime == 0 {
		return time.Time{}
	}
	return time.Unix(int64(e.Attrs.MTime), 0)
}

// IsDir reports whether the entry describes a directory.
func (e *NameEntry) IsDir() bool {
	return e.Attrs.IsDir()
}

// Sys returns the raw attributes as received from the server.
func (e *NameEntry) Sys() any {
	return &e.Attrs
}

// Len returns the number of bytes e would marshal into.
func (e *NameEntry) Len() int {
	return 4 + len(e.Filename) + 4 + len(e.Longname) + e.Attrs.Len()
}

// MarshalInto marshals e onto the end of the given Buffer.
func (e *NameEntry) MarshalInto(b *Buffer) {
	b.AppendString(e.Filename)
	b.AppendString(e.Longname)

	e.Attrs.MarshalInto(b)
}

// UnmarshalFrom unmarshals a NameEntry from the given Buffer into e.
func (e *NameEntry) UnmarshalFrom(b *Buffer) (err error) {
	if e.Filename, err = b.ConsumeString(); err != nil {
		return err
	}

	if e.Longname, err = b.ConsumeString(); err != nil {
		return err
	}

	return e.Attrs.UnmarshalFrom(b)
}

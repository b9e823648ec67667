package sshfx

import (
	"io/fs"
)

// FileMode represents a file's mode and permission bits.
// The bits are defined according to POSIX standards,
// and may not be the same as the Go fs.FileMode.
type FileMode uint32

// Permission flags, defined here to avoid potential inconsistencies in individual platforms.
const (
	ModePerm       FileMode = 0o0000777 // S_IRWXU | S_IRWXG | S_IRWXO
	ModeUserRead   FileMode = 0o0000400 // S_IRUSR
	ModeUserWrite  FileMode = 0o0000200 // S_IWUSR
	ModeUserExec   FileMode = 0o0000100 // S_IXUSR
	ModeGroupRead  FileMode = 0o0000040 // S_IRGRP
	ModeGroupWrite FileMode = 0o0000020 // S_IWGRP
	ModeGroupExec  FileMode = 0o0000010 // S_IXGRP
	ModeOtherRead  FileMode = 0o0000004 // S_IROTH
	ModeOtherWrite FileMode = 0o0000002 // S_IWOTH
	ModeOtherExec  FileMode = 0o0000001 // S_IXOTH

	ModeSetUID FileMode = 0o0004000 // S_ISUID
	ModeSetGID FileMode = 0o0002000 // S_ISGID
	ModeSticky FileMode = 0o0001000 // S_ISVTX

	ModeType       FileMode = 0xF000 // S_IFMT
	ModeNamedPipe  FileMode = 0x1000 // S_IFIFO
	ModeCharDevice FileMode = 0x2000 // S_IFCHR
	ModeDir        FileMode = 0x4000 // S_IFDIR
	ModeDevice     FileMode = 0x6000 // S_IFBLK
	ModeRegular    FileMode = 0x8000 // S_IFREG
	ModeSymlink    FileMode = 0xA000 // S_IFLNK
	ModeSocket     FileMode = 0xC000 // S_IFSOCK
)

// IsDir reports whether m describes a directory.
// That is, it tests for m.Type() == ModeDir.
func (m FileMode) IsDir() bool {
	return m&ModeType == ModeDir
}

// IsRegular reports whether m describes a regular file.
// That is, it tests for m.Type() == ModeRegular.
func (m FileMode) IsRegular() bool {
	return m&ModeType == ModeRegular
}

// Perm returns the POSIX permission bits in m (m & ModePerm).
func (m FileMode) Perm() FileMode {
	return m & ModePerm
}

// Type returns the type bits in m (m & ModeType).
func (m FileMode) Type() FileMode {
	return m & ModeType
}

// String returns an `ls -l` style string representation of m.
func (m FileMode) String() string {
	var buf [10]byte

	switch m.Type() {
	case ModeNamedPipe:
		buf[0] = 'p'
	case ModeCharDevice:
		buf[0] = 'c'
	case ModeDir:
		buf[0] = 'd'
	case ModeDevice:
		buf[0] = 'b'
	case ModeRegular:
		buf[0] = '-'
	case ModeSymlink:
		buf[0] = 'l'
	case ModeSocket:
		buf[0] = 's'
	default:
		buf[0] = '?'
	}

	const rwx = "rwxrwxrwx"
	for i := 0; i < len(rwx); i++ {
		if m&(1<<uint(len(rwx)-1-i)) != 0 {
			buf[i+1] = rwx[i]
		} else {
			buf[i+1] = '-'
		}
	}

	if m&ModeSetUID != 0 {
		if buf[3] == 'x' {
			buf[3] = 's'
		} else {
			buf[3] = 'S'
		}
	}

	if m&ModeSetGID != 0 {
		if buf[6] == 'x' {
			buf[6] = 's'
		} else {
			buf[6] = 'S'
		}
	}

	if m&ModeSticky != 0 {
		if buf[9] == 'x' {
			buf[9] = 't'
		} else {
			buf[9] = 'T'
		}
	}

	return string(buf[:])
}

// ToGoFileMode converts the POSIX filemode bits to their fs.FileMode equivalent.
func ToGoFileMode(mode FileMode) fs.FileMode {
	fm := fs.FileMode(mode.Perm())

	switch mode.Type() {
	case ModeNamedPipe:
		fm |= fs.ModeNamedPipe
	case ModeCharDevice:
		fm |= fs.ModeDevice | fs.ModeCharDevice
	case ModeDir:
		fm |= fs.ModeDir
	case ModeDevice:
		fm |= fs.ModeDevice
	case ModeRegular:
		// nothing to do
	case ModeSymlink:
		fm |= fs.ModeSymlink
	case ModeSocket:
		fm |= fs.ModeSocket
	}

	if mode&ModeSetUID != 0 {
		fm |= fs.ModeSetuid
	}

	if mode&ModeSetGID != 0 {
		fm |= fs.ModeSetgid
	}

	if mode&ModeSticky != 0 {
		fm |= fs.ModeSticky
	}

	return fm
}

// FromGoFileMode converts an fs.FileMode to the equivalent POSIX filemode bits.
func FromGoFileMode(mode fs.FileMode) FileMode {
	ret := FileMode(mode.Perm())

	switch mode & fs.ModeType {
	case fs.ModeNamedPipe:
		ret |= ModeNamedPipe
	case fs.ModeDevice | fs.ModeCharDevice:
		ret |= ModeCharDevice
	case fs.ModeDir:
		ret |= ModeDir
	case fs.ModeDevice:
		ret |= ModeDevice
	case 0:
		ret |= ModeRegular
	case fs.ModeSymlink:
		ret |= ModeSymlink
	case fs.ModeSocket:
		ret |= ModeSocket
	}

	if mode&fs.ModeSetuid != 0 {
		ret |= ModeSetUID
	}

	if mode&fs.ModeSetgid != 0 {
		ret |= ModeSetGID
	}

	if mode&fs.ModeSticky != 0 {
		ret |= ModeSticky
	}

	return ret
}

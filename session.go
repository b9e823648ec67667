package sftp

import (
	"context"
	"io"
	"io/fs"
	"net"
	"os"
	"os/user"
	"path"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	krfs "github.com/kr/fs"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	sshagent "github.com/xanzy/ssh-agent"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/socib/go-sftp/internal/pool"
	"github.com/socib/go-sftp/internal/sshfx"
)

// Config collects the connection parameters consumed by Connect.
//
// Zero values select defaults: port 22, the current local user,
// agent-based public-key authentication, and no dial timeout.
type Config struct {
	Host string
	Port int

	User     string
	Password string

	// KeyFile names a PEM-encoded private key file to authenticate with,
	// unlocked with KeyPassphrase when that is non-empty.
	KeyFile       string
	KeyPassphrase string

	// KnownHostsFile enables host-key verification against the named file.
	// HostKeyCallback takes precedence when both are set.
	// When neither is set, the host key is not verified.
	KnownHostsFile  string
	HostKeyCallback ssh.HostKeyCallback

	Timeout time.Duration
}

// SessionOption specifies an optional that can be set on a session.
type SessionOption func(*Session) error

// WithMaxWindow sets the maximum number of concurrently outstanding
// read requests during a download.
//
// It will generate an error if one attempts to set it to a value less than one.
func WithMaxWindow(count int) SessionOption {
	return func(s *Session) error {
		if count < 1 {
			return errors.Errorf("max window cannot be less than 1, was: %d", count)
		}

		s.maxWindow = count

		return nil
	}
}

// WithMaxChunk sets the request length in bytes that downloads start out with.
//
// It will generate an error if one attempts to set it to a value less than one,
// or to a value that does not fit in a uint32.
func WithMaxChunk(length int) SessionOption {
	return func(s *Session) error {
		if length < 1 {
			return errors.Errorf("max chunk cannot be less than 1, was: %d", length)
		}

		// This has to be cast to int64 to safely perform this test on 32-bit archs.
		// It should be identified as always false, and elided for them anyways.
		if int64(length) > int64(^uint32(0)) {
			return errors.Errorf("max chunk must fit in a uint32: %d", length)
		}

		s.maxChunk = uint32(length)

		return nil
	}
}

// WithMinChunk sets the request length in bytes that downloads will not
// shrink below when the server answers short.
//
// It will generate an error if one attempts to set it to a value less than one.
func WithMinChunk(length int) SessionOption {
	return func(s *Session) error {
		if length < 1 {
			return errors.Errorf("min chunk cannot be less than 1, was: %d", length)
		}

		if int64(length) > int64(^uint32(0)) {
			return errors.Errorf("min chunk must fit in a uint32: %d", length)
		}

		s.minChunk = uint32(length)

		return nil
	}
}

// WithUploadChunk sets the length in bytes of the sequential writes an
// upload is split into.
//
// It will generate an error if one attempts to set it to a value less than one.
func WithUploadChunk(length int) SessionOption {
	return func(s *Session) error {
		if length < 1 {
			return errors.Errorf("upload chunk cannot be less than 1, was: %d", length)
		}

		s.uploadChunk = length

		return nil
	}
}

// WithLogger directs the session's log lines to the given logger.
func WithLogger(logger *logrus.Logger) SessionOption {
	return func(s *Session) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}

		s.log = logrus.NewEntry(logger)

		return nil
	}
}

func withLogHost(host string) SessionOption {
	return func(s *Session) error {
		s.log = s.log.WithField("host", host)
		return nil
	}
}

// Session represents an SFTP session on an SSH connection,
// together with the remote working directory all relative paths are
// interpreted against.
//
// A Session supports one operation at a time;
// concurrent calls on the same Session must be serialized by the caller.
type Session struct {
	conn clientConn

	maxPacket   uint32
	maxInflight int

	maxWindow   int
	maxChunk    uint32
	minChunk    uint32
	uploadChunk int

	exts map[string]string

	log *logrus.Entry

	// sshc is set when Connect established the SSH connection itself,
	// and is torn down together with the session.
	sshc *ssh.Client

	mu  sync.Mutex
	cwd string
}

// Connect dials the configured host, authenticates,
// and opens an SFTP session over an "sftp" subsystem channel.
//
// The context covers dialing and both the SSH and SFTP handshakes.
func Connect(ctx context.Context, cfg Config, opts ...SessionOption) (*Session, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, errors.Errorf("sftp: invalid port: %d", cfg.Port)
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}

	username := cfg.User
	if username == "" {
		if u, err := user.Current(); err == nil {
			username = u.Username
		}
	}

	auth, err := authMethods(cfg)
	if err != nil {
		return nil, err
	}

	hostKeyCB := cfg.HostKeyCallback
	if hostKeyCB == nil {
		if cfg.KnownHostsFile != "" {
			hostKeyCB, err = knownhosts.New(cfg.KnownHostsFile)
			if err != nil {
				return nil, errors.Wrap(err, "sftp: known hosts")
			}
		} else {
			hostKeyCB = ssh.InsecureIgnoreHostKey()
		}
	}

	sshCfg := &ssh.ClientConfig{
		User:            username,
		Auth:            auth,
		HostKeyCallback: hostKeyCB,
		Timeout:         cfg.Timeout,
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: cfg.Timeout}

	tcp, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "sftp: connect %s", addr)
	}

	// Splitting the dial from the SSH handshake keeps network failures
	// distinguishable from authentication failures.
	sshConn, chans, reqs, err := ssh.NewClientConn(tcp, addr, sshCfg)
	if err != nil {
		tcp.Close()
		return nil, errors.Wrapf(err, "sftp: handshake %s", addr)
	}

	client := ssh.NewClient(sshConn, chans, reqs)

	sess, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, "sftp: open channel")
	}

	if err := sess.RequestSubsystem("sftp"); err != nil {
		sess.Close()
		client.Close()
		return nil, errors.Wrap(err, "sftp: request subsystem")
	}

	wr, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, err
	}

	rd, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		client.Close()
		return nil, err
	}

	opts = append(opts, withLogHost(cfg.Host))

	s, err := NewSessionPipe(ctx, rd, wr, opts...)
	if err != nil {
		client.Close()
		return nil, err
	}

	s.sshc = client

	return s, nil
}

// authMethods assembles the authentication chain for cfg:
// an explicit key file and an explicit password are tried when given,
// otherwise any reachable SSH agent is asked for its identities.
func authMethods(cfg Config) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if cfg.KeyFile != "" {
		pem, err := os.ReadFile(cfg.KeyFile)
		if err != nil {
			return nil, errors.Wrap(err, "sftp: read key file")
		}

		var signer ssh.Signer
		if cfg.KeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(cfg.KeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(pem)
		}
		if err != nil {
			return nil, errors.Wrap(err, "sftp: parse key file")
		}

		methods = append(methods, ssh.PublicKeys(signer))
	}

	if cfg.Password != "" {
		// Some servers only offer keyboard-interactive;
		// answer every prompt with the configured password.
		methods = append(methods,
			ssh.Password(cfg.Password),
			ssh.KeyboardInteractive(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = cfg.Password
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		if ag, _, err := sshagent.New(); err == nil {
			methods = append(methods, ssh.PublicKeysCallback(ag.Signers))
		}
	}

	return methods, nil
}

// NewSessionPipe opens an SFTP session given a Reader and a WriteCloser.
// This can be used for connecting to an SFTP server over TCP/TLS,
// or by using the system's ssh client program.
//
// The given context is only used for the negotiation of init and version packets.
func NewSessionPipe(ctx context.Context, rd io.Reader, wr io.WriteCloser, opts ...SessionOption) (*Session, error) {
	s := &Session{
		conn: clientConn{
			rd:     rd,
			wr:     wr,
			closed: make(chan struct{}),
		},

		maxPacket: sshfx.DefaultMaxPacketLength,

		maxWindow:   DefaultMaxWindow,
		maxChunk:    DefaultMaxChunk,
		minChunk:    DefaultMinChunk,
		uploadChunk: DefaultUploadChunk,

		log: logrus.NewEntry(logrus.StandardLogger()),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	if s.minChunk > s.maxChunk {
		return nil, errors.Errorf("min chunk cannot exceed max chunk: %d > %d", s.minChunk, s.maxChunk)
	}

	// The server may answer a read with the full requested length,
	// so the receive limit has to keep room for the largest request.
	if want := s.maxChunk + sshfx.MaxPacketLengthOverhead; s.maxPacket < want {
		s.maxPacket = want
	}
	if want := uint32(s.uploadChunk) + sshfx.MaxPacketLengthOverhead; s.maxPacket < want {
		s.maxPacket = want
	}

	s.maxInflight = 64
	if s.maxWindow > s.maxInflight {
		s.maxInflight = s.maxWindow
	}

	exts, err := s.conn.handshake(ctx, s.maxPacket)
	if err != nil {
		return nil, err
	}

	s.exts = exts

	s.conn.resPool = pool.NewWorkPool[result](s.maxInflight)

	s.conn.bufPool = pool.NewSlicePool[[]byte](s.maxInflight, int(s.maxPacket))
	s.conn.pktPool = pool.NewPool[sshfx.RawPacket](s.maxInflight)

	go func() {
		if err := s.conn.recvLoop(s.maxPacket); err != nil {
			s.conn.disconnect(err)
		}
	}()

	cwd, err := s.realPath(".")
	if err != nil {
		s.Close()
		return nil, errors.Wrap(err, "sftp: initial working directory")
	}

	s.mu.Lock()
	s.cwd = cwd
	s.mu.Unlock()

	s.log.WithField("cwd", cwd).Debug("session opened")

	return s, nil
}

// Close closes the SFTP session and, when the session was established by
// Connect, the SSH connection underneath it.
// It is safe to call Close more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	s.cwd = ""
	s.mu.Unlock()

	s.conn.disconnect(nil)
	s.conn.wr.Close()

	if s.sshc != nil {
		s.sshc.Close()
	}

	s.log.Debug("session closed")

	return nil
}

func (s *Session) closed() bool {
	select {
	case <-s.conn.closed:
		return true
	default:
		return false
	}
}

// Getwd returns the current remote working directory,
// or the empty string once the session has been closed.
func (s *Session) Getwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cwd
}

// resolve makes name absolute against the session working directory.
// An absolute name is returned unchanged,
// and the empty name resolves to the working directory itself.
func (s *Session) resolve(name string) string {
	if strings.HasPrefix(name, "/") {
		return name
	}

	cwd := s.Getwd()
	if name == "" {
		return cwd
	}

	if strings.HasSuffix(cwd, "/") {
		return cwd + name
	}

	return cwd + "/" + name
}

// Chdir changes the remote working directory to dir.
//
// The new directory is canonicalized by the server and verified to be a
// directory; on any failure the previous working directory is kept.
func (s *Session) Chdir(dir string) error {
	canon, err := s.realPath(s.resolve(dir))
	if err != nil {
		return wrapPathError("chdir", dir, err)
	}

	fi, err := s.Stat(canon)
	if err != nil {
		return wrapPathError("chdir", dir, err)
	}

	if !fi.IsDir() {
		return wrapPathError("chdir", dir, syscall.ENOTDIR)
	}

	s.mu.Lock()
	s.cwd = canon
	s.mu.Unlock()

	return nil
}

// Mkdir creates the specified directory.
// An error will be returned if a file or directory with the specified path
// already exists, or if the directory's parent folder does not exist.
func (s *Session) Mkdir(name string, perm fs.FileMode) error {
	return wrapPathError("mkdir", name,
		s.sendPacket(context.Background(), nil, &sshfx.MkdirPacket{
			Path: s.resolve(name),
			Attrs: sshfx.Attributes{
				Flags:       sshfx.AttrPermissions,
				Permissions: sshfx.FromGoFileMode(perm.Perm()),
			},
		}),
	)
}

// Rmdir removes the specified directory,
// which must exist and be empty.
func (s *Session) Rmdir(name string) error {
	return wrapPathError("rmdir", name,
		s.sendPacket(context.Background(), nil, &sshfx.RmdirPacket{
			Path: s.resolve(name),
		}),
	)
}

// Remove removes the named file.
// It does not remove directories, use Rmdir for those.
func (s *Session) Remove(name string) error {
	return wrapPathError("remove", name,
		s.sendPacket(context.Background(), nil, &sshfx.RemovePacket{
			Path: s.resolve(name),
		}),
	)
}

// Rename renames (moves) oldname to newname.
// Most servers refuse to clobber an existing newname.
func (s *Session) Rename(oldname, newname string) error {
	return wrapLinkError("rename", oldname, newname,
		s.sendPacket(context.Background(), nil, &sshfx.RenamePacket{
			OldPath: s.resolve(oldname),
			NewPath: s.resolve(newname),
		}),
	)
}

// Join joins any number of path elements into a single path,
// separating them with slashes.
func (s *Session) Join(elem ...string) string {
	return path.Join(elem...)
}

// Walk returns a new Walker rooted at root,
// walking the remote tree one directory listing at a time.
func (s *Session) Walk(root string) *krfs.Walker {
	return krfs.WalkFS(root, s)
}

// realPath asks the server to canonicalize name.
func (s *Session) realPath(name string) (string, error) {
	pkt, err := getPacket[sshfx.PathPseudoPacket](context.Background(), nil, s, &sshfx.RealPathPacket{
		Path: name,
	})
	if err != nil {
		return "", err
	}

	return pkt.Path, nil
}

type respPacket[PKT any] interface {
	*PKT
	Type() sshfx.PacketType
	UnmarshalPacketBody(buf *sshfx.Buffer) error
}

func getPacket[PKT any, P respPacket[PKT]](ctx context.Context, cancel <-chan struct{}, s *Session, req sshfx.PacketMarshaller) (*PKT, error) {
	if s.closed() {
		return nil, ErrNotConnected
	}

	raw, err := s.conn.send(ctx, cancel, req)
	if err != nil {
		return nil, err
	}
	defer s.conn.returnRaw(raw)

	var resp P

	switch raw.PacketType {
	case resp.Type():
		resp = new(PKT)
		if err := resp.UnmarshalPacketBody(&raw.Data); err != nil {
			return nil, err
		}

		return resp, nil

	case sshfx.PacketTypeStatus:
		var status sshfx.StatusPacket
		if err := status.UnmarshalPacketBody(&raw.Data); err != nil {
			return nil, err
		}

		return nil, statusToError(&status, false)

	default:
		return nil, errors.Errorf("sftp: unexpected packet type: %s", raw.PacketType)
	}
}

func (s *Session) sendPacket(ctx context.Context, cancel <-chan struct{}, req sshfx.PacketMarshaller) error {
	if s.closed() {
		return ErrNotConnected
	}

	reqid, ch, err := s.conn.dispatch(cancel, req)
	if err != nil {
		return err
	}

	var resp sshfx.StatusPacket
	return s.recvStatus(ctx, reqid, ch, &resp)
}

func (s *Session) recvStatus(ctx context.Context, reqid uint32, ch chan result, resp *sshfx.StatusPacket) error {
	raw, err := s.conn.recv(ctx, reqid, ch)
	if err != nil {
		return err
	}
	defer s.conn.returnRaw(raw)

	switch raw.PacketType {
	case sshfx.PacketTypeStatus:
		if err := resp.UnmarshalPacketBody(&raw.Data); err != nil {
			return err
		}

		return statusToError(resp, true)

	default:
		return errors.Errorf("sftp: unexpected packet type: %s", raw.PacketType)
	}
}


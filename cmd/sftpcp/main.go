// Command sftpcp is a small SFTP client: listing, stat, transfers and the
// usual directory housekeeping, one subcommand each.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/socib/go-sftp"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type app struct {
	cfg     sftp.Config
	askPass bool
	verbose bool

	maxWindow int
	maxChunk  int
	minChunk  int
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "sftpcp",
		Short:         "copy files and list directories over SFTP",
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if a.verbose {
				logrus.SetLevel(logrus.TraceLevel)
			}
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&a.cfg.Host, "host", "H", "", "server host name or address (required)")
	pf.IntVarP(&a.cfg.Port, "port", "P", 22, "server port")
	pf.StringVarP(&a.cfg.User, "user", "u", "", "user name (default: current local user)")
	pf.StringVar(&a.cfg.Password, "password", "", "password (default: agent or key authentication)")
	pf.BoolVar(&a.askPass, "ask-pass", false, "prompt for the password on the terminal")
	pf.StringVar(&a.cfg.KeyFile, "key", "", "private key file")
	pf.StringVar(&a.cfg.KeyPassphrase, "key-passphrase", "", "passphrase unlocking the private key")
	pf.StringVar(&a.cfg.KnownHostsFile, "known-hosts", "", "verify the host key against this file")
	pf.DurationVar(&a.cfg.Timeout, "timeout", 30*time.Second, "connect timeout")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "trace-level logging")

	pf.IntVar(&a.maxWindow, "max-window", 0, "maximum outstanding read requests per download")
	pf.IntVar(&a.maxChunk, "max-chunk", 0, "download read request length in bytes")
	pf.IntVar(&a.minChunk, "min-chunk", 0, "lower bound for the adapted read request length")

	cobra.CheckErr(cmd.MarkPersistentFlagRequired("host"))

	cmd.AddCommand(
		a.newLsCmd(),
		a.newGlobCmd(),
		a.newStatCmd(),
		a.newGetCmd(),
		a.newPutCmd(),
		a.newMkdirCmd(),
		a.newRmdirCmd(),
		a.newRmCmd(),
		a.newMvCmd(),
	)

	return cmd
}

func (a *app) options() []sftp.SessionOption {
	var opts []sftp.SessionOption

	if a.maxWindow > 0 {
		opts = append(opts, sftp.WithMaxWindow(a.maxWindow))
	}
	if a.maxChunk > 0 {
		opts = append(opts, sftp.WithMaxChunk(a.maxChunk))
	}
	if a.minChunk > 0 {
		opts = append(opts, sftp.WithMinChunk(a.minChunk))
	}

	return opts
}

// withSession connects, runs fn, and closes the session again.
func (a *app) withSession(fn func(*sftp.Session) error) error {
	if a.askPass && a.cfg.Password == "" {
		fmt.Fprintf(os.Stderr, "%s's password: ", a.cfg.Host)

		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return err
		}

		a.cfg.Password = string(pw)
	}

	s, err := sftp.Connect(context.Background(), a.cfg, a.options()...)
	if err != nil {
		return err
	}
	defer s.Close()

	return fn(s)
}

func printEntry(fi os.FileInfo) {
	mtime := "-"
	if !fi.ModTime().IsZero() {
		mtime = fi.ModTime().Format("2006-01-02 15:04")
	}

	fmt.Printf("%s %12d  %-16s  %s\n", fi.Mode(), fi.Size(), mtime, fi.Name())
}

func (a *app) newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "list a remote directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) > 0 {
				name = args[0]
			}

			return a.withSession(func(s *sftp.Session) error {
				fis, err := s.ReadDir(name)
				if err != nil {
					return err
				}

				for _, fi := range fis {
					printEntry(fi)
				}

				return nil
			})
		},
	}
}

func (a *app) newGlobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "glob <pattern>",
		Short: "list remote entries matching a wildcard pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(s *sftp.Session) error {
				fis, err := s.Glob(args[0])
				if err != nil {
					return err
				}

				for _, fi := range fis {
					printEntry(fi)
				}

				return nil
			})
		},
	}
}

func (a *app) newStatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "show metadata of a remote file or directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(s *sftp.Session) error {
				fi, err := s.Stat(args[0])
				if err != nil {
					return err
				}

				printEntry(fi)

				return nil
			})
		},
	}
}

// progressWriterAt feeds a byte-count bar from offset-addressed writes.
type progressWriterAt struct {
	w   io.WriterAt
	bar *progressbar.ProgressBar
}

func (p *progressWriterAt) WriteAt(b []byte, off int64) (int, error) {
	n, err := p.w.WriteAt(b, off)
	p.bar.Add(n)

	return n, err
}

func (a *app) newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <remote> [local]",
		Short: "download a remote file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			remote := args[0]

			local := path.Base(remote)
			if len(args) > 1 {
				local = args[1]
			}

			return a.withSession(func(s *sftp.Session) error {
				size := int64(-1)
				if fi, err := s.Stat(remote); err == nil {
					size = fi.Size()
				}

				w, err := os.Create(local)
				if err != nil {
					return err
				}

				bar := progressbar.DefaultBytes(size, "downloading")

				_, err = s.Download(remote, &progressWriterAt{w: w, bar: bar})

				bar.Finish()

				if cerr := w.Close(); err == nil {
					err = cerr
				}

				return err
			})
		},
	}
}

func (a *app) newPutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <local> [remote]",
		Short: "upload a local file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			local := args[0]

			remote := filepath.Base(local)
			if len(args) > 1 {
				remote = args[1]
			}

			return a.withSession(func(s *sftp.Session) error {
				r, err := os.Open(local)
				if err != nil {
					return err
				}
				defer r.Close()

				fi, err := r.Stat()
				if err != nil {
					return err
				}

				bar := progressbar.DefaultBytes(fi.Size(), "uploading")

				_, err = s.Upload(io.TeeReader(r, bar), remote, fi.Mode().Perm())

				bar.Finish()

				return err
			})
		},
	}
}

func (a *app) newMkdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mkdir <path>",
		Short: "create a remote directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(s *sftp.Session) error {
				return s.Mkdir(args[0], 0o755)
			})
		},
	}
}

func (a *app) newRmdirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rmdir <path>",
		Short: "remove an empty remote directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(s *sftp.Session) error {
				return s.Rmdir(args[0])
			})
		},
	}
}

func (a *app) newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>",
		Short: "remove a remote file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(s *sftp.Session) error {
				return s.Remove(args[0])
			})
		},
	}
}

func (a *app) newMvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mv <old> <new>",
		Short: "rename a remote file or directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(func(s *sftp.Session) error {
				return s.Rename(args[0], args[1])
			})
		},
	}
}

// Package sftp implements transfer.Transfer over an SFTP connection to the
// data store, for hosts where rsync isn't available.
package sftp

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/jonboulle/clockwork"
	"github.com/mitchellh/go-homedir"
	sftplib "github.com/pkg/sftp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/fpbattaglia/datasets/pkg/config"
	"github.com/fpbattaglia/datasets/pkg/errors"
	"github.com/fpbattaglia/datasets/pkg/transfer"
)

// DefaultKnownHostsFile is used when no knownHostsFile is configured.
const DefaultKnownHostsFile = "~/.ssh/known_hosts"

const listingTimeFormat = "2006/01/02 15:04:05"

// Mocked out for unit testing.
var (
	fs   = afero.NewOsFs()
	dial = dialSSH
)

// conn is an SFTP session along with the SSH connection it runs over.
type conn struct {
	*sftplib.Client
	ssh io.Closer
}

func (c *conn) Close() error {
	err := c.Client.Close()
	if c.ssh != nil {
		c.ssh.Close()
	}
	return err
}

// SFTP keeps one connection per data store, opened on first use. A single
// SFTP session doesn't support concurrent transfers, so operations are
// serialized.
type SFTP struct {
	settings config.SFTP
	timeout  config.Duration
	clock    clockwork.Clock

	lock  sync.Mutex
	conns map[string]*conn
}

// New creates an SFTP from the sftp fields of `cfg`. No connection is made
// until the first operation.
func New(cfg config.Config) *SFTP {
	return &SFTP{
		settings: cfg.SFTP,
		timeout:  cfg.TransferTimeout,
		clock:    clockwork.NewRealClock(),
		conns:    map[string]*conn{},
	}
}

// Close closes every open connection.
func (s *SFTP) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	var firstErr error
	for store, c := range s.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = errors.WithContext(err, fmt.Sprintf("close %s", store))
		}
		delete(s.conns, store)
	}
	return firstErr
}

// List implements transfer.Transfer. The listing mimics `rsync --list-only`,
// starting with a `.` entry for the directory itself.
func (s *SFTP) List(ctx context.Context, location string) (string, error) {
	var listing strings.Builder
	err := s.do(ctx, "list", location, func(ctx context.Context, c *conn, dir string) error {
		info, err := c.Stat(dir)
		if err != nil {
			return err
		}

		infos, err := c.ReadDir(dir)
		if err != nil {
			return err
		}

		writeEntry(&listing, ".", info)
		for _, fi := range infos {
			writeEntry(&listing, fi.Name(), fi)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return listing.String(), nil
}

func writeEntry(w io.Writer, name string, fi os.FileInfo) {
	fmt.Fprintf(w, "%s %14s %s %s\n", fi.Mode(), humanize.Comma(fi.Size()),
		fi.ModTime().Format(listingTimeFormat), name)
}

// Pull implements transfer.Transfer, following rsync's convention that a
// source without a trailing slash is copied as a directory into the
// destination.
func (s *SFTP) Pull(ctx context.Context, req transfer.PullRequest) error {
	return s.do(ctx, "pull", req.Source, func(ctx context.Context, c *conn, src string) error {
		dst := req.Destination
		switch {
		case req.Include != "":
			return pullMatching(ctx, c, src, dst, req.Include)
		case req.Recursive:
			if !strings.HasSuffix(src, "/") {
				dst = filepath.Join(dst, path.Base(src))
			}
			return pullTree(ctx, c, src, dst)
		}

		info, err := c.Stat(src)
		if err != nil {
			return err
		}
		if info.IsDir() {
			return pullMatching(ctx, c, src, dst, "*")
		}
		return download(ctx, c, src, filepath.Join(dst, path.Base(src)), info)
	})
}

// pullMatching copies the files directly under `src` whose names match
// `pattern`.
func pullMatching(ctx context.Context, c *conn, src, dst, pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return errors.WithContext(err, fmt.Sprintf("include %q", pattern))
	}

	infos, err := c.ReadDir(src)
	if err != nil {
		return err
	}

	for _, fi := range infos {
		if !fi.Mode().IsRegular() {
			continue
		}
		if ok, _ := path.Match(pattern, fi.Name()); !ok {
			continue
		}

		err := download(ctx, c, path.Join(src, fi.Name()), filepath.Join(dst, fi.Name()), fi)
		if err != nil {
			return err
		}
	}
	return nil
}

func pullTree(ctx context.Context, c *conn, src, dst string) error {
	root := path.Clean(src)
	walker := c.Walk(root)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(root, walker.Path())
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info := walker.Stat()
		switch {
		case info.IsDir():
			if err := fs.MkdirAll(target, 0755); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			if err := download(ctx, c, walker.Path(), target, info); err != nil {
				return err
			}
		default:
			log.WithField("path", walker.Path()).Debug("Skipping special file")
		}
	}
	return nil
}

func download(ctx context.Context, c *conn, remote, local string, info os.FileInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	in, err := c.Open(remote)
	if err != nil {
		return errors.WithContext(err, fmt.Sprintf("open %s", remote))
	}
	defer in.Close()

	if err := fs.MkdirAll(filepath.Dir(local), 0755); err != nil {
		return err
	}

	out, err := fs.OpenFile(local, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.WithContext(err, fmt.Sprintf("copy %s", remote))
	}
	if err := out.Close(); err != nil {
		return err
	}
	return fs.Chtimes(local, info.ModTime(), info.ModTime())
}

// Push implements transfer.Transfer. Remote directories are created as
// needed, and existing files are overwritten.
func (s *SFTP) Push(ctx context.Context, localPath, location string) error {
	return s.do(ctx, "push", location, func(ctx context.Context, c *conn, dst string) error {
		root := filepath.Clean(localPath)
		return afero.Walk(fs, root, func(local string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}

			rel, err := filepath.Rel(root, local)
			if err != nil {
				return err
			}
			target := path.Join(dst, filepath.ToSlash(rel))

			switch {
			case info.IsDir():
				return c.MkdirAll(target)
			case info.Mode().IsRegular():
				return upload(ctx, c, local, target, info)
			}
			log.WithField("path", local).Debug("Skipping special file")
			return nil
		})
	})
}

func upload(ctx context.Context, c *conn, local, remote string, info os.FileInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	in, err := fs.Open(local)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := c.OpenFile(remote, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return errors.WithContext(err, fmt.Sprintf("create %s", remote))
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.WithContext(err, fmt.Sprintf("copy %s", remote))
	}
	if err := out.Close(); err != nil {
		return err
	}

	if err := c.Chmod(remote, info.Mode().Perm()); err != nil {
		return err
	}
	return c.Chtimes(remote, info.ModTime(), info.ModTime())
}

type operation func(ctx context.Context, c *conn, remotePath string) error

// do runs `fn` against the connection for `location`'s data store. If the
// context ends first, the connection is closed to abort any blocked request,
// and is reopened by the next operation.
func (s *SFTP) do(ctx context.Context, op, location string, fn operation) error {
	ctx, cancel := transfer.WithTimeout(ctx, s.timeout)
	defer cancel()

	s.lock.Lock()
	defer s.lock.Unlock()

	logger := log.WithFields(log.Fields{
		"op":       op,
		"location": location,
	})
	logger.Debug("Running sftp")

	start := s.clock.Now()
	err := s.run(ctx, location, fn)
	logger = logger.WithField("duration", s.clock.Since(start))

	if err != nil {
		logger.WithError(err).Debug("sftp failed")
		return &errors.TransferError{
			Op:       op,
			Location: location,
			Err:      err,
		}
	}

	logger.Debug("sftp finished")
	return nil
}

func (s *SFTP) run(ctx context.Context, location string, fn operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	store, remotePath := transfer.SplitLocation(location)
	c, err := s.connect(ctx, store)
	if err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() {
		c.Close()
	})
	err = fn(ctx, c, remotePath)
	if !stop() {
		delete(s.conns, store)
		return errors.WithContext(ctx.Err(), "sftp interrupted")
	}

	if errors.Is(err, sftplib.ErrSSHFxConnectionLost) {
		c.Close()
		delete(s.conns, store)
	}
	return err
}

func (s *SFTP) connect(ctx context.Context, store string) (*conn, error) {
	if store == "" {
		return nil, errors.ConfigurationError{
			Reason: "the sftp transport requires a dataStore",
		}
	}

	if c, ok := s.conns[store]; ok {
		return c, nil
	}

	c, err := dial(ctx, store, s.settings)
	if err != nil {
		return nil, errors.WithContext(err, fmt.Sprintf("connect to %s", store))
	}
	s.conns[store] = c
	return c, nil
}

// dialSSH connects to `store`, which is a host optionally prefixed by
// `user@`, and starts the SFTP subsystem.
func dialSSH(ctx context.Context, store string, settings config.SFTP) (*conn, error) {
	user, host := settings.User, store
	if at := strings.LastIndex(store, "@"); at >= 0 {
		user, host = store[:at], store[at+1:]
	}
	if user == "" {
		return nil, errors.ConfigurationError{
			Reason: fmt.Sprintf("no sftp user is set for %q", store),
		}
	}

	auth, err := authMethods(settings)
	if err != nil {
		return nil, err
	}

	hostKeyCallback, err := hostKeyCallback(settings)
	if err != nil {
		return nil, err
	}

	port := settings.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	var dialer net.Dialer
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
	})
	if err != nil {
		netConn.Close()
		return nil, errors.WithContext(err, "ssh handshake")
	}

	sshClient := ssh.NewClient(sshConn, chans, reqs)
	client, err := sftplib.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, errors.WithContext(err, "start sftp subsystem")
	}

	log.WithFields(log.Fields{
		"addr": addr,
		"user": user,
	}).Debug("Connected to data store")
	return &conn{Client: client, ssh: sshClient}, nil
}

func authMethods(settings config.SFTP) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if settings.IdentityFile != "" {
		key, err := afero.ReadFile(fs, settings.IdentityFile)
		if err != nil {
			return nil, errors.WithContext(err, "read identity file")
		}

		var signer ssh.Signer
		if settings.Password != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(settings.Password))
		} else {
			signer, err = ssh.ParsePrivateKey(key)
		}
		if err != nil {
			return nil, errors.WithContext(err, "parse identity file")
		}
		methods = append(methods, ssh.PublicKeys(signer))
	} else if settings.Password != "" {
		methods = append(methods, ssh.Password(settings.Password))
	}

	if len(methods) == 0 {
		return nil, errors.ConfigurationError{
			Reason: "the sftp transport requires an identityFile or a password",
		}
	}
	return methods, nil
}

func hostKeyCallback(settings config.SFTP) (ssh.HostKeyCallback, error) {
	if settings.InsecureIgnoreHostKey {
		log.Warn("Not verifying the data store's host key")
		return ssh.InsecureIgnoreHostKey(), nil
	}

	knownHostsFile := settings.KnownHostsFile
	if knownHostsFile == "" {
		var err error
		knownHostsFile, err = homedir.Expand(DefaultKnownHostsFile)
		if err != nil {
			return nil, errors.WithContext(err, "expand known hosts path")
		}
	}

	callback, err := knownhosts.New(knownHostsFile)
	if err != nil {
		return nil, errors.WithContext(err, "read known hosts")
	}
	return callback, nil
}

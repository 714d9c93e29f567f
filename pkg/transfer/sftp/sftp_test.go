package sftp

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	sftplib "github.com/pkg/sftp"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/fpbattaglia/datasets/pkg/config"
	"github.com/fpbattaglia/datasets/pkg/errors"
	"github.com/fpbattaglia/datasets/pkg/transfer"
)

// mockServer serves the real directory `remote` over an in-process pipe,
// while the local side of every transfer uses an in-memory filesystem.
type mockServer struct {
	remote string
	dials  []string
}

func newMockServer(t *testing.T) (*SFTP, *mockServer) {
	fs = afero.NewMemMapFs()
	server := &mockServer{remote: t.TempDir()}

	dial = func(_ context.Context, store string, _ config.SFTP) (*conn, error) {
		server.dials = append(server.dials, store)

		clientSide, serverSide := net.Pipe()
		srv, err := sftplib.NewServer(serverSide)
		if err != nil {
			return nil, err
		}
		go srv.Serve()

		client, err := sftplib.NewClientPipe(clientSide, clientSide)
		if err != nil {
			return nil, err
		}
		return &conn{Client: client, ssh: serverSide}, nil
	}

	s := New(config.Defaults())
	s.clock = clockwork.NewFakeClock()
	t.Cleanup(func() { s.Close() })
	return s, server
}

func (server *mockServer) location(path string) string {
	return "cluster:" + filepath.Join(server.remote, path) + "/"
}

func writeRemote(t *testing.T, root string, files map[string]string) {
	for path, contents := range files {
		path = filepath.Join(root, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	}
}

func readLocal(t *testing.T, root string) map[string]string {
	files := map[string]string{}
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}

		contents, err := afero.ReadFile(fs, path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		files[rel] = string(contents)
		return nil
	})
	require.NoError(t, err)
	return files
}

var fakeDataset = map[string]string{
	"fd1.dat":             "ciccio\npeppe\nstrano\n",
	"fd2.dat":             "non\nfiore\nbello\n",
	"a1.avi":              "1 2\n3 4\n",
	"the_subdir/sfd1.dat": "cucu\nciao\nbella\n",
}

func TestList(t *testing.T) {
	s, server := newMockServer(t)
	writeRemote(t, filepath.Join(server.remote, "ds"), fakeDataset)
	writeRemote(t, filepath.Join(server.remote, "ds"), map[string]string{
		"big.dat": strings.Repeat("x", 1234567),
	})

	listing, err := s.List(context.Background(), server.location("ds"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(listing), "\n")
	require.Len(t, lines, 6)
	assert.Regexp(t, `^drwx\S+ +[\d,]+ \d{4}/\d\d/\d\d \d\d:\d\d:\d\d \.$`, lines[0])

	entries := map[string]string{}
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		require.Len(t, fields, 5)
		entries[fields[4]] = fields[0][:1] + " " + fields[1]
	}
	assert.True(t, strings.HasPrefix(entries["the_subdir"], "d "))
	delete(entries, "the_subdir")
	assert.Equal(t, map[string]string{
		"fd1.dat": "- 20",
		"fd2.dat": "- 16",
		"a1.avi":  "- 8",
		"big.dat": "- 1,234,567",
	}, entries)

	// The connection is reused.
	_, err = s.List(context.Background(), server.location("ds/the_subdir"))
	require.NoError(t, err)
	assert.Equal(t, []string{"cluster"}, server.dials)
}

func TestListMissing(t *testing.T) {
	s, server := newMockServer(t)

	location := server.location("missing")
	_, err := s.List(context.Background(), location)

	var transferErr *errors.TransferError
	require.True(t, errors.As(err, &transferErr))
	assert.Equal(t, "list", transferErr.Op)
	assert.Equal(t, location, transferErr.Location)
}

func TestRequiresDataStore(t *testing.T) {
	s, server := newMockServer(t)

	_, err := s.List(context.Background(), server.remote+"/")
	var cfgErr errors.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
	assert.Empty(t, server.dials)
}

func TestPullRecursive(t *testing.T) {
	s, server := newMockServer(t)
	writeRemote(t, filepath.Join(server.remote, "ds"), fakeDataset)

	err := s.Pull(context.Background(), transfer.PullRequest{
		Source:      server.location("ds"),
		Destination: "/local/ds/",
		Recursive:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"fd1.dat":             fakeDataset["fd1.dat"],
		"fd2.dat":             fakeDataset["fd2.dat"],
		"a1.avi":              fakeDataset["a1.avi"],
		"the_subdir/sfd1.dat": fakeDataset["the_subdir/sfd1.dat"],
	}, readLocal(t, "/local/ds"))

	// Without a trailing slash, the directory itself is copied.
	err = s.Pull(context.Background(), transfer.PullRequest{
		Source:      strings.TrimSuffix(server.location("ds/the_subdir"), "/"),
		Destination: "/local/other",
		Recursive:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"the_subdir/sfd1.dat": fakeDataset["the_subdir/sfd1.dat"],
	}, readLocal(t, "/local/other"))
}

func TestPullInclude(t *testing.T) {
	s, server := newMockServer(t)
	writeRemote(t, filepath.Join(server.remote, "ds"), fakeDataset)
	writeRemote(t, filepath.Join(server.remote, "ds"), map[string]string{
		"the_subdir/nested.dat": "nested",
	})

	err := s.Pull(context.Background(), transfer.PullRequest{
		Source:      server.location("ds"),
		Destination: "/local",
		Include:     "*.dat",
	})
	require.NoError(t, err)

	var names []string
	for name := range readLocal(t, "/local") {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"fd1.dat", "fd2.dat"}, names)

	err = s.Pull(context.Background(), transfer.PullRequest{
		Source:      server.location("ds"),
		Destination: "/local",
		Include:     "[",
	})
	assert.Error(t, err)
}

func TestPullSingleFile(t *testing.T) {
	s, server := newMockServer(t)
	writeRemote(t, filepath.Join(server.remote, "ds"), fakeDataset)

	err := s.Pull(context.Background(), transfer.PullRequest{
		Source:      strings.TrimSuffix(server.location("ds/a1.avi"), "/"),
		Destination: "/local/",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a1.avi": fakeDataset["a1.avi"]}, readLocal(t, "/local"))
}

func TestPush(t *testing.T) {
	s, server := newMockServer(t)
	writeRemote(t, filepath.Join(server.remote, "ds"), map[string]string{
		"fd1.dat": "old",
		"keep.me": "untouched",
	})

	require.NoError(t, fs.MkdirAll("/local/ds/out", 0755))
	require.NoError(t, afero.WriteFile(fs, "/local/ds/fd1.dat", []byte("new"), 0640))
	require.NoError(t, afero.WriteFile(fs, "/local/ds/out/result.h5", []byte("result"), 0644))

	require.NoError(t, s.Push(context.Background(), "/local/ds/", server.location("ds")))

	remote := filepath.Join(server.remote, "ds")
	contents, err := os.ReadFile(filepath.Join(remote, "fd1.dat"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(contents))

	info, err := os.Stat(filepath.Join(remote, "fd1.dat"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())

	contents, err = os.ReadFile(filepath.Join(remote, "out", "result.h5"))
	require.NoError(t, err)
	assert.Equal(t, "result", string(contents))
	assert.FileExists(t, filepath.Join(remote, "keep.me"))
}

func TestCanceledContext(t *testing.T) {
	s, server := newMockServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.List(ctx, server.location(""))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, server.dials)
}

func TestDialSSHConfigErrors(t *testing.T) {
	tests := []struct {
		name     string
		store    string
		settings config.SFTP
	}{
		{name: "NoUser", store: "cluster", settings: config.SFTP{Password: "pw"}},
		{name: "NoAuth", store: "me@cluster", settings: config.SFTP{}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := dialSSH(context.Background(), test.store, test.settings)
			var cfgErr errors.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestAuthMethods(t *testing.T) {
	fs = afero.NewMemMapFs()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(key, "")
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, "/home/user/.ssh/id_ed25519", pem.EncodeToMemory(block), 0600))

	methods, err := authMethods(config.SFTP{IdentityFile: "/home/user/.ssh/id_ed25519"})
	require.NoError(t, err)
	assert.Len(t, methods, 1)

	methods, err = authMethods(config.SFTP{Password: "pw"})
	require.NoError(t, err)
	assert.Len(t, methods, 1)

	_, err = authMethods(config.SFTP{IdentityFile: "/missing"})
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/garbage", []byte("not a key"), 0600))
	_, err = authMethods(config.SFTP{IdentityFile: "/garbage"})
	assert.Error(t, err)
}

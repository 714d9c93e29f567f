package session

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpbattaglia/datasets/pkg/config"
	"github.com/fpbattaglia/datasets/pkg/dataset"
	"github.com/fpbattaglia/datasets/pkg/errors"
	"github.com/fpbattaglia/datasets/pkg/transfer"
)

// dirTransfer copies between directories on the local filesystem.
type dirTransfer struct {
	pushes []string
}

func (dt *dirTransfer) List(_ context.Context, location string) (string, error) {
	entries, err := os.ReadDir(location)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("drwxr-xr-x 4,096 2015/01/01 10:00:00 .\n")
	for _, e := range entries {
		kind := "-rw-r--r--"
		if e.IsDir() {
			kind = "drwxr-xr-x"
		}
		fmt.Fprintf(&b, "%s 42 2015/01/01 10:00:00 %s\n", kind, e.Name())
	}
	return b.String(), nil
}

func (dt *dirTransfer) Pull(_ context.Context, req transfer.PullRequest) error {
	return copyDir(req.Source, req.Destination)
}

func (dt *dirTransfer) Push(_ context.Context, localPath, location string) error {
	dt.pushes = append(dt.pushes, localPath)
	return copyDir(localPath, location)
}

func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if fi.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		contents, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(target, contents, 0644)
	})
}

func newDataset(t *testing.T) (*dataset.Dataset, *dirTransfer, string) {
	source := filepath.Join(t.TempDir(), "ds")
	require.NoError(t, os.MkdirAll(filepath.Join(source, "the_subdir"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "fd1.dat"), []byte("ciccio\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(source, "the_subdir", "sfd1.dat"), []byte("cucu\n"), 0644))

	cfg := config.Defaults()
	cfg.LocalDir = t.TempDir()

	tr := &dirTransfer{}
	d, err := dataset.New(context.Background(), source, cfg, tr)
	require.NoError(t, err)
	return d, tr, source
}

func mockStdout() *bytes.Buffer {
	var out bytes.Buffer
	stdout = &out
	return &out
}

func TestSessionWithoutCommand(t *testing.T) {
	out := mockStdout()
	d, tr, _ := newDataset(t)

	require.NoError(t, runSession(context.Background(), d, options{}))
	assert.Contains(t, out.String(), "(2 files, ")
	assert.Contains(t, out.String(), "Local copy is unchanged")
	assert.Contains(t, out.String(), "Synced back to "+d.SourceLocation())

	require.Len(t, tr.pushes, 1)
	assert.NoDirExists(t, tr.pushes[0])
	assert.False(t, d.HasLocalCopy())
}

func TestSessionCommandChangesFiles(t *testing.T) {
	out := mockStdout()
	d, tr, source := newDataset(t)

	var ranIn string
	runCommand = func(_ context.Context, dir string, command []string) error {
		ranIn = dir
		assert.Equal(t, []string{"analyze", "--fast"}, command)
		return os.WriteFile(filepath.Join(dir, "fd1.dat"), []byte("analyzed\n"), 0644)
	}

	err := runSession(context.Background(), d, options{
		command: []string{"analyze", "--fast"},
		keep:    true,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Local copy changed since it was pulled (mismatch: fd1.dat)")
	assert.Contains(t, out.String(), "Kept local copy at "+ranIn)

	contents, err := os.ReadFile(filepath.Join(source, "fd1.dat"))
	require.NoError(t, err)
	assert.Equal(t, "analyzed\n", string(contents))

	assert.Equal(t, []string{ranIn}, tr.pushes)
	assert.DirExists(t, ranIn)
}

func TestSessionCommandFails(t *testing.T) {
	mockStdout()
	d, tr, _ := newDataset(t)

	runCommand = func(context.Context, string, []string) error {
		return errors.New("exit status 2")
	}

	err := runSession(context.Background(), d, options{command: []string{"analyze"}})
	friendly, ok := errors.GetFriendlyError(err)
	require.True(t, ok)
	assert.Contains(t, friendly.FriendlyMessage(), "`analyze` failed: exit status 2")
	assert.Contains(t, friendly.FriendlyMessage(), d.LocalDir())

	assert.Empty(t, tr.pushes)
	assert.DirExists(t, d.LocalDir())
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		dash       int
		expDataset string
		expCommand []string
		expErr     bool
	}{
		{name: "NoCommand", args: []string{"ds"}, dash: -1, expDataset: "ds", expCommand: []string{}},
		{name: "Command", args: []string{"ds", "ls", "-l"}, dash: 1, expDataset: "ds",
			expCommand: []string{"ls", "-l"}},
		{name: "TwoDatasets", args: []string{"ds", "other"}, dash: -1, expErr: true},
		{name: "DashFirst", args: []string{"ls"}, dash: 0, expErr: true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			datasetPath, command, err := splitArgs(test.args, test.dash)
			if test.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expDataset, datasetPath)
			assert.Equal(t, test.expCommand, command)
		})
	}
}

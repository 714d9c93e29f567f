// Package digest computes content digests of files and directory trees.
// Files are always streamed through the hash in fixed-size chunks so that
// memory use doesn't depend on file size.
package digest

import (
	"crypto/md5"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/zeebo/blake3"

	"github.com/fpbattaglia/datasets/pkg/errors"
)

// Supported algorithms.
const (
	MD5    = "md5"
	SHA512 = "sha512"
	BLAKE3 = "blake3"
)

// ChunkSize is the size of the buffer used to stream file contents.
const ChunkSize = 64 * 1024

var constructors = map[string]func() hash.Hash{
	MD5:    md5.New,
	SHA512: sha512.New,
	BLAKE3: func() hash.Hash { return blake3.New() },
}

// Supported returns whether `algorithm` is known.
func Supported(algorithm string) bool {
	_, ok := constructors[algorithm]
	return ok
}

// Algorithms returns the names of the supported algorithms.
func Algorithms() []string {
	var names []string
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Hasher computes hex encoded digests with a fixed algorithm.
type Hasher struct {
	fs  afero.Fs
	new func() hash.Hash
}

// New returns a Hasher for `algorithm` that reads from `fs`.
func New(fs afero.Fs, algorithm string) (Hasher, error) {
	constructor, ok := constructors[algorithm]
	if !ok {
		return Hasher{}, errors.New("unsupported hash algorithm %q", algorithm)
	}
	return Hasher{fs: fs, new: constructor}, nil
}

// Reader returns the digest of everything read from `r`.
func (h Hasher) Reader(r io.Reader) (string, error) {
	hasher := h.new()
	buf := make([]byte, ChunkSize)
	if _, err := io.CopyBuffer(onlyWriter{hasher}, onlyReader{r}, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// File returns the digest of the file at `path`.
func (h Hasher) File(path string) (string, error) {
	f, err := h.fs.Open(path)
	if err != nil {
		return "", errors.WithContext(err, "open")
	}
	defer f.Close()

	sum, err := h.Reader(f)
	if err != nil {
		return "", errors.WithContext(err, fmt.Sprintf("read %q", path))
	}
	return sum, nil
}

// Tree walks `root` recursively and returns the digest of every regular
// file, keyed by its path relative to `root`. Keys always use forward
// slashes. Symlinks to regular files are hashed by the contents of their
// target. Links to directories aren't followed, and dangling links are
// skipped.
func (h Hasher) Tree(root string) (map[string]string, error) {
	sums := map[string]string{}
	err := afero.Walk(h.fs, root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if fi.Mode()&os.ModeSymlink != 0 {
			target, err := h.fs.Stat(path)
			if err != nil {
				log.WithError(err).WithField("path", path).Debug("Skipping dangling symlink")
				return nil
			}
			fi = target
		}

		if !fi.Mode().IsRegular() {
			return nil
		}

		relativePath, err := filepath.Rel(root, path)
		if err != nil {
			return errors.WithContext(err, "relative path")
		}

		sum, err := h.File(path)
		if err != nil {
			return err
		}
		sums[filepath.ToSlash(relativePath)] = sum
		return nil
	})
	if err != nil {
		return nil, errors.WithContext(err, fmt.Sprintf("walk %q", root))
	}
	return sums, nil
}

// onlyWriter and onlyReader hide ReaderFrom and WriterTo so that
// io.CopyBuffer actually goes through the fixed-size buffer.
type onlyWriter struct {
	io.Writer
}

type onlyReader struct {
	io.Reader
}

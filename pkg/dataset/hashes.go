package dataset

import (
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/fpbattaglia/datasets/pkg/digest"
	"github.com/fpbattaglia/datasets/pkg/errors"
)

// Status is the outcome of creating or checking file hashes.
type Status int

const (
	// StatusOK means that the hashes were created, or that every hashed
	// file still matches.
	StatusOK Status = iota

	// StatusMismatch means that a hashed file has different contents.
	StatusMismatch

	// StatusMissing means that a hashed file no longer exists.
	StatusMissing

	// StatusNoLocalCopy means that hashes were created for a directory
	// that MakeLocalCopy didn't complete.
	StatusNoLocalCopy

	// StatusNoHashes means that there was nothing to check against.
	StatusNoHashes
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusMismatch:
		return "mismatch"
	case StatusMissing:
		return "missing"
	case StatusNoLocalCopy:
		return "no local copy"
	case StatusNoHashes:
		return "no hashes"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Verification is the result of CreateFileHashes or CheckFileHashes.
// Path names the offending file for StatusMismatch and StatusMissing.
type Verification struct {
	Status Status
	Path   string
}

// OK returns whether there's nothing to warn about.
func (v Verification) OK() bool {
	return v.Status == StatusOK
}

func (v Verification) String() string {
	if v.Path == "" {
		return v.Status.String()
	}
	return fmt.Sprintf("%s: %s", v.Status, v.Path)
}

// CreateFileHashes records the digest of every file in the local
// directory, replacing any previous hashes. If MakeLocalCopy hasn't
// completed, the hashes are still created from whatever is on disk, and the
// returned Verification has StatusNoLocalCopy.
func (d *Dataset) CreateFileHashes() (Verification, error) {
	if d.localDir == "" {
		return Verification{}, errors.New("no local directory to hash")
	}

	result := Verification{Status: StatusOK}
	if !d.hasLocalCopy {
		log.WithField("dir", d.localDir).Warn(
			"Creating hashes without a complete local copy")
		result.Status = StatusNoLocalCopy
	}

	hashes, err := d.hashLocalDir()
	if err != nil {
		return Verification{}, err
	}

	d.hashes = hashes
	log.WithFields(log.Fields{
		"dir":   d.localDir,
		"files": len(hashes),
	}).Debug("Created file hashes")
	return result, nil
}

// CheckFileHashes rehashes the local directory and compares it against the
// hashes recorded by CreateFileHashes. It stops at the first file that
// changed or disappeared, checking files in lexical order. Files added since
// the hashes were created are ignored. The recorded hashes are never
// modified.
func (d *Dataset) CheckFileHashes() (Verification, error) {
	if d.hashes == nil {
		log.Warn("Checking file hashes before creating them")
		return Verification{Status: StatusNoHashes}, nil
	}

	current, err := d.hashLocalDir()
	if err != nil {
		return Verification{}, err
	}

	var paths []string
	for path := range d.hashes {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		result := Verification{Path: path}
		sum, ok := current[path]
		switch {
		case !ok:
			result.Status = StatusMissing
		case sum != d.hashes[path]:
			result.Status = StatusMismatch
		default:
			continue
		}

		log.WithFields(log.Fields{
			"dir":    d.localDir,
			"path":   path,
			"status": result.Status,
		}).Warn("Local copy differs from its hashes")
		return result, nil
	}
	return Verification{Status: StatusOK}, nil
}

// Hashes returns a copy of the recorded hashes, keyed by the slash
// separated path relative to the local directory.
func (d *Dataset) Hashes() map[string]string {
	if d.hashes == nil {
		return nil
	}
	hashes := make(map[string]string, len(d.hashes))
	for path, sum := range d.hashes {
		hashes[path] = sum
	}
	return hashes
}

func (d *Dataset) hashLocalDir() (map[string]string, error) {
	hasher, err := digest.New(fs, d.config.HashAlgorithm)
	if err != nil {
		return nil, errors.WithContext(err, "create hasher")
	}

	hashes, err := hasher.Tree(d.localDir)
	if err != nil {
		return nil, errors.WithContext(err, "hash local directory")
	}
	return hashes, nil
}

// Package rsync implements transfer.Transfer by running rsync.
package rsync

import (
	"bytes"
	"context"
	"os/exec"
	"regexp"
	"strings"

	goversion "github.com/hashicorp/go-version"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/fpbattaglia/datasets/pkg/config"
	"github.com/fpbattaglia/datasets/pkg/errors"
	"github.com/fpbattaglia/datasets/pkg/transfer"
)

// MinimumVersion is the oldest rsync known to produce the listing format
// that datasets parses.
var MinimumVersion = goversion.Must(goversion.NewVersion("3.0.0"))

var versionPattern = regexp.MustCompile(`version\s+v?(\d+\.\d+(\.\d+)?)`)

// recordPattern matches the entries of `rsync --list-only`, which start
// with a permission string.
var recordPattern = regexp.MustCompile(`^[-bcdlps][-rwxsStT]{9}`)

// runCommand runs `name` and returns its stdout and stderr separately.
// Mocked for unit testing.
var runCommand = func(ctx context.Context, name string, args ...string) (
	stdout, stderr []byte, err error) {

	var outBuf, errBuf bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf
	err = cmd.Run()
	return outBuf.Bytes(), errBuf.Bytes(), err
}

// Rsync runs the configured rsync binary. Every invocation is an
// independent process, so it's safe for concurrent use.
type Rsync struct {
	cmd      string
	listOpts []string
	syncOpts []string
	timeout  config.Duration
	clock    clockwork.Clock
}

// New creates an Rsync from the rsync fields of `cfg`.
func New(cfg config.Config) *Rsync {
	return &Rsync{
		cmd:      cfg.RsyncCmd,
		listOpts: cfg.RsyncListOpts,
		syncOpts: cfg.RsyncSyncOpts,
		timeout:  cfg.TransferTimeout,
		clock:    clockwork.NewRealClock(),
	}
}

// List implements transfer.Transfer. Only the entry lines of rsync's
// output are returned. Progress headers and transfer statistics are
// dropped, since they would otherwise read as entries.
func (r *Rsync) List(ctx context.Context, location string) (string, error) {
	args := append(copyOpts(r.listOpts), location)
	stdout, err := r.run(ctx, "list", location, args)
	if err != nil {
		return "", err
	}
	return records(string(stdout)), nil
}

func records(output string) string {
	var b strings.Builder
	for _, line := range strings.Split(output, "\n") {
		if recordPattern.MatchString(line) {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Pull implements transfer.Transfer. Include filters are applied with an
// include rule followed by an exclude-everything rule, which also keeps
// rsync from descending into subdirectories.
func (r *Rsync) Pull(ctx context.Context, req transfer.PullRequest) error {
	args := copyOpts(r.syncOpts)
	switch {
	case req.Include != "":
		args = append(args, "--include", req.Include, "--exclude", "*")
	case !req.Recursive:
		args = append(args, "--no-recursive")
	}
	args = append(args, req.Source, req.Destination)

	_, err := r.run(ctx, "pull", req.Source, args)
	return err
}

// Push implements transfer.Transfer.
func (r *Rsync) Push(ctx context.Context, localPath, location string) error {
	if !strings.HasSuffix(localPath, "/") {
		localPath += "/"
	}
	args := append(copyOpts(r.syncOpts), localPath, location)
	_, err := r.run(ctx, "push", location, args)
	return err
}

// Version returns the version of the rsync binary.
func (r *Rsync) Version(ctx context.Context) (*goversion.Version, error) {
	stdout, err := r.run(ctx, "version", r.cmd, []string{"--version"})
	if err != nil {
		return nil, err
	}
	return ParseVersion(string(stdout))
}

// ParseVersion extracts the version from the output of `rsync --version`.
func ParseVersion(output string) (*goversion.Version, error) {
	match := versionPattern.FindStringSubmatch(output)
	if match == nil {
		return nil, errors.New("no version found in %q", firstLine(output))
	}
	return goversion.NewVersion(match[1])
}

// CheckVersion returns a friendly error if `v` is older than
// MinimumVersion.
func CheckVersion(v *goversion.Version) error {
	if v.LessThan(MinimumVersion) {
		return errors.NewFriendlyError("rsync %s is too old. "+
			"Please install rsync %s or newer.", v, MinimumVersion)
	}
	return nil
}

func (r *Rsync) run(ctx context.Context, op, location string, args []string) ([]byte, error) {
	ctx, cancel := transfer.WithTimeout(ctx, r.timeout)
	defer cancel()

	logger := log.WithFields(log.Fields{
		"op":       op,
		"location": location,
	})
	logger.WithField("args", args).Debug("Running rsync")

	start := r.clock.Now()
	stdout, stderr, err := runCommand(ctx, r.cmd, args...)
	logger = logger.WithField("duration", r.clock.Since(start))

	if ctx.Err() != nil && err != nil {
		err = errors.WithContext(ctx.Err(), "rsync interrupted")
	}

	// rsync can exit successfully while still reporting problems on
	// stderr. Any error output means the result can't be trusted.
	if err != nil || len(bytes.TrimSpace(stderr)) != 0 {
		logger.WithError(err).Debug("rsync failed")
		return nil, &errors.TransferError{
			Op:       op,
			Location: location,
			Output:   string(stderr),
			Err:      err,
		}
	}

	logger.Debug("rsync finished")
	return stdout, nil
}

func copyOpts(opts []string) []string {
	return append([]string(nil), opts...)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

package gitcli

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNoRepository is returned when the directory is not inside a git work tree.
	ErrNoRepository = errors.New("not a git repository")
	// ErrAuthentication is returned when the remote refused the credential, or
	// asked for one that was not supplied.
	ErrAuthentication = errors.New("git authentication failed")
)

// authMarkers are stderr fragments git prints when a remote rejects access.
var authMarkers = []string{
	"could not read username",
	"could not read password",
	"authentication failed",
	"terminal prompts disabled",
	"the requested url returned error: 401",
	"the requested url returned error: 403",
	"http basic: access denied",
}

const (
	fieldSep  = "\x1f"
	recordSep = "\x1e"
	logFormat = "--format=%H" + fieldSep + "%an" + fieldSep + "%aI" + fieldSep + "%s" + recordSep
)

// Runner defines the git operations needed by the scanner.
type Runner interface {
	EnsureBinary() error
	RemoteURL(ctx context.Context, dir, remote string) (string, error)
	Log(ctx context.Context, dir string, input LogInput) ([]Commit, error)
	Clone(ctx context.Context, input CloneInput) error
}

// CommandRunner executes the real git binary present on the machine.
type CommandRunner struct {
	Binary string
	Stderr io.Writer
}

// LogInput narrows a git log query.
type LogInput struct {
	Since time.Time
	Limit int
}

// CloneInput describes a single shallow clone.
type CloneInput struct {
	URL   string
	Dir   string
	Depth int
	Token string
}

// Commit is one parsed git log record.
type Commit struct {
	SHA     string
	Author  string
	Date    time.Time
	Subject string
}

// NewRunner returns a default command runner.
func NewRunner() Runner {
	return &CommandRunner{Binary: "git"}
}

// EnsureBinary verifies that git is discoverable on PATH.
func (r *CommandRunner) EnsureBinary() error {
	if _, err := exec.LookPath(r.Binary); err != nil {
		return fmt.Errorf("git binary not found: %w", err)
	}
	return nil
}

// RemoteURL returns the fetch URL of remote (usually "origin").
func (r *CommandRunner) RemoteURL(ctx context.Context, dir, remote string) (string, error) {
	if remote == "" {
		remote = "origin"
	}
	out, err := r.output(ctx, "-C", dir, "remote", "get-url", remote)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Log lists commits reachable from HEAD, newest first.
func (r *CommandRunner) Log(ctx context.Context, dir string, input LogInput) ([]Commit, error) {
	args := []string{"-C", dir, "log", logFormat}
	if !input.Since.IsZero() {
		args = append(args, "--since="+input.Since.UTC().Format(time.RFC3339))
	}
	if input.Limit > 0 {
		args = append(args, "-n", strconv.Itoa(input.Limit))
	}
	out, err := r.output(ctx, args...)
	if err != nil {
		return nil, err
	}
	return ParseLog(out)
}

// Clone performs a shallow clone of input.URL into input.Dir.
func (r *CommandRunner) Clone(ctx context.Context, input CloneInput) error {
	depth := input.Depth
	if depth <= 0 {
		depth = 1
	}
	var args []string
	if input.Token != "" {
		args = append(args, "-c", "http.extraHeader=Authorization: "+authorization(input.Token))
	}
	args = append(args, "clone", "--quiet", "--depth", strconv.Itoa(depth), "--", input.URL, input.Dir)
	_, err := r.output(ctx, args...)
	return err
}

// authorization renders token as an Authorization header value. "user:secret"
// is sent as basic auth, anything else as a bearer token.
func authorization(token string) string {
	if user, secret, ok := strings.Cut(token, ":"); ok {
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+secret))
	}
	return "Bearer " + token
}

func isAuthFailure(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range authMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func (r *CommandRunner) output(ctx context.Context, args ...string) ([]byte, error) {
	// Binary path is controlled by the application and args are built
	// programmatically, never passed through a shell.
	cmd := exec.CommandContext(ctx, r.Binary, args...) // #nosec G204
	cmd.Env = append(os.Environ(), "LC_ALL=C", "GIT_TERMINAL_PROMPT=0")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if r.Stderr != nil && msg != "" {
			fmt.Fprintln(r.Stderr, msg)
		}
		if strings.Contains(msg, "not a git repository") {
			return nil, ErrNoRepository
		}
		if isAuthFailure(msg) {
			return nil, fmt.Errorf("git %s: %w: %s", redact(args), ErrAuthentication, msg)
		}
		if msg != "" {
			return nil, fmt.Errorf("git %s: %w: %s", redact(args), err, msg)
		}
		return nil, fmt.Errorf("git %s: %w", redact(args), err)
	}
	return stdout.Bytes(), nil
}

// ParseLog parses output produced with logFormat.
func ParseLog(out []byte) ([]Commit, error) {
	var commits []Commit
	for _, record := range strings.Split(string(out), recordSep) {
		record = strings.TrimSpace(record)
		if record == "" {
			continue
		}
		fields := strings.Split(record, fieldSep)
		if len(fields) < 4 {
			return nil, fmt.Errorf("malformed git log record %q", record)
		}
		date, err := time.Parse(time.RFC3339, fields[2])
		if err != nil {
			return nil, fmt.Errorf("parse commit date %q: %w", fields[2], err)
		}
		commits = append(commits, Commit{
			SHA:     fields[0],
			Author:  fields[1],
			Date:    date,
			Subject: fields[3],
		})
	}
	return commits, nil
}

func redact(args []string) string {
	out := make([]string, 0, len(args))
	for _, a := range args {
		if strings.HasPrefix(a, "http.extraHeader=") {
			a = "http.extraHeader=<redacted>"
		}
		out = append(out, a)
	}
	return strings.Join(out, " ")
}

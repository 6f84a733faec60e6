package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"
)

func TestWriteSummaryOutputDir(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "not-a-dir")
	if err := os.WriteFile(blocker, nil, 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	tests := []struct {
		name      string
		path      string
		wantError bool
	}{
		{name: "nested report directory is created", path: filepath.Join(base, "reports", "ci", "summary.json")},
		{name: "existing directory is reused", path: filepath.Join(base, "reports", "ci", "again.json")},
		{name: "parent is a file", path: filepath.Join(blocker, "summary.json"), wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := writeSummary(tt.path, sampleResult())
			if tt.wantError {
				if err == nil {
					t.Fatal("writeSummary() expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("writeSummary() unexpected error = %v", err)
			}
			if _, err := os.Stat(tt.path); err != nil {
				t.Fatalf("summary not written: %v", err)
			}
		})
	}
}

func TestEnsureOutputDirRejectsEmptyPath(t *testing.T) {
	if err := ensureOutputDir(""); err == nil || err.Error() != "output directory cannot be empty" {
		t.Fatalf("ensureOutputDir(\"\") error = %v", err)
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	if err := writeFile(path, []byte("{}\n")); err != nil {
		t.Fatalf("writeFile() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("file not written: %v", err)
	}
	if info.Mode().Perm() != 0o644 {
		t.Errorf("mode = %v, want 0644", info.Mode().Perm())
	}
}

func TestPromptCredential(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "token with newline", input: "ghp_abc\n", want: "ghp_abc"},
		{name: "surrounding whitespace trimmed", input: "  user:app-pass \r\n", want: "user:app-pass"},
		{name: "empty answer declines", input: "\n", want: ""},
		{name: "end of input declines", input: "", want: ""},
		{name: "token without trailing newline", input: "tok", want: "tok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			got, err := promptCredential(strings.NewReader(tt.input), out, "github.com/acme/private")
			if err != nil {
				t.Fatalf("promptCredential() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("promptCredential() = %q, want %q", got, tt.want)
			}
			if !strings.Contains(out.String(), "github.com/acme/private") {
				t.Errorf("prompt should name the target, got %q", out.String())
			}
		})
	}
}

func TestPromptCredentialReadError(t *testing.T) {
	boom := errors.New("boom")
	_, err := promptCredential(iotest.ErrReader(boom), &bytes.Buffer{}, "target")
	if !errors.Is(err, boom) {
		t.Fatalf("expected read error, got %v", err)
	}
}

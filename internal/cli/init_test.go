package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/dxscan/internal/config"
)

func runInitCmd(t *testing.T, loader *config.Loader, env scanEnv, args ...string) (string, error) {
	t.Helper()
	cmd := newInitCmd(loader, env)

	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

func TestInitCommandWritesDefaultConfig(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()

	output, err := runInitCmd(t, testLoader(t), testEnv(), dir)
	if err != nil {
		t.Fatalf("init command failed: %v\nOutput: %s", err, output)
	}

	path := filepath.Join(dir, config.DefaultConfigPath)
	if !strings.Contains(output, path) {
		t.Fatalf("expected written path in message, got: %s", output)
	}

	loader := &config.Loader{ConfigPath: path, EnvFiles: []string{}}
	cfg, err := loader.Load(config.Overrides{})
	if err != nil {
		t.Fatalf("written config does not load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("written config is invalid: %v", err)
	}
	if cfg.Fail != "high" {
		t.Fatalf("expected default fail level high, got %q", cfg.Fail)
	}
}

func TestInitCommandUsesLoaderPath(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "custom.yml")
	loader := &config.Loader{ConfigPath: path, EnvFiles: []string{}}

	if _, err := runInitCmd(t, loader, testEnv()); err != nil {
		t.Fatalf("init command failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written to loader path: %v", err)
	}
}

func TestInitCommandRefusesOverwrite(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, config.DefaultConfigPath)
	if err := os.WriteFile(path, []byte("fail: all\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := runInitCmd(t, testLoader(t), testEnv(), dir)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected already exists error, got %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "fail: all\n" {
		t.Fatalf("existing config was modified: %q", data)
	}

	if _, err := runInitCmd(t, testLoader(t), testEnv(), dir, "--force"); err != nil {
		t.Fatalf("init --force failed: %v", err)
	}
	data, _ = os.ReadFile(path)
	if string(data) == "fail: all\n" {
		t.Fatal("--force should overwrite the existing config")
	}
}

func TestInitCommandRequiresGit(t *testing.T) {
	isolateEnv(t)
	env := testEnv()
	env.deps.Git = &fakeGit{missing: true}
	dir := t.TempDir()

	_, err := runInitCmd(t, testLoader(t), env, dir)
	if err == nil || !strings.Contains(err.Error(), "git binary not found") {
		t.Fatalf("expected git binary error, got %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, config.DefaultConfigPath)); !os.IsNotExist(statErr) {
		t.Fatal("config should not be written when the git check fails")
	}

	if _, err := runInitCmd(t, testLoader(t), env, dir, "--skip-git-check"); err != nil {
		t.Fatalf("init --skip-git-check failed: %v", err)
	}
}

func TestInitCommandCreatesNestedDir(t *testing.T) {
	isolateEnv(t)
	dir := filepath.Join(t.TempDir(), "nested", "project")

	if _, err := runInitCmd(t, testLoader(t), testEnv(), dir); err != nil {
		t.Fatalf("init command failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, config.DefaultConfigPath)); err != nil {
		t.Fatalf("config not written: %v", err)
	}
}

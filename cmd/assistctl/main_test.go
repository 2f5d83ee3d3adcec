package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testStreams() (ioStreams, *bytes.Buffer, *bytes.Buffer) {
	out := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	return ioStreams{out: out, err: errBuf}, out, errBuf
}

func TestRunCLIUnknownCommand(t *testing.T) {
	t.Parallel()
	streams, _, errBuf := testStreams()
	if err := runCLI(context.Background(), []string{"bogus"}, streams); err == nil {
		t.Fatal("expected error for unknown command")
	}
	if !strings.Contains(errBuf.String(), "Commands:") {
		t.Fatalf("usage not printed:\n%s", errBuf.String())
	}
}

func TestRunCLIMissingCommand(t *testing.T) {
	t.Parallel()
	streams, _, _ := testStreams()
	if err := runCLI(context.Background(), nil, streams); err == nil {
		t.Fatal("expected missing command error")
	}
}

func TestRunCLIHelp(t *testing.T) {
	t.Parallel()
	streams, _, errBuf := testStreams()
	if err := runCLI(context.Background(), []string{"help"}, streams); err != nil {
		t.Fatalf("help: %v", err)
	}
	if !strings.Contains(errBuf.String(), "assistctl") {
		t.Fatalf("help output:\n%s", errBuf.String())
	}
}

func TestConfigInitCheckShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	streams, out, _ := testStreams()
	if err := runCLI(context.Background(), []string{"config", "-config", path, "init"}, streams); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	// A second init must refuse to overwrite.
	if err := runCLI(context.Background(), []string{"config", "-config", path, "init"}, streams); err == nil {
		t.Fatal("expected overwrite refusal")
	}

	// The seed file has no credential yet; supply one and check it.
	t.Setenv("ASSISTHUB_API_KEY", "sk-test")
	if err := runCLI(context.Background(), []string{"config", "-config", path, "check"}, streams); err != nil {
		t.Fatalf("check: %v", err)
	}

	out.Reset()
	if err := runCLI(context.Background(), []string{"config", "-config", path, "show"}, streams); err != nil {
		t.Fatalf("show: %v", err)
	}
	shown := out.String()
	if strings.Contains(shown, "sk-test") {
		t.Fatalf("credential leaked:\n%s", shown)
	}
	if !strings.Contains(shown, "openai") {
		t.Fatalf("provider missing:\n%s", shown)
	}
}

func TestChatRequiresMessage(t *testing.T) {
	t.Parallel()
	streams, _, _ := testStreams()
	if err := runCLI(context.Background(), []string{"chat"}, streams); err == nil {
		t.Fatal("expected message requirement error")
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

const (
	serverBinary    = "course-extract-server"
	serverBinaryEnv = "COURSEEXTRACT_SERVER_BIN"

	serverStartTimeout = 10 * time.Second
	serverPollInterval = 200 * time.Millisecond
)

// launcher starts a local server when none answers at baseURL
type launcher struct {
	baseURL  string
	timeout  time.Duration
	interval time.Duration
	client   *http.Client
	out      io.Writer

	lookPath func(file string) (string, error)
	start    func(path string) error
}

func newLauncher(baseURL string, out io.Writer) *launcher {
	return &launcher{
		baseURL:  baseURL,
		timeout:  serverStartTimeout,
		interval: serverPollInterval,
		client:   &http.Client{Timeout: time.Second},
		out:      out,
		lookPath: exec.LookPath,
		start:    startDetached,
	}
}

// probe reports whether path answers 200
func (l *launcher) probe(ctx context.Context, path string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+path, nil)
	if err != nil {
		return false
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// findBinary locates the server binary: an explicit override, then next to
// the CLI, then PATH, then the usual install dirs
func (l *launcher) findBinary() (string, error) {
	if p := os.Getenv(serverBinaryEnv); p != "" {
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("%s points to %s: %w", serverBinaryEnv, p, err)
		}
		return p, nil
	}

	if exe, err := os.Executable(); err == nil {
		if p := filepath.Join(filepath.Dir(exe), serverBinary); isFile(p) {
			return p, nil
		}
	}
	if p, err := l.lookPath(serverBinary); err == nil {
		return p, nil
	}

	var candidates []string
	if gobin := os.Getenv("GOBIN"); gobin != "" {
		candidates = append(candidates, filepath.Join(gobin, serverBinary))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, "go", "bin", serverBinary),
			filepath.Join(home, ".local", "bin", serverBinary))
	}

	for _, p := range candidates {
		if isFile(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s binary not found (set %s)", serverBinary, serverBinaryEnv)
}

func isFile(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// startDetached runs the server in server mode, detached from the CLI
func startDetached(path string) error {
	cmd := exec.Command(path, "-server-mode")
	cmd.Env = os.Environ()
	detachServer(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return cmd.Process.Release()
}

// waitReady polls /ready until the queue accepts work
func (l *launcher) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		if l.probe(ctx, "/ready") {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("server did not become ready within %v", l.timeout)
		case <-ticker.C:
		}
	}
}

// ensure starts the server unless one is already answering
func (l *launcher) ensure(ctx context.Context) error {
	if l.probe(ctx, "/health") {
		return nil
	}

	path, err := l.findBinary()
	if err != nil {
		return err
	}
	fmt.Fprintf(l.out, "Server not running, starting %s...\n", path)
	if err := l.start(path); err != nil {
		return err
	}
	if err := l.waitReady(ctx); err != nil {
		return err
	}
	fmt.Fprintln(l.out, "Server started")
	return nil
}

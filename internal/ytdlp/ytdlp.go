// Package ytdlp runs yt-dlp as an extraction method.
package ytdlp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Config holds configuration for the yt-dlp runner
type Config struct {
	// BinaryPath is the path to yt-dlp binary (default: "yt-dlp")
	BinaryPath string
	// CookiesFile is passed as --cookies when set
	CookiesFile string
	// CookiesFromBrowser is passed as --cookies-from-browser when set
	CookiesFromBrowser string
	// SocketTimeout is passed as --socket-timeout
	SocketTimeout time.Duration
	// ExtraArgs are appended before the URL
	ExtraArgs []string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		BinaryPath:    "yt-dlp",
		SocketTimeout: 15 * time.Second,
	}
}

// Runner executes yt-dlp. Tests replace it with a fake.
type Runner interface {
	Run(ctx context.Context, args []string) (stdout []byte, stderr string, err error)
	Available() bool
}

// ExecRunner runs the real binary
type ExecRunner struct {
	path string
}

// NewExecRunner creates a runner for the binary at path
func NewExecRunner(path string) *ExecRunner {
	if path == "" {
		path = "yt-dlp"
	}
	return &ExecRunner{path: path}
}

// Available reports whether the binary can be found
func (r *ExecRunner) Available() bool {
	_, err := exec.LookPath(r.path)
	return err == nil
}

// Run executes yt-dlp. The process is killed when ctx is done.
func (r *ExecRunner) Run(ctx context.Context, args []string) ([]byte, string, error) {
	cmd := exec.CommandContext(ctx, r.path, args...)
	// Don't hang on pipes held open by children once the process is killed
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil && ctx.Err() != nil {
		return nil, stderr.String(), ctx.Err()
	}
	return stdout.Bytes(), stderr.String(), err
}

// Version returns the installed yt-dlp version
func (r *ExecRunner) Version(ctx context.Context) (string, error) {
	out, _, err := r.Run(ctx, []string{"--version"})
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", ErrNotInstalled
		}
		return "", fmt.Errorf("yt-dlp --version: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

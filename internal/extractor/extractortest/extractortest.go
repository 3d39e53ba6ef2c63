// Package extractortest provides helpers for testing extraction methods.
package extractortest

import (
	"context"
	"sync"
	"testing"
	"time"

	apperrors "github.com/mediafetch/backend/internal/errors"
	"github.com/mediafetch/backend/internal/httpclient"
	"github.com/mediafetch/backend/internal/media"
)

// NewClient returns an HTTP client that never retries
func NewClient() *httpclient.Client {
	return httpclient.New(&httpclient.Config{
		Timeout: 5 * time.Second,
		Retry:   &apperrors.RetryConfig{MaxRetries: 0},
	})
}

// Sink records diagnostic snapshots
type Sink struct {
	mu        sync.Mutex
	Snapshots map[string][]byte
}

// Snapshot stores the body under the method name
func (s *Sink) Snapshot(_ context.Context, method string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Snapshots == nil {
		s.Snapshots = make(map[string][]byte)
	}
	s.Snapshots[method] = body
}

// Has reports whether a snapshot was stored for method
func (s *Sink) Has(method string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.Snapshots[method]
	return ok
}

// FormatIDs lists the format ids of a result in order
func FormatIDs(res media.Result) []string {
	if res.Info == nil {
		return nil
	}
	ids := make([]string, 0, len(res.Info.Formats))
	for _, f := range res.Info.Formats {
		ids = append(ids, f.FormatID)
	}
	return ids
}

// RequireSuccess fails the test unless the result succeeded
func RequireSuccess(t *testing.T, res media.Result) {
	t.Helper()
	if !res.Success {
		t.Fatalf("%s: expected success, got %v", res.Method, res.Err)
	}
}

// RequireCode fails the test unless the result failed with code
func RequireCode(t *testing.T, res media.Result, code media.ErrorCode) {
	t.Helper()
	if res.Success {
		t.Fatalf("%s: expected %s, got success", res.Method, code)
	}
	if res.Code() != code {
		t.Fatalf("%s: expected %s, got %s (%v)", res.Method, code, res.Code(), res.Err)
	}
}

// Equal compares two string slices
func Equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

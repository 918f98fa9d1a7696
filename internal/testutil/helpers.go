// Package testutil provides shared helpers for tests that start servers and
// wait on background goroutines.
package testutil

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Common test timeout constants.
const (
	// DefaultTestTimeout is the standard timeout for most async test operations.
	DefaultTestTimeout = 5 * time.Second

	// LongTestTimeout is for operations that may take longer, such as
	// graceful shutdown in CI environments.
	LongTestTimeout = 15 * time.Second
)

// NewHTTPClient returns a client without keep-alives so servers under test
// shut down without waiting on idle connections.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{DisableKeepAlives: true},
		Timeout:   DefaultTestTimeout,
	}
}

// WaitForHTTP polls url until it answers with wantStatus or timeout passes.
func WaitForHTTP(t *testing.T, client *http.Client, url string, wantStatus int, timeout time.Duration) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := client.Get(url)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == wantStatus
	}, timeout, 20*time.Millisecond, "%s did not answer %d", url, wantStatus)
}

// WaitForError receives from ch or fails the test after timeout.
func WaitForError(t *testing.T, ch <-chan error, timeout time.Duration, msg string) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(timeout):
		require.FailNow(t, msg)
		return nil
	}
}

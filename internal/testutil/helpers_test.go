package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWaitForHTTP(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(server.Close)

	WaitForHTTP(t, NewHTTPClient(), server.URL, http.StatusAccepted, DefaultTestTimeout)
}

func TestWaitForError(t *testing.T) {
	t.Parallel()

	ch := make(chan error, 1)
	ch <- assert.AnError
	assert.ErrorIs(t, WaitForError(t, ch, time.Second, "no result"), assert.AnError)
}

package blob

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, handler http.HandlerFunc) *Store {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	s, err := New(Config{
		Endpoint:  server.URL,
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "attachments",
	})
	require.NoError(t, err)
	return s
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Bucket: "attachments"})
	assert.Error(t, err)
	_, err = New(Config{Endpoint: "localhost:9000"})
	assert.Error(t, err)
}

func TestRemoveObjectsDeletesEachKey(t *testing.T) {
	var mu sync.Mutex
	var deleted []string
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodDelete {
			mu.Lock()
			deleted = append(deleted, r.URL.Path)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusNoContent)
	})

	err := s.RemoveObjects(context.Background(), []string{"tasks/a.pdf", "", "tasks/b.png"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/attachments/tasks/a.pdf", "/attachments/tasks/b.png"}, deleted)
}

func TestRemoveObjectsJoinsFailures(t *testing.T) {
	s := newTestStore(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "bad.pdf") {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied.</Message></Error>`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	err := s.RemoveObjects(context.Background(), []string{"good.pdf", "bad.pdf"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.pdf")
	assert.NotContains(t, err.Error(), "good.pdf")
}

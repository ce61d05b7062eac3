package callback

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/flowcase/internal/domain"
)

func TestSigner(t *testing.T) {
	s := NewSigner("secret")

	key := s.Sign("task-1")
	assert.Len(t, key, 64)
	assert.Equal(t, key, s.Sign("task-1"))
	assert.True(t, s.Verify("task-1", key))
	assert.False(t, s.Verify("task-2", key))
	assert.False(t, s.Verify("task-1", ""))
	assert.False(t, NewSigner("other").Verify("task-1", key))
}

func TestRunner_CallAsync(t *testing.T) {
	type received struct {
		body, apiKey, contentType string
	}
	got := make(chan received, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- received{string(b), r.Header.Get("x-api-key"), r.Header.Get("Content-Type")}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	r := NewRunner(Config{})
	r.CallAsync("c1", &domain.Callback{URL: srv.URL, Headers: map[string]string{"x-api-key": "k"}},
		map[string]string{"content-type": "application/json"}, []byte(`{"ok":true}`))
	r.Wait()

	rec := <-got
	assert.Equal(t, `{"ok":true}`, rec.body)
	assert.Equal(t, "k", rec.apiKey)
	assert.Equal(t, "application/json", rec.contentType)
}

func TestRunner_CallError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewRunner(Config{}).Call(context.Background(), "c1", &domain.Callback{URL: srv.URL}, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

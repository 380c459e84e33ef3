package vision

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestProberReachable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ok.png", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/moved.png", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ok.png", http.StatusFound)
	})
	mux.HandleFunc("/empty.png", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := NewProber(time.Second, 0, zerolog.Nop())
	ctx := context.Background()

	assert.True(t, p.Reachable(ctx, server.URL+"/ok.png"))
	assert.True(t, p.Reachable(ctx, server.URL+"/moved.png"))
	assert.False(t, p.Reachable(ctx, server.URL+"/missing.png"))
	assert.False(t, p.Reachable(ctx, server.URL+"/empty.png"))
	assert.False(t, p.Reachable(ctx, ""))
	assert.False(t, p.Reachable(ctx, "://bad"))
}

func TestProberTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer server.Close()

	p := NewProber(20*time.Millisecond, 0, zerolog.Nop())
	assert.False(t, p.Reachable(context.Background(), server.URL+"/slow.png"))
}

func TestProberCachesResults(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := NewProber(time.Second, time.Minute, zerolog.Nop())
	for i := 0; i < 3; i++ {
		assert.True(t, p.Reachable(context.Background(), server.URL+"/a.png"))
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"agentboard/internal/config"
)

func TestServe_AnswersDuringStartupCapture(t *testing.T) {
	gin.SetMode(gin.TestMode)

	detailHit := make(chan struct{}, 1)
	release := make(chan struct{})
	unblock := sync.OnceFunc(func() { close(release) })
	mux := http.NewServeMux()
	mux.HandleFunc("/leaderboard", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"username":"alice","score":10},{"username":"bob","score":20}]`)
	})
	mux.HandleFunc("/agents/", func(w http.ResponseWriter, r *http.Request) {
		select {
		case detailHit <- struct{}{}:
		default:
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
		fmt.Fprint(w, `{"bio":"hi"}`)
	})
	upstream := httptest.NewServer(mux)
	defer upstream.Close()
	defer unblock()

	st, cleanup, err := openStores(context.Background(), config.StoreConfig{Kind: config.StoreMemory})
	require.NoError(t, err)
	defer cleanup()

	c := config.Default()
	c.Ranking.LeaderboardURL = upstream.URL + "/leaderboard"
	c.Ranking.DetailURL = upstream.URL + "/agents"
	c.Capture.EnrichDelay = 0
	a, err := newApp(c, st, zap.NewNop())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, a, ln, zap.NewNop()) }()

	select {
	case <-detailHit:
	case <-time.After(5 * time.Second):
		t.Fatal("startup capture never started enriching")
	}
	require.True(t, a.scheduler.Status().Running)

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + ln.Addr().String() + "/api/leaderboard")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	unblock()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not shut down")
	}
}

package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxislabs/praxis/pkg/clock"
	"github.com/praxislabs/praxis/pkg/executor"
	"github.com/praxislabs/praxis/pkg/llms"
	"github.com/praxislabs/praxis/pkg/profile"
	"github.com/praxislabs/praxis/pkg/registry"
	"github.com/praxislabs/praxis/pkg/session"
	"github.com/praxislabs/praxis/pkg/testutils"
	"github.com/praxislabs/praxis/pkg/tools"
)

func newTestServer(t *testing.T, responses ...string) (*Server, *session.MemoryStore) {
	t.Helper()

	clk := clock.NewFake(time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC))
	store := session.NewMemoryStore(clk)

	providers := &llms.ProviderRegistry{BaseRegistry: registry.NewBaseRegistry[llms.LLM]()}
	require.NoError(t, providers.Register("fake", testutils.NewFakeLLM(responses...)))

	profiles, err := profile.NewRegistry(&profile.Profile{
		Tag:      "default",
		Type:     profile.TypeLLMOnly,
		Provider: "fake",
	})
	require.NoError(t, err)

	exec, err := executor.New(executor.Config{
		Sessions:  store,
		Profiles:  profiles,
		Providers: providers,
		Catalog:   tools.NewCatalog(),
		Clock:     clk,
	})
	require.NoError(t, err)

	srv, err := New(exec, store, Options{})
	require.NoError(t, err)
	return srv, store
}

func TestTurnEndpointStreamsSSE(t *testing.T) {
	srv, store := newTestServer(t, "The answer.", "Session title")
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/v1/sessions/s1/turns",
		strings.NewReader(`{"query": "hello"}`))
	require.NoError(t, err)
	req.Header.Set("X-User-ID", "u1")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	body := readAll(t, resp)
	assert.Contains(t, body, "event: execution_start")
	assert.Contains(t, body, "event: final_answer")
	assert.Contains(t, body, "The answer.")
	assert.Contains(t, body, "event: execution_complete")

	sess, err := store.Get(context.Background(), "u1", "s1")
	require.NoError(t, err)
	require.Len(t, sess.History, 1)
	assert.Equal(t, session.StatusSuccess, sess.History[0].Status)
}

func TestTurnEndpointRequiresUserAndQuery(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/sessions/s1/turns", "application/json", strings.NewReader(`{"query":"x"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/sessions/s1/turns", strings.NewReader(`{}`))
	req.Header.Set("X-User-ID", "u1")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSessionEndpoints(t *testing.T) {
	srv, store := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	_, err := store.GetOrCreate(context.Background(), "u1", "s1")
	require.NoError(t, err)

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/sessions/", nil)
	req.Header.Set("X-User-ID", "u1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readAll(t, resp), `"session_id":"s1"`)
	resp.Body.Close()

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/v1/sessions/missing/", nil)
	req.Header.Set("X-User-ID", "u1")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/v1/sessions/s1/cancel", nil)
	req.Header.Set("X-User-ID", "u1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTurnQueueSerialisesPerKey(t *testing.T) {
	q := newTurnQueue()

	release1 := q.acquire("u1", "s1")

	acquired := make(chan struct{})
	go func() {
		release := q.acquire("u1", "s1")
		close(acquired)
		release()
	}()

	select {
	case <-acquired:
		t.Fatal("second turn acquired the session while the first held it")
	case <-time.After(50 * time.Millisecond):
	}

	// A different session is independent.
	releaseOther := q.acquire("u1", "s2")
	releaseOther()

	release1()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second turn never acquired after release")
	}

	// All keys drain back out of the map.
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := q.acquire("u2", "s1")
			release()
		}()
	}
	wg.Wait()
	q.mu.Lock()
	assert.Empty(t, q.locks)
	q.mu.Unlock()
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	var b strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		b.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return b.String()
}

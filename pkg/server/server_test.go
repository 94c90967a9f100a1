package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/avoronin/newsdigest/internal/scheduler"
	"github.com/avoronin/newsdigest/internal/store"
)

func newTestServer(t *testing.T, adminToken string) (*Server, *scheduler.Scheduler, store.Store) {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)

	sched := scheduler.New(st, nil, nil, nil, nil, scheduler.Config{}, log)
	return New(st, sched, 0, adminToken, log), sched, st
}

func doReq(t *testing.T, srv *Server, method, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	rec := doReq(t, srv, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestStatusReportsItemCounts(t *testing.T) {
	srv, _, st := newTestServer(t, "")

	item := &store.Item{Source: "rss", ItemKey: "k1", Title: "t"}
	if err := st.InsertNew(context.Background(), item); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rec := doReq(t, srv, http.MethodGet, "/api/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body struct {
		Items map[string]int `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Items["NEW"] != 1 {
		t.Fatalf("items = %v", body.Items)
	}
}

func TestAdminEndpointsRequireToken(t *testing.T) {
	srv, sched, _ := newTestServer(t, "sekrit")

	if rec := doReq(t, srv, http.MethodPost, "/api/v1/pause", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", rec.Code)
	}
	if rec := doReq(t, srv, http.MethodPost, "/api/v1/pause", "wrong"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d", rec.Code)
	}

	if rec := doReq(t, srv, http.MethodPost, "/api/v1/pause", "sekrit"); rec.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d", rec.Code)
	}
	if !sched.Paused() {
		t.Fatal("scheduler should be paused")
	}

	if rec := doReq(t, srv, http.MethodPost, "/api/v1/resume", "sekrit"); rec.Code != http.StatusOK {
		t.Fatalf("resume: status = %d", rec.Code)
	}
	if sched.Paused() {
		t.Fatal("scheduler should be running")
	}
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	srv, _, _ := newTestServer(t, "")
	rec := doReq(t, srv, http.MethodPost, "/api/v1/trigger", "anything")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestTriggerReportsQueueState(t *testing.T) {
	srv, _, _ := newTestServer(t, "sekrit")

	// No run loop is draining the trigger channel, so the first request
	// queues and the second finds it still pending.
	if rec := doReq(t, srv, http.MethodPost, "/api/v1/trigger", "sekrit"); rec.Code != http.StatusAccepted {
		t.Fatalf("first trigger: status = %d", rec.Code)
	}

	rec := doReq(t, srv, http.MethodPost, "/api/v1/trigger", "sekrit")
	if rec.Code != http.StatusConflict {
		t.Fatalf("queued trigger: status = %d", rec.Code)
	}
	var body struct {
		Accepted bool `json:"accepted"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Accepted {
		t.Fatal("accepted should be false for a dropped trigger")
	}
}

func TestTriggerConflictsWhilePaused(t *testing.T) {
	srv, sched, _ := newTestServer(t, "sekrit")
	sched.Pause()

	rec := doReq(t, srv, http.MethodPost, "/api/v1/trigger", "sekrit")
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestItemsFilterByState(t *testing.T) {
	srv, _, st := newTestServer(t, "")

	ctx := context.Background()
	for _, k := range []string{"k1", "k2"} {
		if err := st.InsertNew(ctx, &store.Item{Source: "rss", ItemKey: k, Title: k}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if err := st.MarkSummarized(ctx, "rss", "k1", "digest"); err != nil {
		t.Fatalf("mark: %v", err)
	}

	rec := doReq(t, srv, http.MethodGet, "/api/v1/items?state=NEW", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 {
		t.Fatalf("count = %d, want 1", body.Count)
	}
}

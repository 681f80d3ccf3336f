package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"evopanel/pkg/types"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestMerge_PostsTupleRecipe(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/merge" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type=%q", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"task_id":"abc123"}`))
	}))
	rec := types.Recipe{Model1Name: "a", Model2Name: "b", MergedName: "m", Layers: []types.Layer{{{SourceLayer: 2, SourceModel: 1, Weight: 0.5}}}}
	id, err := c.Merge(context.Background(), types.NewMergeRequest(rec))
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if id != "abc123" {
		t.Fatalf("task id=%q", id)
	}
	lr, _ := json.Marshal(got["layer_recipe"])
	if string(lr) != `[[[2,1,0.5]]]` {
		t.Fatalf("layer_recipe=%s", lr)
	}
}

func TestListModels_EmptyBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		if len(b) != 0 {
			t.Errorf("expected empty body, got %q", b)
		}
		_, _ = w.Write([]byte(`{"task_id":"list-1"}`))
	}))
	id, err := c.ListModels(context.Background())
	if err != nil || id != "list-1" {
		t.Fatalf("id=%q err=%v", id, err)
	}
}

func TestSubmit_ErrorTaxonomy(t *testing.T) {
	cases := []struct {
		name  string
		h     http.HandlerFunc
		check func(error) bool
	}{
		{"http", func(w http.ResponseWriter, r *http.Request) { http.Error(w, "boom", http.StatusBadGateway) }, IsHTTP},
		{"rejected", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"error":"HTTP 503: unavailable"}`)) }, IsRejected},
		{"no task id", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{}`)) }, IsTransport},
		{"bad json", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`<html>`)) }, IsTransport},
	}
	for _, tc := range cases {
		c := newTestClient(t, tc.h)
		_, err := c.Generate(context.Background(), types.GenerateRequest{ModelName: "m", Prompt: "p"})
		if !tc.check(err) {
			t.Fatalf("%s: unexpected error %T %v", tc.name, err, err)
		}
		if !IsRemote(err) {
			t.Fatalf("%s: IsRemote=false", tc.name)
		}
	}
}

func TestHTTPErrorMessage(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	_, err := c.ListModels(context.Background())
	var he *HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("want HTTPError, got %v", err)
	}
	if he.Error() != "HTTP 404: Not Found" || he.StatusCode() != 404 {
		t.Fatalf("got %q", he.Error())
	}
}

func TestRejectedServerError(t *testing.T) {
	if !(&RejectedError{Reason: "HTTP 502: bad gateway"}).IsServerError() {
		t.Fatal("expected server error")
	}
	if (&RejectedError{Reason: "model not found"}).IsServerError() {
		t.Fatal("unexpected server error")
	}
}

func TestTransportErrorOnClosedServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	c, err := New(Config{BaseURL: url})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := c.Poll(context.Background(), "x"); !IsTransport(err) {
		t.Fatalf("want transport error, got %v", err)
	}
}

func TestPoll_StatusVariants(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch strings.TrimPrefix(r.URL.Path, "/tasks/") {
		case "pending":
			_, _ = w.Write([]byte(`{"status":"PENDING"}`))
		case "done":
			_, _ = w.Write([]byte(`{"status":"SUCCESS","result":["a","b"]}`))
		case "failed":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"detail":"CUDA out of memory"}`))
		case "crash":
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`Internal Server Error`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	ctx := context.Background()
	st, err := c.Poll(ctx, "pending")
	if err != nil || st.Status != types.TaskPending {
		t.Fatalf("pending: %+v %v", st, err)
	}
	st, err = c.Poll(ctx, "done")
	if err != nil || st.Status != types.TaskSuccess || string(st.Result) != `["a","b"]` {
		t.Fatalf("done: %+v %v", st, err)
	}
	_, err = c.Poll(ctx, "failed")
	var tf *TaskFailure
	if !errors.As(err, &tf) || tf.Reason != "CUDA out of memory" || tf.TaskID != "failed" {
		t.Fatalf("failed: %v", err)
	}
	if _, err = c.Poll(ctx, "crash"); !IsHTTP(err) {
		t.Fatalf("crash: %v", err)
	}
	if _, err = c.Poll(ctx, "missing"); !IsHTTP(err) {
		t.Fatalf("missing: %v", err)
	}
}

func TestSessionCookieIsKept(t *testing.T) {
	var seen []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ck, err := r.Cookie("session_id"); err == nil {
			seen = append(seen, ck.Value)
		} else {
			http.SetCookie(w, &http.Cookie{Name: "session_id", Value: "s-1", Path: "/"})
		}
		_, _ = w.Write([]byte(`{"task_id":"t"}`))
	}))
	for i := 0; i < 2; i++ {
		if _, err := c.ListModels(context.Background()); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if len(seen) != 1 || seen[0] != "s-1" {
		t.Fatalf("cookie not replayed: %v", seen)
	}
}

func TestCanceledContextIsNotTransportError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := c.Poll(ctx, "slow")
	if !errors.Is(err, context.Canceled) || IsTransport(err) {
		t.Fatalf("got %T %v", err, err)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	if _, err := New(Config{BaseURL: "::not a url"}); err == nil {
		t.Fatal("expected error")
	}
	c, err := New(Config{})
	if err != nil {
		t.Fatalf("default url: %v", err)
	}
	if c.BaseURL() != DefaultBaseURL {
		t.Fatalf("base=%q", c.BaseURL())
	}
}

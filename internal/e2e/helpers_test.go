package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"evopanel/internal/client"
	"evopanel/internal/hints"
	"evopanel/internal/httpapi"
	"evopanel/internal/panel"
	"evopanel/internal/recipe"
	"evopanel/internal/tasks"
	"evopanel/pkg/types"
)

const sessionCookie = "session_id"

// remote is an in-process stand-in for the merge/inference task service. It
// hands out a session cookie and remembers whether later calls returned it.
type remote struct {
	mu          sync.Mutex
	next        int
	tasks       map[string]func(poll int) (int, any)
	polls       map[string]int
	lastMerge   mergePayload
	missingAuth int
}

type mergePayload struct {
	Model1Name  string         `json:"model1_name"`
	Model2Name  string         `json:"model2_name"`
	LayerRecipe [][][3]float64 `json:"layer_recipe"`
	MergedName  string         `json:"merged_name"`
}

func newRemote(t *testing.T) (*httptest.Server, *remote) {
	t.Helper()
	rm := &remote{tasks: map[string]func(int) (int, any){}, polls: map[string]int{}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /list_models", func(w http.ResponseWriter, r *http.Request) {
		rm.enqueue(w, r, func(int) (int, any) {
			return http.StatusOK, types.TaskStatus{Status: types.TaskSuccess, Result: raw(map[string][]string{"response": {"svamp", "tinystories"}})}
		})
	})
	mux.HandleFunc("POST /merge", func(w http.ResponseWriter, r *http.Request) {
		var p mergePayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			writeBody(w, http.StatusOK, types.SubmitResponse{Error: "invalid payload"})
			return
		}
		rm.mu.Lock()
		rm.lastMerge = p
		rm.mu.Unlock()
		rm.enqueue(w, r, func(poll int) (int, any) {
			if poll < 2 {
				return http.StatusOK, types.TaskStatus{Status: types.TaskPending}
			}
			return http.StatusOK, types.TaskStatus{Status: types.TaskSuccess, Result: raw(types.GenerateResult{Response: p.MergedName})}
		})
	})
	mux.HandleFunc("POST /generate", func(w http.ResponseWriter, r *http.Request) {
		var req types.GenerateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		rm.enqueue(w, r, func(poll int) (int, any) {
			if req.ModelName == "boom" {
				return http.StatusInternalServerError, map[string]string{"detail": "CUDA out of memory"}
			}
			return http.StatusOK, types.TaskStatus{Status: types.TaskSuccess, Result: raw(types.GenerateResult{Response: "echo: " + req.Prompt})}
		})
	})
	mux.HandleFunc("GET /tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		rm.mu.Lock()
		if _, err := r.Cookie(sessionCookie); err != nil {
			rm.missingAuth++
		}
		id := r.PathValue("id")
		fn, ok := rm.tasks[id]
		rm.polls[id]++
		n := rm.polls[id]
		rm.mu.Unlock()
		if !ok {
			writeBody(w, http.StatusNotFound, map[string]string{"detail": "unknown task"})
			return
		}
		code, body := fn(n)
		writeBody(w, code, body)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, rm
}

func (rm *remote) enqueue(w http.ResponseWriter, r *http.Request, fn func(int) (int, any)) {
	rm.mu.Lock()
	rm.next++
	id := fmt.Sprintf("task-%d", rm.next)
	rm.tasks[id] = fn
	rm.mu.Unlock()
	if _, err := r.Cookie(sessionCookie); err != nil {
		http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "s-1", Path: "/"})
	}
	writeBody(w, http.StatusOK, types.SubmitResponse{TaskID: id})
}

func (rm *remote) merge() mergePayload {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.lastMerge
}

func (rm *remote) unauthenticatedPolls() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.missingAuth
}

func raw(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

func writeBody(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// newPanelServer wires the real client, poller, hints store and session
// behind the HTTP API.
func newPanelServer(t *testing.T, remoteURL string) (*httptest.Server, *hints.Store) {
	t.Helper()
	c, err := client.New(client.Config{BaseURL: remoteURL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	store, err := hints.New(hints.NewMemoryBackend(), hints.DefaultDefaults())
	if err != nil {
		t.Fatalf("hints: %v", err)
	}
	poller := tasks.New(c, tasks.Config{Interval: 5 * time.Millisecond, Timeout: 10 * time.Second})
	sess := panel.New(poller, store, panel.Config{ModelListDelay: time.Millisecond}, recipe.DefaultDefaults())
	srv := httptest.NewServer(httpapi.NewMux(sess))
	t.Cleanup(func() {
		srv.Close()
		sess.Close()
	})
	return srv, store
}

func call(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return v
}

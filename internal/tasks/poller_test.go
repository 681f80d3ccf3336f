package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"evopanel/internal/client"
	"evopanel/pkg/types"
)

type fakeAPI struct {
	mu        sync.Mutex
	taskID    string
	submitErr error
	script    []types.TaskStatus
	pollErr   error
	polls     int32
}

func (f *fakeAPI) Submit(ctx context.Context, endpoint string, payload any) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.taskID, nil
}

func (f *fakeAPI) Poll(ctx context.Context, taskID string) (types.TaskStatus, error) {
	n := int(atomic.AddInt32(&f.polls, 1))
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pollErr != nil {
		return types.TaskStatus{}, f.pollErr
	}
	if n-1 < len(f.script) {
		return f.script[n-1], nil
	}
	return types.TaskStatus{Status: types.TaskPending}, nil
}

func (f *fakeAPI) pollCount() int { return int(atomic.LoadInt32(&f.polls)) }

func pending() types.TaskStatus { return types.TaskStatus{Status: types.TaskPending} }

func fastConfig() Config { return Config{Interval: 2 * time.Millisecond} }

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("chain did not finish")
	}
}

func TestSubmitAndPoll_SuccessAfterPending(t *testing.T) {
	api := &fakeAPI{taskID: "abc123", script: []types.TaskStatus{
		pending(), pending(),
		{Status: types.TaskSuccess, Result: json.RawMessage(`{"response":"hi"}`)},
	}}
	pub := NewMemoryPublisher()
	p := New(api, fastConfig(), WithPublisher(pub))

	var successes, failures int32
	var got json.RawMessage
	h, err := p.SubmitAndPoll(context.Background(), client.EndpointGenerate, nil,
		func(r json.RawMessage) {
			atomic.AddInt32(&successes, 1)
			got = r
		},
		func(error) { atomic.AddInt32(&failures, 1) })
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if h.TaskID != "abc123" {
		t.Fatalf("task id=%q", h.TaskID)
	}
	waitDone(t, h)

	time.Sleep(10 * time.Millisecond)
	if successes != 1 || failures != 0 {
		t.Fatalf("successes=%d failures=%d", successes, failures)
	}
	if string(got) != `{"response":"hi"}` {
		t.Fatalf("result=%s", got)
	}
	if api.pollCount() != 3 {
		t.Fatalf("polls=%d want 3", api.pollCount())
	}
	if pub.Count(EventSubmitted) != 1 || pub.Count(EventPending) != 2 || pub.Count(EventSucceeded) != 1 {
		t.Fatalf("events=%+v", pub.Events())
	}
}

func TestSubmitAndPoll_FailureReason(t *testing.T) {
	api := &fakeAPI{taskID: "xyz", script: []types.TaskStatus{
		{Status: types.TaskFailure, Result: json.RawMessage(`"OOM"`)},
	}}
	p := New(api, fastConfig())

	var successes, failures int32
	var gotErr error
	h, err := p.SubmitAndPoll(context.Background(), client.EndpointMerge, nil,
		func(json.RawMessage) { atomic.AddInt32(&successes, 1) },
		func(e error) {
			atomic.AddInt32(&failures, 1)
			gotErr = e
		})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitDone(t, h)

	if successes != 0 || failures != 1 {
		t.Fatalf("successes=%d failures=%d", successes, failures)
	}
	var tf *client.TaskFailure
	if !errors.As(gotErr, &tf) || tf.Reason != "OOM" || tf.TaskID != "xyz" {
		t.Fatalf("err=%v", gotErr)
	}
	if api.pollCount() != 1 {
		t.Fatalf("polls=%d want 1", api.pollCount())
	}
}

func TestSubmitAndPoll_SubmissionErrorRunsNoContinuation(t *testing.T) {
	api := &fakeAPI{submitErr: &client.RejectedError{Reason: "bad recipe"}}
	p := New(api, fastConfig())
	called := false
	h, err := p.SubmitAndPoll(context.Background(), client.EndpointMerge, nil,
		func(json.RawMessage) { called = true }, func(error) { called = true })
	if h != nil || err == nil {
		t.Fatalf("h=%v err=%v", h, err)
	}
	if !IsSubmission(err) || !client.IsRejected(err) {
		t.Fatalf("err=%T %v", err, err)
	}
	if called || api.pollCount() != 0 {
		t.Fatalf("called=%v polls=%d", called, api.pollCount())
	}
}

func TestHandleCancelStopsPolling(t *testing.T) {
	api := &fakeAPI{taskID: "forever"}
	pub := NewMemoryPublisher()
	p := New(api, fastConfig(), WithPublisher(pub))

	var gotErr error
	var successes int32
	h, err := p.SubmitAndPoll(context.Background(), client.EndpointMerge, nil,
		func(json.RawMessage) { atomic.AddInt32(&successes, 1) },
		func(e error) { gotErr = e })
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	h.Cancel()
	waitDone(t, h)

	if !errors.Is(gotErr, context.Canceled) {
		t.Fatalf("err=%v", gotErr)
	}
	if successes != 0 {
		t.Fatal("success continuation ran")
	}
	n := api.pollCount()
	time.Sleep(20 * time.Millisecond)
	if api.pollCount() != n {
		t.Fatalf("polling continued after cancel: %d -> %d", n, api.pollCount())
	}
	if pub.Count(EventCanceled) != 1 {
		t.Fatalf("events=%+v", pub.Events())
	}
}

func TestWait_MaxAttempts(t *testing.T) {
	api := &fakeAPI{taskID: "slow"}
	p := New(api, Config{Interval: time.Millisecond, MaxAttempts: 4})
	_, err := p.Wait(context.Background(), "slow")
	if !errors.Is(err, ErrPollLimit) {
		t.Fatalf("err=%v", err)
	}
	if api.pollCount() != 4 {
		t.Fatalf("polls=%d want 4", api.pollCount())
	}
}

func TestWait_SingleAttemptPublishesLimit(t *testing.T) {
	api := &fakeAPI{taskID: "slow"}
	pub := NewMemoryPublisher()
	p := New(api, Config{Interval: time.Hour, MaxAttempts: 1}, WithPublisher(pub))
	_, err := p.Wait(context.Background(), "slow")
	if !errors.Is(err, ErrPollLimit) {
		t.Fatalf("err=%v", err)
	}
	if api.pollCount() != 1 {
		t.Fatalf("polls=%d want 1", api.pollCount())
	}
	if pub.Count(EventFailed) != 1 || pub.Count(EventPending) != 1 {
		t.Fatalf("events=%+v", pub.Events())
	}
	for _, e := range pub.Events() {
		if e.Name == EventFailed && (e.Attempt != 1 || !errors.Is(e.Err, ErrPollLimit)) {
			t.Fatalf("failed event=%+v", e)
		}
	}
}

func TestWait_PollsOnInterval(t *testing.T) {
	api := &fakeAPI{taskID: "t", script: []types.TaskStatus{
		pending(),
		pending(),
		{Status: types.TaskSuccess, Result: json.RawMessage(`[]`)},
	}}
	p := New(api, Config{Interval: 20 * time.Millisecond})
	start := time.Now()
	if _, err := p.Wait(context.Background(), "t"); err != nil {
		t.Fatalf("err=%v", err)
	}
	if d := time.Since(start); d < 40*time.Millisecond {
		t.Fatalf("three polls took %v, want at least two intervals", d)
	}
	if api.pollCount() != 3 {
		t.Fatalf("polls=%d want 3", api.pollCount())
	}
}

func TestWait_Timeout(t *testing.T) {
	api := &fakeAPI{taskID: "slow"}
	p := New(api, Config{Interval: 5 * time.Millisecond, Timeout: 30 * time.Millisecond})
	_, err := p.Wait(context.Background(), "slow")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
}

func TestWait_PollErrorEndsChain(t *testing.T) {
	api := &fakeAPI{taskID: "t", pollErr: &client.HTTPError{Code: 404, StatusText: "Not Found"}}
	p := New(api, fastConfig())
	_, err := p.Wait(context.Background(), "t")
	if !client.IsHTTP(err) {
		t.Fatalf("err=%v", err)
	}
	if api.pollCount() != 1 {
		t.Fatalf("polls=%d", api.pollCount())
	}
}

func TestWait_InitialDelay(t *testing.T) {
	api := &fakeAPI{taskID: "t", script: []types.TaskStatus{{Status: types.TaskSuccess, Result: json.RawMessage(`[]`)}}}
	p := New(api, Config{Interval: time.Millisecond, InitialDelay: 30 * time.Millisecond})
	start := time.Now()
	res, err := p.Wait(context.Background(), "t")
	if err != nil || string(res) != `[]` {
		t.Fatalf("res=%s err=%v", res, err)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatal("first poll did not wait for the initial delay")
	}
}

func TestSubmitAndWait_CanceledParent(t *testing.T) {
	api := &fakeAPI{taskID: "t"}
	p := New(api, fastConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()
	_, err := p.SubmitAndWait(ctx, client.EndpointListModels, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
}

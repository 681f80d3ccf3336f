// Package tasks implements submit-then-poll semantics for the remote task
// service. A chain submits work, then polls its status sequentially on a
// constant backoff schedule until SUCCESS or FAILURE. Chains can be canceled
// and may be bounded by an attempt count or a deadline; with zero bounds they
// poll until a terminal state, like the service's own clients.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"evopanel/internal/client"
	"evopanel/pkg/types"
)

// DefaultInterval is the pause between two polls of the same task.
const DefaultInterval = time.Second

// ErrPollLimit is returned when MaxAttempts polls saw no terminal state.
var ErrPollLimit = errors.New("task still pending after max poll attempts")

// API is the remote surface the poller needs.
type API interface {
	Submit(ctx context.Context, endpoint string, payload any) (string, error)
	Poll(ctx context.Context, taskID string) (types.TaskStatus, error)
}

// Config holds polling policy. Zero values mean: 1s interval, first poll
// right away, no attempt limit, no deadline.
type Config struct {
	Interval     time.Duration
	InitialDelay time.Duration
	MaxAttempts  int
	Timeout      time.Duration
}

// SubmissionError wraps a failure to enqueue work.
type SubmissionError struct {
	Endpoint string
	Err      error
}

func (e *SubmissionError) Error() string { return "submit " + e.Endpoint + ": " + e.Err.Error() }

func (e *SubmissionError) Unwrap() error { return e.Err }

// IsSubmission reports whether err is a SubmissionError.
func IsSubmission(err error) bool {
	var se *SubmissionError
	return errors.As(err, &se)
}

// Poller runs task chains against an API.
type Poller struct {
	api API
	cfg Config
	pub EventPublisher
	log zerolog.Logger
}

// Option configures a Poller.
type Option func(*Poller)

// WithPublisher installs an event publisher.
func WithPublisher(pub EventPublisher) Option { return func(p *Poller) { p.pub = pub } }

// WithLogger sets the logger for chain diagnostics.
func WithLogger(l zerolog.Logger) Option { return func(p *Poller) { p.log = l } }

// New returns a Poller for api.
func New(api API, cfg Config, opts ...Option) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	p := &Poller{api: api, cfg: cfg, pub: noopPublisher{}, log: zerolog.Nop()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// WithInitialDelay returns a copy of p whose chains wait d before their first poll.
func (p *Poller) WithInitialDelay(d time.Duration) *Poller {
	cp := *p
	cp.cfg.InitialDelay = max(d, 0)
	return &cp
}

// Submit enqueues payload at endpoint and returns the task id.
func (p *Poller) Submit(ctx context.Context, endpoint string, payload any) (string, error) {
	id, err := p.api.Submit(ctx, endpoint, payload)
	if err != nil {
		return "", &SubmissionError{Endpoint: endpoint, Err: err}
	}
	p.pub.Publish(Event{Name: EventSubmitted, Endpoint: endpoint, TaskID: id})
	return id, nil
}

// Wait polls taskID until it reaches a terminal state and returns the
// SUCCESS result. A FAILURE is returned as *client.TaskFailure. Transport and
// HTTP errors end the chain without retry.
func (p *Poller) Wait(ctx context.Context, taskID string) (json.RawMessage, error) {
	return p.wait(ctx, "", taskID)
}

// SubmitAndWait is Submit followed by Wait.
func (p *Poller) SubmitAndWait(ctx context.Context, endpoint string, payload any) (json.RawMessage, error) {
	id, err := p.Submit(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}
	return p.wait(ctx, endpoint, id)
}

// Handle controls a running chain.
type Handle struct {
	TaskID string
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops polling. The chain's error continuation receives an error
// wrapping context.Canceled unless a terminal state was already seen.
func (h *Handle) Cancel() { h.cancel() }

// Done is closed once the chain's continuation has returned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// SubmitAndPoll submits synchronously and, on success, polls in the
// background. Exactly one of onSuccess or onError runs per chain. ctx bounds
// the whole chain, not just the submission. Submission errors are returned
// directly and no continuation runs.
func (p *Poller) SubmitAndPoll(ctx context.Context, endpoint string, payload any, onSuccess func(json.RawMessage), onError func(error)) (*Handle, error) {
	id, err := p.Submit(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}
	return p.Track(ctx, endpoint, id, onSuccess, onError), nil
}

// Track polls an already submitted task in the background.
func (p *Poller) Track(ctx context.Context, endpoint, taskID string, onSuccess func(json.RawMessage), onError func(error)) *Handle {
	cctx, cancel := context.WithCancel(ctx)
	h := &Handle{TaskID: taskID, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer cancel()
		res, err := p.wait(cctx, endpoint, taskID)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		if onSuccess != nil {
			onSuccess(res)
		}
	}()
	return h
}

// errPending marks a poll that saw a non-terminal state; backoff retries it.
var errPending = errors.New("task pending")

// schedule returns the poll schedule: a fixed interval, capped at
// MaxAttempts polls when set, and stopped when ctx ends.
func (p *Poller) schedule(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff = backoff.NewConstantBackOff(p.cfg.Interval)
	if p.cfg.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.cfg.MaxAttempts-1))
	}
	return backoff.WithContext(b, ctx)
}

func (p *Poller) wait(ctx context.Context, endpoint, taskID string) (json.RawMessage, error) {
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}
	chainsInflight.Inc()
	defer chainsInflight.Dec()
	start := time.Now()

	if p.cfg.InitialDelay > 0 {
		t := time.NewTimer(p.cfg.InitialDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, p.stopped(ctx, endpoint, taskID, 1, start)
		case <-t.C:
		}
	}

	attempt := 0
	poll := func() (json.RawMessage, error) {
		attempt++
		if err := ctx.Err(); err != nil {
			return nil, backoff.Permanent(err)
		}
		st, err := p.api.Poll(ctx, taskID)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		switch st.Status {
		case types.TaskSuccess:
			return st.Result, nil
		case types.TaskFailure:
			return nil, backoff.Permanent(&client.TaskFailure{TaskID: taskID, Reason: st.FailureReason()})
		}
		pollsTotal.WithLabelValues("pending").Inc()
		p.pub.Publish(Event{Name: EventPending, Endpoint: endpoint, TaskID: taskID, Attempt: attempt})
		return nil, errPending
	}
	res, err := backoff.RetryNotifyWithData(poll, p.schedule(ctx), func(_ error, next time.Duration) {
		p.log.Trace().Str("task_id", taskID).Int("attempt", attempt).Dur("next", next).Msg("task pending")
	})

	switch {
	case err == nil:
		p.finish("success", start)
		p.pub.Publish(Event{Name: EventSucceeded, Endpoint: endpoint, TaskID: taskID, Attempt: attempt})
		return res, nil
	case client.IsTaskFailure(err):
		p.finish("failure", start)
	case ctx.Err() != nil:
		return nil, p.stopped(ctx, endpoint, taskID, attempt, start)
	case errors.Is(err, errPending):
		err = fmt.Errorf("task %s: %w (%d)", taskID, ErrPollLimit, attempt)
		p.finish("limit", start)
	default:
		p.finish("error", start)
	}
	p.pub.Publish(Event{Name: EventFailed, Endpoint: endpoint, TaskID: taskID, Attempt: attempt, Err: err})
	return nil, err
}

func (p *Poller) stopped(ctx context.Context, endpoint, taskID string, attempt int, start time.Time) error {
	err := ctx.Err()
	outcome := "canceled"
	if errors.Is(err, context.DeadlineExceeded) {
		outcome = "timeout"
	}
	p.finish(outcome, start)
	p.pub.Publish(Event{Name: EventCanceled, Endpoint: endpoint, TaskID: taskID, Attempt: attempt, Err: err})
	p.log.Debug().Str("task_id", taskID).Str("outcome", outcome).Msg("task chain stopped")
	return fmt.Errorf("task %s: %w", taskID, err)
}

func (p *Poller) finish(outcome string, start time.Time) {
	if outcome != "canceled" && outcome != "timeout" && outcome != "limit" {
		pollsTotal.WithLabelValues(outcome).Inc()
	}
	chainDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

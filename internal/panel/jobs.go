package panel

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"evopanel/internal/tasks"
	"evopanel/pkg/types"
)

type job struct {
	types.Job
	handle *tasks.Handle
	// ready is closed once handle is set or the submission failed.
	ready           chan struct{}
	cancelRequested bool
}

// start submits payload and tracks the resulting task as a job. The
// submission uses ctx; polling is bound to the session lifetime so it
// outlives the request that started it. onResult may turn a SUCCESS payload
// into a job failure by returning an error.
func (s *Session) start(ctx context.Context, p *tasks.Poller, kind types.JobKind, endpoint string, payload any, onResult func(json.RawMessage) error) (types.Job, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return types.Job{}, closedError{}
	}
	j := &job{Job: types.Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		State:     types.JobPending,
		CreatedAt: time.Now().UTC(),
	}, ready: make(chan struct{})}
	s.jobs[j.ID] = j
	s.order = append(s.order, j.ID)
	s.pruneLocked()
	s.mu.Unlock()

	taskID, err := p.Submit(ctx, endpoint, payload)
	if err != nil {
		s.mu.Lock()
		s.dropLocked(j.ID)
		close(j.ready)
		s.mu.Unlock()
		return types.Job{}, err
	}

	s.mu.Lock()
	j.TaskID = taskID
	s.mu.Unlock()

	h := p.Track(s.base, endpoint, taskID,
		func(res json.RawMessage) {
			if err := onResult(res); err != nil {
				s.finish(j.ID, res, err)
				return
			}
			s.finish(j.ID, res, nil)
		},
		func(err error) { s.finish(j.ID, nil, err) },
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	j.handle = h
	close(j.ready)
	if j.cancelRequested || s.closed {
		h.Cancel()
	}
	s.log.Info().Str("job", j.ID).Str("kind", string(kind)).Str("task_id", taskID).Msg("job submitted")
	return j.Job, nil
}

func (s *Session) finish(id string, res json.RawMessage, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return
	}
	now := time.Now().UTC()
	j.CompletedAt = &now
	j.Result = res
	switch {
	case err == nil:
		j.State = types.JobSuccess
	case errors.Is(err, context.Canceled):
		j.State = types.JobCanceled
		j.Error = "canceled"
	default:
		j.State = types.JobFailure
		j.Error = err.Error()
	}
	ev := s.log.Info()
	if j.State == types.JobFailure {
		ev = s.log.Warn().Str("error", j.Error)
	}
	ev.Str("job", id).Str("kind", string(j.Kind)).Str("state", string(j.State)).Msg("job finished")
}

// Jobs returns all tracked jobs, oldest first.
func (s *Session) Jobs() []types.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Job, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.jobs[id].Job)
	}
	return out
}

// Job returns one job by id.
func (s *Session) Job(id string) (types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return types.Job{}, ErrJobNotFound(id)
	}
	return j.Job, nil
}

// CancelJob stops polling a pending job and waits until it is marked
// canceled. Finished jobs are returned unchanged. A job still being
// submitted is canceled as soon as its task is tracked.
func (s *Session) CancelJob(ctx context.Context, id string) (types.Job, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if ok {
		if j.handle != nil {
			j.handle.Cancel()
		} else {
			j.cancelRequested = true
		}
	}
	s.mu.Unlock()
	if !ok {
		return types.Job{}, ErrJobNotFound(id)
	}
	if err := s.await(ctx, j); err != nil {
		return types.Job{}, err
	}
	return s.Job(id)
}

// WaitJob blocks until the job leaves the pending state or ctx ends.
func (s *Session) WaitJob(ctx context.Context, id string) (types.Job, error) {
	s.mu.RLock()
	j, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return types.Job{}, ErrJobNotFound(id)
	}
	if err := s.await(ctx, j); err != nil {
		return types.Job{}, err
	}
	return s.Job(id)
}

// await blocks until j's chain has finished or its submission failed.
func (s *Session) await(ctx context.Context, j *job) error {
	select {
	case <-j.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.RLock()
	h := j.handle
	s.mu.RUnlock()
	if h == nil {
		return nil
	}
	select {
	case <-h.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pruneLocked drops the oldest finished jobs beyond the history limit.
func (s *Session) pruneLocked() {
	excess := len(s.order) - s.cfg.JobHistory
	if excess <= 0 {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		if excess > 0 && s.jobs[id].State != types.JobPending {
			delete(s.jobs, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

func (s *Session) dropLocked(id string) {
	delete(s.jobs, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

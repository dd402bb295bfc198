// SPDX-License-Identifier: MIT

package worker

import (
	"container/heap"
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/openreelio/reelcore/internal/apperr"
	"github.com/openreelio/reelcore/internal/ids"
	"github.com/openreelio/reelcore/internal/log"
	"github.com/openreelio/reelcore/internal/metrics"
)

// MaxPayloadBytes caps a job payload, mirroring the command pipeline.
const MaxPayloadBytes = 256 * 1024

// progressInterval rate-limits progress events to <= 10 Hz per job.
const progressInterval = 100 * time.Millisecond

// Handler executes one job type. It must honour ctx cancellation at its
// suspension points; ReportProgress doubles as a cancellation check.
type Handler func(ctx context.Context, job *JobContext) error

// JobContext is what a handler sees of its job.
type JobContext struct {
	ID      string
	Type    Type
	Payload json.RawMessage

	pool       *Pool
	lastReport time.Time
}

// ReportProgress publishes progress in [0, 1] with an optional stage
// label. Updates are rate-limited; the terminal 1.0 always goes out. The
// returned error is non-nil once the job is cancelled — handlers treat
// this as their stop signal.
func (jc *JobContext) ReportProgress(ctx context.Context, progress float64, stage string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	now := time.Now()
	if progress < 1 && now.Sub(jc.lastReport) < progressInterval {
		return nil
	}
	jc.lastReport = now

	jc.pool.setProgress(jc.ID, progress, stage)
	return nil
}

// queueItem is one heap entry. Cancelled entries stay in the heap and are
// skipped lazily on pop.
type queueItem struct {
	jobID    string
	priority Priority
	seq      uint64
}

type jobHeap []*queueItem

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x any)   { *h = append(*h, x.(*queueItem)) }
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Options tunes the pool.
type Options struct {
	// MaxConcurrent is the global cap. <= 0 selects the core count.
	MaxConcurrent int

	// TypeCaps optionally bounds concurrency per job type. A type
	// without an entry inherits only the global cap.
	TypeCaps map[Type]int

	// QueueCap bounds the number of waiting jobs; Submit fails with
	// ResourceExhausted beyond it. <= 0 selects 1024.
	QueueCap int
}

type running struct {
	cancel context.CancelFunc
}

// Pool is the background job scheduler.
type Pool struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	payloads map[string]json.RawMessage
	queue    jobHeap
	queued   int // live (non-cancelled) queued entries
	seq      uint64
	runningJ map[string]*running

	handlers map[Type]Handler

	global   *semaphore.Weighted
	perType  map[Type]*semaphore.Weighted
	queueCap int

	subs   map[string]chan Event
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	kick   chan struct{}
	wg     sync.WaitGroup

	stats      Stats
	durTotal   time.Duration
	durSamples uint64

	logger zerolog.Logger
}

// NewPool builds and starts a pool.
func NewPool(opts Options) *Pool {
	maxConc := opts.MaxConcurrent
	if maxConc <= 0 {
		maxConc = runtime.NumCPU()
	}
	queueCap := opts.QueueCap
	if queueCap <= 0 {
		queueCap = 1024
	}

	perType := make(map[Type]*semaphore.Weighted, len(opts.TypeCaps))
	for t, limit := range opts.TypeCaps {
		if limit > 0 {
			perType[t] = semaphore.NewWeighted(int64(limit))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		jobs:     make(map[string]*Job),
		payloads: make(map[string]json.RawMessage),
		runningJ: make(map[string]*running),
		handlers: make(map[Type]Handler),
		global:   semaphore.NewWeighted(int64(maxConc)),
		perType:  perType,
		queueCap: queueCap,
		subs:     make(map[string]chan Event),
		ctx:      ctx,
		cancel:   cancel,
		kick:     make(chan struct{}, 1),
		logger:   log.WithComponent("worker"),
	}

	p.wg.Add(1)
	go p.dispatch()
	return p
}

// RegisterHandler installs the executor for one job type. Submitting a
// type without a handler fails.
func (p *Pool) RegisterHandler(t Type, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[t] = h
}

// Submit validates and enqueues a job, returning its id.
func (p *Pool) Submit(t Type, priority Priority, payload json.RawMessage) (string, error) {
	if !validType(t) {
		return "", apperr.Validation("unknown job type: %s", t)
	}
	if len(payload) > MaxPayloadBytes {
		return "", apperr.Validation("job payload exceeds %d bytes", MaxPayloadBytes)
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return "", apperr.Validation("job payload is not valid JSON")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", apperr.Conflict("poolClosed", "worker pool is shut down")
	}
	if _, ok := p.handlers[t]; !ok {
		return "", apperr.Validation("no handler registered for job type %s", t)
	}
	if p.queued >= p.queueCap {
		return "", apperr.ResourceExhausted("worker queue")
	}

	job := &Job{
		ID:          ids.New(),
		Type:        t,
		Priority:    priority,
		Status:      StatusPending,
		SubmittedAt: time.Now(),
	}
	p.jobs[job.ID] = job
	p.payloads[job.ID] = payload

	p.seq++
	heap.Push(&p.queue, &queueItem{jobID: job.ID, priority: priority, seq: p.seq})
	p.queued++
	p.stats.Submitted++
	metrics.SetJobsQueued(p.queued)

	p.signal()
	return job.ID, nil
}

// Cancel stops a job. A queued job never runs; a running job's context is
// cancelled and it transitions at its next check point.
func (p *Pool) Cancel(jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	job, ok := p.jobs[jobID]
	if !ok {
		return apperr.NotFound("job", jobID)
	}

	switch job.Status {
	case StatusPending:
		p.finishLocked(job, StatusCancelled, "")
		p.queued--
		metrics.SetJobsQueued(p.queued)
		return nil
	case StatusRunning:
		if r, ok := p.runningJ[jobID]; ok {
			r.cancel()
		}
		return nil
	default:
		return apperr.Conflict("jobFinished", "job %s already %s", jobID, job.Status)
	}
}

// Get returns a copy of a job's current record.
func (p *Pool) Get(jobID string) (Job, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	job, ok := p.jobs[jobID]
	if !ok {
		return Job{}, apperr.NotFound("job", jobID)
	}
	return *job, nil
}

// Subscribe registers an event consumer. Delivery is at-most-once; slow
// consumers lose events.
func (p *Pool) Subscribe() (<-chan Event, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := ids.New()
	ch := make(chan Event, 256)
	if p.closed {
		close(ch)
		return ch, func() {}
	}
	p.subs[id] = ch

	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.subs[id]; ok {
			delete(p.subs, id)
			close(c)
		}
	}
}

// Stats returns a snapshot of pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.Queued = p.queued
	s.Running = len(p.runningJ)
	if p.durSamples > 0 {
		s.AvgDuration = p.durTotal / time.Duration(p.durSamples)
	}
	return s
}

// Close drains nothing: running jobs are cancelled, queued jobs are marked
// cancelled, and subscribers are closed once the workers exit.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for p.queue.Len() > 0 {
		item := heap.Pop(&p.queue).(*queueItem)
		if job, ok := p.jobs[item.jobID]; ok && job.Status == StatusPending {
			p.finishLocked(job, StatusCancelled, "")
			p.queued--
		}
	}
	metrics.SetJobsQueued(0)
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
	p.mu.Unlock()
}

func (p *Pool) signal() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// dispatch is the scheduler loop: it starts every eligible job, then
// sleeps until a submit or completion wakes it.
func (p *Pool) dispatch() {
	defer p.wg.Done()
	for {
		p.startEligible()
		select {
		case <-p.ctx.Done():
			return
		case <-p.kick:
		}
	}
}

// startEligible pops queued jobs while capacity is available. Jobs whose
// type cap is saturated are set aside and re-queued, preserving their
// original sequence so FIFO fairness within a priority survives.
func (p *Pool) startEligible() {
	p.mu.Lock()
	defer p.mu.Unlock()

	var blocked []*queueItem
	for p.queue.Len() > 0 {
		if !p.global.TryAcquire(1) {
			break
		}

		item := heap.Pop(&p.queue).(*queueItem)
		job, ok := p.jobs[item.jobID]
		if !ok || job.Status != StatusPending {
			// Cancelled while queued; slot goes back.
			p.global.Release(1)
			continue
		}

		if sem, capped := p.perType[job.Type]; capped && !sem.TryAcquire(1) {
			p.global.Release(1)
			blocked = append(blocked, item)
			continue
		}

		p.queued--
		metrics.SetJobsQueued(p.queued)
		p.startLocked(job)
	}

	for _, item := range blocked {
		heap.Push(&p.queue, item)
	}
}

func (p *Pool) startLocked(job *Job) {
	jctx, cancel := context.WithCancel(p.ctx)
	p.runningJ[job.ID] = &running{cancel: cancel}
	job.Status = StatusRunning
	job.StartedAt = time.Now()
	if n := len(p.runningJ); n > p.stats.PeakConcurrency {
		p.stats.PeakConcurrency = n
	}
	metrics.SetJobsRunning(len(p.runningJ))

	handler := p.handlers[job.Type]
	payload := p.payloads[job.ID]
	jobID, jobType := job.ID, job.Type

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()

		err := p.runJob(jctx, handler, jobID, jobType, payload)

		p.mu.Lock()
		defer p.mu.Unlock()

		j := p.jobs[jobID]
		delete(p.runningJ, jobID)
		metrics.SetJobsRunning(len(p.runningJ))
		if sem, capped := p.perType[jobType]; capped {
			sem.Release(1)
		}
		p.global.Release(1)

		switch {
		case jctx.Err() != nil:
			// Cancellation wins even over a handler that returned nil:
			// partially applied side effects are the job type's problem.
			p.finishLocked(j, StatusCancelled, "")
		case err == nil:
			p.durTotal += time.Since(j.StartedAt)
			p.durSamples++
			p.finishLocked(j, StatusCompleted, "")
		default:
			p.finishLocked(j, StatusFailed, err.Error())
		}

		p.signal()
	}()
}

// runJob executes the handler, converting panics into job failures so a
// misbehaving job type never takes the process down.
func (p *Pool) runJob(ctx context.Context, handler Handler, jobID string, jobType Type, payload json.RawMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("job_id", jobID).
				Str("job_type", string(jobType)).
				Interface("panic", r).
				Msg("job handler panicked")
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	jc := &JobContext{ID: jobID, Type: jobType, Payload: payload, pool: p}
	return handler(ctx, jc)
}

// finishLocked moves a job to a terminal state and emits the event.
// Callers hold p.mu.
func (p *Pool) finishLocked(job *Job, status Status, errMsg string) {
	if job.Status.Terminal() {
		return
	}
	job.Status = status
	job.Error = errMsg
	job.FinishedAt = time.Now()
	delete(p.payloads, job.ID)

	var kind EventKind
	switch status {
	case StatusCompleted:
		job.Progress = 1
		kind = JobCompleted
		p.stats.Completed++
	case StatusFailed:
		kind = JobFailed
		p.stats.Failed++
	case StatusCancelled:
		kind = JobCancelled
		p.stats.Cancelled++
	}
	metrics.IncJob(string(job.Type), string(status))

	p.publishLocked(Event{
		Kind:     kind,
		JobID:    job.ID,
		Type:     job.Type,
		Progress: job.Progress,
		Error:    errMsg,
	})
}

func (p *Pool) setProgress(jobID string, progress float64, stage string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	job, ok := p.jobs[jobID]
	if !ok || job.Status != StatusRunning {
		return
	}
	job.Progress = progress
	job.Stage = stage

	p.publishLocked(Event{
		Kind:     JobProgress,
		JobID:    jobID,
		Type:     job.Type,
		Progress: progress,
		Stage:    stage,
	})
}

func (p *Pool) publishLocked(ev Event) {
	for _, ch := range p.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

package worker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/intervue/moodline/internal/metrics"
	"github.com/intervue/moodline/internal/types"
	"github.com/rs/zerolog"
)

// The error messages double as the "error" strings callers see.
var (
	ErrNotStarted = errors.New("not started")
	ErrTimeout    = errors.New("Timeout") //nolint:staticcheck // wire string expected by the UI
	ErrSaturated  = errors.New("worker saturated")
	ErrStopped    = errors.New("worker stopped")
)

// pendingRequest is one in-flight id. done has room for exactly one result and
// only the goroutine that removed the entry from the pending map sends on it.
type pendingRequest struct {
	id        string
	createdAt time.Time
	done      chan types.Result
}

type outbound struct {
	id   string
	line []byte
}

// lineWriter owns the worker's stdin for one process lifetime. All lines go
// through its queue so they reach the pipe whole and in send order.
type lineWriter struct {
	w     io.Writer
	queue chan outbound
	quit  chan struct{}
}

// Channel multiplexes detection requests over a single worker's stdin/stdout.
type Channel struct {
	timeout    time.Duration
	maxPending int
	log        zerolog.Logger

	mu      sync.Mutex
	nextID  uint64
	pending map[string]*pendingRequest
	out     *lineWriter

	dropped atomic.Uint64
}

// NewChannel returns a detached channel; Send reports "not started" until Attach.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewChannel(timeout time.Duration, maxPending int, log zerolog.Logger) *Channel {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	if maxPending <= 0 {
		maxPending = DefaultMaxPending
	}
	return &Channel{
		timeout:    timeout,
		maxPending: maxPending,
		log:        log,
		pending:    make(map[string]*pendingRequest),
	}
}

// Attach starts writing requests to w, replacing any previous writer.
func (c *Channel) Attach(w io.Writer) {
	out := &lineWriter{
		w:     w,
		queue: make(chan outbound, c.maxPending),
		quit:  make(chan struct{}),
	}

	c.mu.Lock()
	if c.out != nil {
		close(c.out.quit)
	}
	c.out = out
	c.mu.Unlock()

	go c.writeLoop(out)
}

// Detach stops writing. Requests already pending keep waiting for their
// response or timeout.
func (c *Channel) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out != nil {
		close(c.out.quit)
		c.out = nil
	}
}

// Send writes one detection request and waits for its outcome. It never
// returns an error: every failure is folded into Result.Error.
func (c *Channel) Send(ctx context.Context, image string) types.Result {
	c.mu.Lock()
	if c.out == nil {
		c.mu.Unlock()
		metrics.RecordDetect(metrics.OutcomeNotStarted, 0)
		return types.ErrorResult(ErrNotStarted.Error())
	}
	if len(c.pending) >= c.maxPending {
		c.mu.Unlock()
		metrics.RecordDetect(metrics.OutcomeSaturated, 0)
		return types.ErrorResult(ErrSaturated.Error())
	}

	c.nextID++
	p := &pendingRequest{
		id:        strconv.FormatUint(c.nextID, 10),
		createdAt: time.Now(),
		done:      make(chan types.Result, 1),
	}
	line, err := json.Marshal(types.DetectionRequest{ID: p.id, Image: image})
	if err != nil {
		c.mu.Unlock()
		metrics.RecordDetect(metrics.OutcomeWriteFailed, 0)
		return types.ErrorResult("write failed: " + err.Error())
	}
	line = append(line, '\n')

	select {
	case c.out.queue <- outbound{id: p.id, line: line}:
	default:
		c.mu.Unlock()
		metrics.RecordDetect(metrics.OutcomeSaturated, 0)
		return types.ErrorResult(ErrSaturated.Error())
	}
	c.pending[p.id] = p
	metrics.PendingRequests.Inc()
	c.mu.Unlock()

	return c.await(ctx, p)
}

func (c *Channel) await(ctx context.Context, p *pendingRequest) types.Result {
	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case res := <-p.done:
		return res
	case <-timer.C:
		return c.expire(p, ErrTimeout.Error(), metrics.OutcomeTimeout)
	case <-ctx.Done():
		return c.expire(p, ctx.Err().Error(), metrics.OutcomeCanceled)
	}
}

// expire settles p with msg unless another path got there first, in which case
// that path's result is already on its way.
func (c *Channel) expire(p *pendingRequest, msg, outcome string) types.Result {
	if c.take(p.id) == nil {
		return <-p.done
	}
	c.log.Debug().Str("id", p.id).Dur("waited", time.Since(p.createdAt)).Msg(msg)
	metrics.RecordDetect(outcome, time.Since(p.createdAt))
	return types.ErrorResult(msg)
}

// take removes and returns the pending entry for id, or nil if it is gone.
func (c *Channel) take(id string) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	metrics.PendingRequests.Dec()
	return p
}

func (c *Channel) writeLoop(out *lineWriter) {
	for {
		select {
		case <-out.quit:
			return
		case msg := <-out.queue:
			if _, err := out.w.Write(msg.line); err != nil {
				c.log.Warn().Err(err).Str("id", msg.id).Msg("write to worker failed")
				if p := c.take(msg.id); p != nil {
					metrics.RecordDetect(metrics.OutcomeWriteFailed, 0)
					p.done <- types.ErrorResult("write failed: " + err.Error())
				}
			}
		}
	}
}

// HandleLine routes one stdout line. It reports whether the line parsed as a
// JSON object, which is all the supervisor needs to call the worker ready.
func (c *Channel) HandleLine(line []byte) bool {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return false
	}
	if line[0] != '{' {
		c.drop(metrics.DropMalformed, line)
		return false
	}

	var resp types.DetectionResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		c.drop(metrics.DropMalformed, line)
		return false
	}

	if resp.ID == nil || *resp.ID == "" {
		if resp.Error != nil {
			metrics.RecordDroppedLine(metrics.DropGlobalErr)
			c.log.Error().Str("worker_error", *resp.Error).Msg("emotion worker reported an error")
			return true
		}
		c.drop(metrics.DropOrphan, line)
		return true
	}

	// A response must carry faces or an error to count as an answer.
	if resp.Faces == nil && resp.Error == nil {
		c.drop(metrics.DropMalformed, line)
		return true
	}

	p := c.take(*resp.ID)
	if p == nil {
		// Late (after timeout) or duplicate.
		c.drop(metrics.DropOrphan, line)
		return true
	}

	res := types.ResultFromResponse(resp)
	if res.Error != "" {
		metrics.RecordDetect(metrics.OutcomeWorkerError, time.Since(p.createdAt))
	} else {
		metrics.RecordDetect(metrics.OutcomeSuccess, time.Since(p.createdAt))
	}
	if len(resp.Debug) > 0 {
		c.log.Debug().Str("id", p.id).Int("faces", len(res.Faces)).Interface("debug", resp.Debug).Msg("worker debug")
	}
	p.done <- res
	return true
}

func (c *Channel) drop(reason string, line []byte) {
	c.dropped.Add(1)
	metrics.RecordDroppedLine(reason)
	const maxLogged = 200
	if len(line) > maxLogged {
		line = line[:maxLogged]
	}
	c.log.Debug().Str("reason", reason).Bytes("line", line).Msg("dropped worker output")
}

// FailAll settles every pending request with msg.
func (c *Channel) FailAll(msg, outcome string) {
	c.mu.Lock()
	all := make([]*pendingRequest, 0, len(c.pending))
	for id, p := range c.pending {
		all = append(all, p)
		delete(c.pending, id)
	}
	metrics.PendingRequests.Sub(float64(len(all)))
	c.mu.Unlock()

	for _, p := range all {
		metrics.RecordDetect(outcome, 0)
		p.done <- types.ErrorResult(msg)
	}
}

// Pending returns the number of requests awaiting a response.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Dropped returns how many stdout lines were discarded as noise.
func (c *Channel) Dropped() uint64 {
	return c.dropped.Load()
}

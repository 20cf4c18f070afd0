package proc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const DefaultRequestTimeout = 120 * time.Second

// Call is one in-flight request. It completes exactly once: with the final
// message, an engine error, a timeout, or a process failure.
type Call struct {
	ID string

	owner *Correlator
	timer *time.Timer
	done  chan struct{}
	once  sync.Once

	result json.RawMessage
	err    error

	mu       sync.Mutex
	partial  json.RawMessage
	partials int
}

func (c *Call) Done() <-chan struct{} { return c.done }

// Result is only meaningful after Done is closed.
func (c *Call) Result() (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.result, c.err
	default:
		return nil, fmt.Errorf("call %s still pending", c.ID)
	}
}

// Wait blocks until the call completes or ctx ends. A caller that gives up
// abandons the entry; a late response for it is ignored.
func (c *Call) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		if c.owner != nil {
			c.owner.complete(c.ID, nil, ctx.Err())
		}
		<-c.done
		return c.result, c.err
	}
}

// LastPartial returns the most recent non-final message and how many arrived.
func (c *Call) LastPartial() (json.RawMessage, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.partial, c.partials
}

func (c *Call) setPartial(raw json.RawMessage) {
	c.mu.Lock()
	c.partial = raw
	c.partials++
	c.mu.Unlock()
}

func (c *Call) finish(raw json.RawMessage, err error) {
	c.once.Do(func() {
		c.result = raw
		c.err = err
		close(c.done)
	})
}

type CorrelatorOption func(*Correlator)

func WithFinality(p FinalityPolicy) CorrelatorOption {
	return func(c *Correlator) {
		if p != nil {
			c.policy = p
		}
	}
}

// Correlator matches newline-delimited JSON responses to the requests that
// caused them. Ids come from a counter that is never reset, so they stay
// unique across process restarts.
type Correlator struct {
	logger *zap.Logger
	policy FinalityPolicy
	seq    atomic.Uint64

	mu      sync.Mutex
	pending map[string]*Call

	wmu sync.Mutex
	w   io.Writer
}

func NewCorrelator(logger *zap.Logger, opts ...CorrelatorOption) *Correlator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Correlator{
		logger:  logger,
		policy:  DefaultFinality,
		pending: make(map[string]*Call),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Attach sets the stream requests are written to.
func (c *Correlator) Attach(w io.Writer) {
	c.wmu.Lock()
	c.w = w
	c.wmu.Unlock()
}

func (c *Correlator) Detach() {
	c.Attach(nil)
}

func (c *Correlator) Attached() bool {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.w != nil
}

func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Send dispatches payload and waits for its final response.
func (c *Correlator) Send(ctx context.Context, payload any, timeout time.Duration) (json.RawMessage, error) {
	call, err := c.Dispatch(payload, timeout)
	if err != nil {
		return nil, err
	}
	return call.Wait(ctx)
}

// Dispatch allocates an id, merges it into payload (which must encode as a
// JSON object), arms the deadline and writes one line.
func (c *Correlator) Dispatch(payload any, timeout time.Duration) (*Call, error) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	id := fmt.Sprintf("t%d", c.seq.Add(1))
	line, err := withID(payload, id)
	if err != nil {
		return nil, err
	}

	call := &Call{ID: id, owner: c, done: make(chan struct{})}
	c.mu.Lock()
	c.pending[id] = call
	call.timer = time.AfterFunc(timeout, func() {
		c.complete(id, nil, fmt.Errorf("%w (id=%s after %s)", ErrTimeout, id, timeout))
	})
	c.mu.Unlock()

	c.wmu.Lock()
	w := c.w
	if w == nil {
		c.wmu.Unlock()
		c.complete(id, nil, ErrNotRunning)
		return nil, ErrNotRunning
	}
	_, werr := w.Write(line)
	c.wmu.Unlock()
	if werr != nil {
		err := fmt.Errorf("write request %s: %w", id, werr)
		c.complete(id, nil, err)
		return nil, err
	}
	return call, nil
}

// OnLine handles one line of engine output. It never panics on bad input and
// a malformed line never touches a pending entry.
func (c *Correlator) OnLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	env, err := decodeEnvelope(line)
	if err != nil {
		c.logger.Warn("engine protocol error: malformed line dropped",
			zap.Error(err),
			zap.String("line", truncate(string(line), 256)),
		)
		return
	}
	if env.ID == "" {
		if env.Error != "" {
			c.logger.Warn("engine error without request id", zap.String("error", env.Error))
		}
		return
	}

	c.mu.Lock()
	call, ok := c.pending[env.ID]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("engine response for unknown or expired id", zap.String("id", env.ID))
		return
	}

	if env.Error != "" {
		c.complete(env.ID, nil, &EngineError{ID: env.ID, Message: env.Error, Field: env.ErrorField})
		return
	}
	if env.Has("warning") {
		c.logger.Warn("engine warning", zap.String("id", env.ID), zap.ByteString("warning", env.Fields["warning"]))
	}
	if c.policy.IsFinal(env) {
		c.complete(env.ID, env.Raw, nil)
		return
	}
	call.setPartial(env.Raw)
}

// FailAll rejects every pending request with err and returns how many there
// were.
func (c *Correlator) FailAll(err error) int {
	c.mu.Lock()
	calls := c.pending
	c.pending = make(map[string]*Call)
	c.mu.Unlock()

	for _, call := range calls {
		if call.timer != nil {
			call.timer.Stop()
		}
		call.finish(nil, err)
	}
	if len(calls) > 0 {
		c.logger.Warn("failed pending engine requests", zap.Int("count", len(calls)), zap.Error(err))
	}
	return len(calls)
}

// complete removes id from the pending map and finishes its call. Only the
// first completion for an id has any effect.
func (c *Correlator) complete(id string, raw json.RawMessage, err error) {
	c.mu.Lock()
	call, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	if call.timer != nil {
		call.timer.Stop()
	}
	call.finish(raw, err)
}

func withID(payload any, id string) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("request payload must be a JSON object")
	}
	idRaw, _ := json.Marshal(id)
	fields["id"] = idRaw
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return append(out, '\n'), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Package transport owns the serial link to a CAT device. A single goroutine
// reads reply lines, dispatches them and drains a FIFO of requests with at
// most one command in flight.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roffe/gorig/pkg/property"
	"github.com/roffe/gorig/pkg/wire"
	"go.uber.org/zap"
)

const (
	DefaultAckTimeout   = time.Second
	DefaultWakeInterval = time.Second
	DefaultMaxRetries   = 10
)

var (
	ErrRetriesExhausted = errors.New("device kept answering with error replies")
	ErrStopped          = errors.New("transport stopped")
)

// RetryError is returned by Run when the device rejected the same command
// more often than the retry bound allows.
type RetryError struct {
	Command string
	Code    string
	Retries int
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%s: %q answered %q after %d retries", ErrRetriesExhausted, e.Command, e.Code, e.Retries)
}

func (e *RetryError) Unwrap() error { return ErrRetriesExhausted }

func (e *RetryError) Unrecoverable() bool { return true }

// Request is one queued unit of work.
type Request struct {
	// Name is used in log output only.
	Name string
	// Encode is called when the request is dequeued. Returning false drops it.
	Encode func() (string, bool)
	// Expect is the reply code that completes the request. Empty means the
	// request is done as soon as it is written.
	Expect string
	// Followup is written right after the command, e.g. a query refreshing
	// the value of a non-echoing set.
	Followup string
	// Done is called from the loop once the round trip is over. acked is
	// false on timeout, drop or shutdown.
	Done func(acked bool)
}

// LineHandler receives every well formed reply line. ctx is tagged with
// property.LoopContext.
type LineHandler func(ctx context.Context, code, fields string)

type Config struct {
	AckTimeout   time.Duration
	WakeInterval time.Duration
	MaxRetries   int
	Logger       *zap.Logger
}

type Transport struct {
	port    Port
	handler LineHandler
	cfg     Config
	log     *zap.Logger

	mu     sync.Mutex
	queue  []*Request
	closed bool
	final  string

	// loop owned
	inflight *Request
	lastSent string
	sentAt   time.Time
	lastWake time.Time

	state      atomic.Int32
	retries    atomic.Int32
	poweredOff atomic.Bool

	sentBytes, recvBytes, lines, errs, retried, timeouts, desyncs atomic.Uint64

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	abort    chan error

	errOnce sync.Once
	err     error
}

func New(port Port, handler LineHandler, cfg Config) *Transport {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	if cfg.WakeInterval < time.Second {
		cfg.WakeInterval = DefaultWakeInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Transport{
		port:    port,
		handler: handler,
		cfg:     cfg,
		log:     cfg.Logger.Named("transport"),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		abort:   make(chan error, 1),
	}
}

// Enqueue appends r to the FIFO. It never blocks.
func (t *Transport) Enqueue(r *Request) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrStopped
	}
	t.queue = append(t.queue, r)
	return nil
}

// Pending is the number of queued requests, not counting the one in flight.
func (t *Transport) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

func (t *Transport) State() State { return State(t.state.Load()) }

// Retries is the number of resends used by the current or last command.
func (t *Transport) Retries() int { return int(t.retries.Load()) }

// SetPoweredOff switches the wake probe on or off.
func (t *Transport) SetPoweredOff(off bool) {
	t.poweredOff.Store(off)
}

func (t *Transport) Stats() Stats {
	return Stats{
		SentBytes: t.sentBytes.Load(),
		RecvBytes: t.recvBytes.Load(),
		Lines:     t.lines.Load(),
		Errors:    t.errs.Load(),
		Retries:   t.retried.Load(),
		Timeouts:  t.timeouts.Load(),
		Desyncs:   t.desyncs.Load(),
	}
}

// Done is closed when the loop has exited.
func (t *Transport) Done() <-chan struct{} { return t.done }

// Err is the fatal error that ended the loop, if any.
func (t *Transport) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Stop writes final (if not empty) and ends the loop, waiting for it to exit.
func (t *Transport) Stop(final string) {
	t.stopOnce.Do(func() {
		t.mu.Lock()
		t.final = final
		t.mu.Unlock()
		close(t.stop)
	})
	<-t.done
}

// Fail ends the loop with err from outside the loop. Only the first error
// is kept.
func (t *Transport) Fail(err error) {
	select {
	case t.abort <- err:
	default:
	}
}

func (t *Transport) fail(err error) {
	t.errOnce.Do(func() {
		t.err = err
	})
}

// Run is the reader/dispatcher loop. It returns when ctx is cancelled, Stop is
// called or a fatal error occurs. The port is closed on return.
func (t *Transport) Run(ctx context.Context) error {
	defer close(t.done)
	defer t.shutdown()

	loopCtx := property.LoopContext(ctx)
	if err := t.port.SetRTS(true); err != nil {
		t.log.Debug("failed to assert RTS", zap.Error(err))
	}
	t.setState(StateAwaitingLine)

	buff := bytes.NewBuffer(nil)
	readBuffer := make([]byte, 64)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.stop:
			return nil
		case err := <-t.abort:
			t.fail(err)
			return t.err
		default:
		}

		t.pump(time.Now())
		if t.err != nil {
			return t.err
		}

		n, err := t.port.Read(readBuffer)
		if err != nil {
			select {
			case <-t.stop:
				return nil
			default:
			}
			t.fail(fmt.Errorf("failed to read com port: %w", err))
			return t.err
		}
		if n == 0 {
			continue
		}
		t.recvBytes.Add(uint64(n))
		for _, b := range readBuffer[:n] {
			switch b {
			case '\r', '\n':
				continue
			case wire.Terminator:
				line := buff.String()
				buff.Reset()
				t.handleLine(loopCtx, line)
				if t.err != nil {
					return t.err
				}
				continue
			}
			buff.WriteByte(b)
		}
	}
}

func (t *Transport) handleLine(ctx context.Context, line string) {
	t.log.Debug("<i> " + line + ";")
	code, fields, err := wire.Split(line)
	if err != nil {
		// a bare ";" is the echo of a wake probe
		if line != "" {
			t.desyncs.Add(1)
			t.log.Warn("discarded malformed reply", zap.String("line", line), zap.Error(err))
		}
		return
	}
	t.lines.Add(1)
	if wire.IsError(code) {
		t.resend(code)
		return
	}
	if t.handler != nil {
		t.handler(ctx, code, fields)
	}
	if t.inflight != nil && code == t.inflight.Expect {
		t.complete(true)
	}
}

func (t *Transport) resend(code string) {
	t.errs.Add(1)
	if t.lastSent == "" {
		t.log.Warn("error reply with nothing to resend", zap.String("code", code))
		return
	}
	n := int(t.retries.Load())
	if n >= t.cfg.MaxRetries {
		t.fail(&RetryError{Command: t.lastSent, Code: code, Retries: n})
		return
	}
	t.retries.Add(1)
	t.retried.Add(1)
	t.log.Debug("resending after error reply", zap.String("code", code), zap.String("command", t.lastSent), zap.Int("retry", n+1))
	t.write(t.lastSent)
	t.sentAt = time.Now()
}

// pump advances the send side: ack timeout, next request, wake probe.
func (t *Transport) pump(now time.Time) {
	if t.inflight != nil {
		if now.Sub(t.sentAt) < t.cfg.AckTimeout {
			return
		}
		t.timeouts.Add(1)
		t.log.Warn("no reply", zap.String("request", t.inflight.Name), zap.String("expect", t.inflight.Expect))
		t.complete(false)
	}
	if r := t.dequeue(); r != nil {
		t.send(r, now)
		return
	}
	if t.poweredOff.Load() {
		t.setState(StatePoweredOffWake)
		if now.Sub(t.lastWake) >= t.cfg.WakeInterval {
			t.lastWake = now
			// error replies to the probe are not resent
			t.lastSent = ""
			t.write(string(wire.Terminator))
		}
		return
	}
	t.setState(StateAwaitingLine)
}

func (t *Transport) dequeue() *Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return nil
	}
	r := t.queue[0]
	t.queue[0] = nil
	t.queue = t.queue[1:]
	return r
}

func (t *Transport) send(r *Request, now time.Time) {
	cmd, ok := r.Encode()
	if !ok {
		if r.Done != nil {
			r.Done(false)
		}
		return
	}
	out := cmd + r.Followup
	t.retries.Store(0)
	t.lastSent = out
	t.write(out)
	if r.Expect == "" {
		if r.Done != nil {
			r.Done(true)
		}
		return
	}
	t.inflight = r
	t.sentAt = now
	t.setState(StateAwaitingAck)
}

func (t *Transport) complete(acked bool) {
	r := t.inflight
	t.inflight = nil
	t.setState(StateAwaitingLine)
	if r.Done != nil {
		r.Done(acked)
	}
}

func (t *Transport) write(s string) {
	t.log.Debug("<o> " + s)
	n, err := t.port.Write([]byte(s))
	t.sentBytes.Add(uint64(n))
	if err != nil {
		t.log.Error("failed to write to com port", zap.String("data", s), zap.Error(err))
	}
	if err := t.port.SetRTS(true); err != nil {
		t.log.Debug("failed to assert RTS", zap.Error(err))
	}
}

func (t *Transport) setState(s State) {
	t.state.Store(int32(s))
}

// shutdown writes the final command, releases every queued request and
// closes the port.
func (t *Transport) shutdown() {
	t.mu.Lock()
	t.closed = true
	final := t.final
	queue := t.queue
	t.queue = nil
	t.mu.Unlock()

	if final != "" && t.err == nil {
		t.write(final)
	}
	if t.inflight != nil {
		t.complete(false)
	}
	for _, r := range queue {
		if r.Done != nil {
			r.Done(false)
		}
	}
	t.setState(StateIdle)
	if err := t.port.Close(); err != nil {
		t.log.Debug("failed to close port", zap.Error(err))
	}
}

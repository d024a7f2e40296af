package internal

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/edwingeng/deque/v2"
	"github.com/jpillora/backoff"
)

// Driver runs the request/response protocol over one connection.
//
// The protocol carries no request identifiers, so replies are matched to requests
// purely by order. The driver therefore keeps at most one request in flight and
// queues everything issued meanwhile, writing the next one only once the previous
// reply arrived.
type Driver struct {
	opts   Options
	dialer Dialer
	log    ContextLogger

	mu        sync.Mutex
	state     State
	addr      string
	gen       uint64
	transport Transport
	queue     *deque.Deque[*Request]
	inflight  *Request
	lastErr   error

	// set while a dial or the reconnect loop is running
	cancel  context.CancelFunc
	settled chan struct{}
}

var _ RawClient = (*Driver)(nil)

func NewDriver(dialer Dialer, opts Options) *Driver {
	if dialer == nil {
		dialer = NewTCPDialer(opts)
	}
	return &Driver{
		opts:   opts,
		dialer: dialer,
		log:    NewContextLoggerFor(opts.Logger, "internal"),
		queue:  deque.NewDeque[*Request](),
	}
}

func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Queued returns the number of requests waiting behind the in-flight one.
func (d *Driver) Queued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Len()
}

func (d *Driver) InFlight() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inflight != nil
}

func (d *Driver) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

// Connect dials host:port. It is only valid while disconnected.
func (d *Driver) Connect(ctx context.Context, host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	log := d.log.InFunc("Connect").WithAddr(addr)

	d.mu.Lock()
	if d.state != Disconnected {
		state := d.state
		d.mu.Unlock()
		return fmt.Errorf("%w: connect while %s", ErrInvalidState, state)
	}
	ctx, cancel := context.WithCancel(ctx)
	settled := make(chan struct{})
	d.addr = addr
	d.state = Connecting
	d.lastErr = nil
	d.cancel = cancel
	d.settled = settled
	d.mu.Unlock()

	defer close(settled)
	defer cancel()

	log.Debug("dialing")
	t, err := d.dialer.Dial(ctx, addr)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil && d.state != Connecting {
		// Disconnect was called while the dial was completing
		_ = t.Close()
		err = context.Canceled
	}
	if err != nil {
		cerr := &ConnectionError{Addr: addr, Err: err}
		d.state = Disconnected
		d.lastErr = cerr
		d.failQueued(cerr)
		log.WithError(err).Debug("connect failed")
		return cerr
	}
	d.attach(t)
	log.Debug("connected")
	return nil
}

// Disconnect closes the connection and returns once the transport confirmed it.
// Calling it while disconnected does nothing.
func (d *Driver) Disconnect() {
	d.mu.Lock()
	if d.state == Disconnected {
		d.mu.Unlock()
		return
	}
	d.state = Closing
	t := d.transport
	cancel, settled := d.cancel, d.settled
	d.mu.Unlock()

	if t == nil {
		// dialing or reconnecting
		if cancel != nil {
			cancel()
		}
		if settled != nil {
			<-settled
		}
		return
	}
	_ = t.Close()
	<-t.Done()
}

// Dispatch sends a command, or queues it behind the request in flight, and returns
// the channel its single Response will be delivered on.
func (d *Driver) Dispatch(name string, args ...string) <-chan Response {
	cmd, err := EncodeCommand(d.opts.ArgPolicy, name, args...)
	rq := newRequest(cmd)
	if err != nil {
		rq.fail(err)
		return rq.responseChannel
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.state == Disconnected || d.state == Closing:
		rq.fail(d.notConnected())
	case d.opts.MaxQueued > 0 && d.queue.Len() >= d.opts.MaxQueued:
		rq.fail(ErrConnectionOverloaded)
	default:
		d.queue.PushBack(rq)
		d.drain()
	}
	return rq.responseChannel
}

func (d *Driver) notConnected() error {
	if d.lastErr != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, d.lastErr)
	}
	return ErrNotConnected
}

// attach makes t the live transport. Callers hold d.mu.
func (d *Driver) attach(t Transport) {
	d.gen++
	gen := d.gen
	d.transport = t
	d.state = Connected
	t.Start(func(ev Event) { d.handle(gen, ev) })
	d.drain()
}

// handle is the single entry point for transport events.
func (d *Driver) handle(gen uint64, ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.gen {
		return
	}
	switch ev.Kind {
	case DataReceived:
		d.receive(ev.Data)
	case TransportFailed:
		d.transportFailed(ev.Err)
	case Closed:
		d.closed()
	}
}

func (d *Driver) receive(data []byte) {
	if d.inflight == nil {
		d.log.InFunc("receive").WithAddr(d.addr).Debugf("dropping reply with no request in flight: %q", data)
		return
	}
	rq := d.inflight
	d.inflight = nil
	rq.resolve(strings.TrimRightFunc(string(data), unicode.IsSpace))
	d.drain()
}

func (d *Driver) transportFailed(err error) {
	log := d.log.InFunc("transportFailed").WithAddr(d.addr)
	if d.inflight != nil {
		rq := d.inflight
		d.inflight = nil
		log.WithError(err).Debug("failing request in flight")
		rq.fail(&TransportError{Err: err})
		d.drain()
		return
	}

	log.WithError(err).Warn("connection failed")
	d.lastErr = err
	d.state = Disconnected
	// whatever the dead transport reports from here on is ignored
	d.gen++
	if d.transport != nil {
		_ = d.transport.Close()
		d.transport = nil
	}
	d.failQueued(&TransportError{Err: err})
}

func (d *Driver) closed() {
	prev := d.state
	d.transport = nil
	if d.inflight != nil {
		rq := d.inflight
		d.inflight = nil
		rq.fail(ErrConnectionClosed)
	}
	if prev == Connected && d.opts.Reconnect {
		d.startReconnect()
		return
	}
	d.state = Disconnected
	d.failQueued(ErrConnectionClosed)
	d.log.InFunc("closed").WithAddr(d.addr).Debug("disconnected")
}

// drain writes queued requests until one is in flight.
func (d *Driver) drain() {
	for d.inflight == nil && d.state == Connected && d.queue.Len() > 0 {
		rq := d.queue.PopFront()
		d.inflight = rq
		if err := d.transport.Write(rq.command); err != nil {
			d.inflight = nil
			rq.fail(&TransportError{Err: err})
		}
	}
}

func (d *Driver) failQueued(err error) {
	for d.queue.Len() > 0 {
		d.queue.PopFront().fail(err)
	}
}

func (d *Driver) startReconnect() {
	ctx, cancel := context.WithCancel(context.Background())
	settled := make(chan struct{})
	d.state = Connecting
	d.cancel = cancel
	d.settled = settled
	go d.reconnect(ctx, cancel, d.addr, settled)
}

func (d *Driver) reconnect(ctx context.Context, cancel context.CancelFunc, addr string, settled chan struct{}) {
	defer close(settled)
	defer cancel()
	log := d.log.InFunc("reconnect").WithAddr(addr)

	b := &backoff.Backoff{
		Factor: 2,
		Jitter: true,
		Min:    d.opts.ReconnectMin,
		Max:    d.opts.ReconnectMax,
	}
	attempts := d.opts.ReconnectAttempts
	if attempts <= 0 {
		attempts = DefaultReconnectAttempts
	}

	var err error
	for i := 0; i < attempts; i++ {
		var t Transport
		t, err = d.dialer.Dial(ctx, addr)
		if err == nil {
			d.mu.Lock()
			if d.state != Connecting {
				d.mu.Unlock()
				_ = t.Close()
				err = context.Canceled
				break
			}
			d.attach(t)
			d.mu.Unlock()
			log.Infof("reconnected after %d attempt(s)", i+1)
			return
		}
		if ctx.Err() != nil || i == attempts-1 {
			break
		}

		wait := b.Duration()
		log.WithError(err).Infof("trying to reconnect, sleeping for %s", wait)
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	cerr := &ConnectionError{Addr: addr, Err: err}
	d.state = Disconnected
	d.lastErr = cerr
	d.failQueued(cerr)
	log.WithError(err).Warnf("tried %d times reconnecting, giving up", attempts)
}

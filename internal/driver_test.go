package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeTransport struct {
	mu       sync.Mutex
	sink     func(Event)
	writes   []string
	writeErr error
	closed   bool
	done     chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{done: make(chan struct{})}
}

func (f *fakeTransport) Start(sink func(Event)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sink = sink
}

func (f *fakeTransport) Write(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, string(p))
	return nil
}

// Close behaves like a socket: the reader notices and reports the close.
func (f *fakeTransport) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	sink := f.sink
	f.mu.Unlock()
	go func() {
		if sink != nil {
			sink(Event{Kind: Closed})
		}
		close(f.done)
	}()
	return nil
}

func (f *fakeTransport) Done() <-chan struct{} { return f.done }

func (f *fakeTransport) Written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

func (f *fakeTransport) emit(ev Event) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()
	sink(ev)
}

func (f *fakeTransport) reply(s string) {
	f.emit(Event{Kind: DataReceived, Data: []byte(s)})
}

// hangup simulates the remote closing the connection.
func (f *fakeTransport) hangup() {
	f.mu.Lock()
	f.closed = true
	sink := f.sink
	f.mu.Unlock()
	sink(Event{Kind: Closed})
	close(f.done)
}

type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	errs       []error
	dials      int
	block      chan struct{}
}

func (fd *fakeDialer) Dial(ctx context.Context, addr string) (Transport, error) {
	if fd.block != nil {
		select {
		case <-fd.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.dials++
	if len(fd.errs) > 0 {
		err := fd.errs[0]
		fd.errs = fd.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	t := newFakeTransport()
	fd.transports = append(fd.transports, t)
	return t, nil
}

func (fd *fakeDialer) last() *fakeTransport {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.transports[len(fd.transports)-1]
}

func (fd *fakeDialer) count() int {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.dials
}

func connected(t *testing.T, opts Options) (*Driver, *fakeDialer) {
	fd := &fakeDialer{}
	d := NewDriver(fd, opts)
	require.NoError(t, d.Connect(context.Background(), "127.0.0.1", 8079))
	require.Equal(t, Connected, d.State())
	return d, fd
}

func result(t *testing.T, ch <-chan Response) Response {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("response not delivered")
		return Response{}
	}
}

func pending(t *testing.T, ch <-chan Response) {
	t.Helper()
	select {
	case r := <-ch:
		t.Fatalf("unexpected response: %+v", r)
	default:
	}
}

func TestAtMostOneInFlight(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, fd := connected(t, DefaultOptions())
	tr := fd.last()

	n := 10
	chs := make([]<-chan Response, n)
	for i := 0; i < n; i++ {
		chs[i] = d.Dispatch("GET", fmt.Sprintf("key-%d", i))
	}

	assert.Equal(t, []string{"GET key-0\n"}, tr.Written(), "Expected exactly one write")
	assert.True(t, d.InFlight())
	assert.Equal(t, n-1, d.Queued())

	for i := 0; i < n; i++ {
		assert.Len(t, tr.Written(), i+1)
		assert.Equal(t, fmt.Sprintf("GET key-%d\n", i), tr.Written()[i], "Unexpected write order")
		tr.reply(fmt.Sprintf("value-%d\n", i))
	}

	for i, ch := range chs {
		r := result(t, ch)
		require.NoError(t, r.Error)
		assert.Equal(t, fmt.Sprintf("value-%d", i), r.Value)
	}
	assert.False(t, d.InFlight())
	assert.Equal(t, 0, d.Queued())

	d.Disconnect()
}

func TestFIFOResolution(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, fd := connected(t, DefaultOptions())
	tr := fd.last()

	c1 := d.Dispatch("SET", "a", "1")
	c2 := d.Dispatch("GET", "a")
	c3 := d.Dispatch("STRLEN", "a")

	tr.reply("R1\r\n")
	pending(t, c2)
	pending(t, c3)
	tr.reply("R2 \n")
	tr.reply("R3")

	assert.Equal(t, "R1", result(t, c1).Value)
	assert.Equal(t, "R2", result(t, c2).Value)
	assert.Equal(t, "R3", result(t, c3).Value)
	assert.Equal(t, []string{"SET a 1\n", "GET a\n", "STRLEN a\n"}, tr.Written())

	d.Disconnect()
}

func TestUnexpectedDataIgnored(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, fd := connected(t, DefaultOptions())
	tr := fd.last()

	tr.reply("stray\n")

	ch := d.Dispatch("GET", "k")
	tr.reply("v\n")
	r := result(t, ch)
	require.NoError(t, r.Error)
	assert.Equal(t, "v", r.Value)

	d.Disconnect()
}

func TestDisconnectIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	d := NewDriver(&fakeDialer{}, DefaultOptions())
	assert.NotPanics(t, d.Disconnect)
	assert.NotPanics(t, d.Disconnect)
	assert.Equal(t, Disconnected, d.State())

	require.NoError(t, d.Connect(context.Background(), "127.0.0.1", 8079))
	d.Disconnect()
	assert.Equal(t, Disconnected, d.State())
	assert.NotPanics(t, d.Disconnect)
}

func TestFailFastWhenNeverConnected(t *testing.T) {
	fd := &fakeDialer{}
	d := NewDriver(fd, DefaultOptions())

	for i := 0; i < 2; i++ {
		r := result(t, d.Dispatch("GET", "k"))
		assert.ErrorIs(t, r.Error, ErrNotConnected)
	}
	assert.Equal(t, 0, fd.count(), "Expected no dial")
	assert.Equal(t, 0, d.Queued())
}

func TestConnectFailure(t *testing.T) {
	dialErr := errors.New("connection refused")
	fd := &fakeDialer{errs: []error{dialErr}}
	d := NewDriver(fd, DefaultOptions())

	err := d.Connect(context.Background(), "127.0.0.1", 8079)
	var cerr *ConnectionError
	require.ErrorAs(t, err, &cerr)
	assert.ErrorIs(t, err, dialErr)
	assert.Equal(t, "127.0.0.1:8079", cerr.Addr)
	assert.Equal(t, Disconnected, d.State())

	r := result(t, d.Dispatch("GET", "k"))
	assert.ErrorIs(t, r.Error, ErrNotConnected)

	// usable for a fresh connect
	require.NoError(t, d.Connect(context.Background(), "127.0.0.1", 8079))
	d.Disconnect()
}

func TestConnectOnlyFromDisconnected(t *testing.T) {
	d, _ := connected(t, DefaultOptions())
	defer d.Disconnect()

	err := d.Connect(context.Background(), "127.0.0.1", 8079)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestQueuedWhileConnecting(t *testing.T) {
	defer goleak.VerifyNone(t)

	fd := &fakeDialer{block: make(chan struct{})}
	d := NewDriver(fd, DefaultOptions())

	errc := make(chan error, 1)
	go func() { errc <- d.Connect(context.Background(), "127.0.0.1", 8079) }()
	require.Eventually(t, func() bool { return d.State() == Connecting }, time.Second, time.Millisecond)

	c1 := d.Dispatch("SET", "k", "v")
	c2 := d.Dispatch("GET", "k")
	assert.Equal(t, 2, d.Queued())

	close(fd.block)
	require.NoError(t, <-errc)

	tr := fd.last()
	assert.Equal(t, []string{"SET k v\n"}, tr.Written())
	tr.reply("OK\n")
	tr.reply("v\n")
	assert.Equal(t, "OK", result(t, c1).Value)
	assert.Equal(t, "v", result(t, c2).Value)

	d.Disconnect()
}

func TestDisconnectWhileConnecting(t *testing.T) {
	defer goleak.VerifyNone(t)

	fd := &fakeDialer{block: make(chan struct{})}
	d := NewDriver(fd, DefaultOptions())

	errc := make(chan error, 1)
	go func() { errc <- d.Connect(context.Background(), "127.0.0.1", 8079) }()
	require.Eventually(t, func() bool { return d.State() == Connecting }, time.Second, time.Millisecond)

	ch := d.Dispatch("GET", "k")
	d.Disconnect()

	err := <-errc
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Disconnected, d.State())

	var cerr *ConnectionError
	assert.ErrorAs(t, result(t, ch).Error, &cerr)
}

func TestRemoteCloseFailsInFlight(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, fd := connected(t, DefaultOptions())
	tr := fd.last()

	inflight := d.Dispatch("GET", "missing")
	queued := d.Dispatch("GET", "other")

	tr.hangup()

	r := result(t, inflight)
	assert.ErrorIs(t, r.Error, ErrConnectionClosed)
	var terr *TransportError
	assert.False(t, errors.As(r.Error, &terr), "Expected a close, not a transport error")
	assert.ErrorIs(t, result(t, queued).Error, ErrConnectionClosed)
	assert.Equal(t, Disconnected, d.State())

	assert.ErrorIs(t, result(t, d.Dispatch("GET", "k")).Error, ErrNotConnected)
}

func TestTransportErrorFailsOnlyInFlight(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, fd := connected(t, DefaultOptions())
	tr := fd.last()

	c1 := d.Dispatch("GET", "a")
	c2 := d.Dispatch("GET", "b")

	ioErr := errors.New("connection reset by peer")
	tr.emit(Event{Kind: TransportFailed, Err: ioErr})

	r := result(t, c1)
	var terr *TransportError
	require.ErrorAs(t, r.Error, &terr)
	assert.ErrorIs(t, r.Error, ioErr)

	// the next request was promoted and written
	assert.Equal(t, []string{"GET a\n", "GET b\n"}, tr.Written())
	tr.reply("b\n")
	assert.Equal(t, "b", result(t, c2).Value)
	assert.Equal(t, Connected, d.State())

	d.Disconnect()
}

func TestTransportErrorWhileIdle(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, fd := connected(t, DefaultOptions())
	tr := fd.last()

	tr.emit(Event{Kind: TransportFailed, Err: errors.New("broken pipe")})
	assert.Equal(t, Disconnected, d.State())

	r := result(t, d.Dispatch("GET", "k"))
	assert.ErrorIs(t, r.Error, ErrNotConnected)
	assert.Empty(t, tr.Written())

	require.NoError(t, d.Connect(context.Background(), "127.0.0.1", 8079))
	d.Disconnect()
	<-tr.Done()
}

func TestWriteErrorFailsRequest(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, fd := connected(t, DefaultOptions())
	tr := fd.last()
	tr.writeErr = errors.New("write: broken pipe")

	r := result(t, d.Dispatch("SET", "k", "v"))
	var terr *TransportError
	assert.ErrorAs(t, r.Error, &terr)
	assert.False(t, d.InFlight())

	d.Disconnect()
}

func TestDisconnectFailsOutstanding(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, _ := connected(t, DefaultOptions())
	c1 := d.Dispatch("GET", "a")
	c2 := d.Dispatch("GET", "b")

	d.Disconnect()
	assert.Equal(t, Disconnected, d.State())
	assert.ErrorIs(t, result(t, c1).Error, ErrConnectionClosed)
	assert.ErrorIs(t, result(t, c2).Error, ErrConnectionClosed)
}

func TestMaxQueued(t *testing.T) {
	defer goleak.VerifyNone(t)

	opts := DefaultOptions()
	opts.MaxQueued = 2
	d, _ := connected(t, opts)

	d.Dispatch("GET", "a")
	d.Dispatch("GET", "b")
	d.Dispatch("GET", "c")
	r := result(t, d.Dispatch("GET", "d"))
	assert.ErrorIs(t, r.Error, ErrConnectionOverloaded)
	assert.Equal(t, 2, d.Queued())

	d.Disconnect()
}

func TestInvalidArgumentNotQueued(t *testing.T) {
	defer goleak.VerifyNone(t)

	opts := DefaultOptions()
	opts.ArgPolicy = ArgsReject
	d, fd := connected(t, opts)

	r := result(t, d.Dispatch("SET", "k", "two words"))
	assert.ErrorIs(t, r.Error, ErrInvalidArgument)
	assert.Empty(t, fd.last().Written())

	d.Disconnect()
}

func TestReconnectPreservesQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	opts := DefaultOptions()
	opts.Reconnect = true
	opts.ReconnectMin = time.Millisecond
	opts.ReconnectMax = 5 * time.Millisecond
	d, fd := connected(t, opts)
	first := fd.last()

	inflight := d.Dispatch("GET", "a")
	queued := d.Dispatch("GET", "b")

	first.hangup()
	assert.ErrorIs(t, result(t, inflight).Error, ErrConnectionClosed)

	require.Eventually(t, func() bool { return d.State() == Connected }, time.Second, time.Millisecond)
	second := fd.last()
	assert.NotSame(t, first, second)
	assert.Equal(t, []string{"GET b\n"}, second.Written())

	second.reply("b\n")
	assert.Equal(t, "b", result(t, queued).Value)

	d.Disconnect()
}

func TestReconnectGivesUp(t *testing.T) {
	defer goleak.VerifyNone(t)

	opts := DefaultOptions()
	opts.Reconnect = true
	opts.ReconnectAttempts = 2
	opts.ReconnectMin = time.Millisecond
	opts.ReconnectMax = 2 * time.Millisecond
	d, fd := connected(t, opts)
	first := fd.last()

	refused := errors.New("connection refused")
	fd.mu.Lock()
	fd.errs = []error{refused, refused}
	fd.mu.Unlock()

	first.Close()
	<-first.Done()
	// local Close through the transport looks like a remote hangup to the driver
	queued := d.Dispatch("GET", "a")

	r := result(t, queued)
	if !errors.Is(r.Error, ErrNotConnected) {
		var cerr *ConnectionError
		require.ErrorAs(t, r.Error, &cerr)
		assert.ErrorIs(t, r.Error, refused)
	}
	require.Eventually(t, func() bool { return d.State() == Disconnected }, time.Second, time.Millisecond)
	assert.Equal(t, 3, fd.count())
}

func TestDisconnectStopsReconnect(t *testing.T) {
	defer goleak.VerifyNone(t)

	opts := DefaultOptions()
	opts.Reconnect = true
	opts.ReconnectAttempts = 100
	opts.ReconnectMin = 50 * time.Millisecond
	opts.ReconnectMax = 50 * time.Millisecond
	d, fd := connected(t, opts)

	fd.mu.Lock()
	for i := 0; i < 100; i++ {
		fd.errs = append(fd.errs, errors.New("connection refused"))
	}
	fd.mu.Unlock()

	fd.last().hangup()
	require.Eventually(t, func() bool { return d.State() == Connecting }, time.Second, time.Millisecond)

	d.Disconnect()
	assert.Equal(t, Disconnected, d.State())
}

func TestStaleEventsIgnored(t *testing.T) {
	defer goleak.VerifyNone(t)

	d, fd := connected(t, DefaultOptions())
	old := fd.last()
	d.Disconnect()

	require.NoError(t, d.Connect(context.Background(), "127.0.0.1", 8079))
	cur := fd.last()

	ch := d.Dispatch("GET", "k")
	old.sink(Event{Kind: DataReceived, Data: []byte("stale\n")})
	pending(t, ch)

	cur.reply("fresh\n")
	assert.Equal(t, "fresh", result(t, ch).Value)

	d.Disconnect()
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "closing", Closing.String())
}

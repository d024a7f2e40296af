package internal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

const chunkSize = 4096

type TCPDialer struct {
	Timeout   time.Duration
	KeepAlive time.Duration
	Framing   Framing
}

func NewTCPDialer(opts Options) *TCPDialer {
	return &TCPDialer{Timeout: opts.DialTimeout, KeepAlive: opts.KeepAlive, Framing: opts.Framing}
}

func (td *TCPDialer) Dial(ctx context.Context, addr string) (Transport, error) {
	d := net.Dialer{Timeout: td.Timeout, KeepAlive: td.KeepAlive}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpTransport{
		conn:    conn,
		rw:      bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn)),
		framing: td.Framing,
		done:    make(chan struct{}),
	}, nil
}

type tcpTransport struct {
	conn      net.Conn
	rw        *bufio.ReadWriter
	framing   Framing
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (tc *tcpTransport) Start(sink func(Event)) {
	go tc.listen(sink)
}

func (tc *tcpTransport) Write(p []byte) error {
	if _, err := tc.rw.Write(p); err != nil {
		return err
	}
	return tc.rw.Flush()
}

func (tc *tcpTransport) Close() error {
	tc.closeOnce.Do(func() {
		tc.closeErr = tc.conn.Close()
	})
	return tc.closeErr
}

func (tc *tcpTransport) Done() <-chan struct{} { return tc.done }

func (tc *tcpTransport) listen(sink func(Event)) {
	defer close(tc.done)
	reader := tc.rw.Reader
	buf := make([]byte, chunkSize)
	for {
		var (
			data []byte
			err  error
		)
		switch tc.framing {
		case FrameChunk:
			var n int
			n, err = reader.Read(buf)
			if n > 0 {
				data = append([]byte(nil), buf[:n]...)
			}
		default:
			// a trailing line without '\n' before EOF is still a reply
			data, err = reader.ReadBytes('\n')
		}
		if len(data) > 0 {
			sink(Event{Kind: DataReceived, Data: data})
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				sink(Event{Kind: TransportFailed, Err: fmt.Errorf("error reading from server: %w", err)})
			}
			_ = tc.Close()
			sink(Event{Kind: Closed})
			return
		}
	}
}

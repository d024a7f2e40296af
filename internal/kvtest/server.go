// Package kvtest runs an in-process server speaking the line protocol, for tests,
// benchmarks and local experiments.
package kvtest

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jsp-lqk/linepipe/internal"
)

const (
	replyOK       = "OK"
	replyNull     = "null"
	replyFailed   = "FAILED"
	replyUnknown  = "Unknown command"
	replyWrongTyp = "ERR wrong type"
)

var log = internal.NewContextLogger("kvtest")

type Server struct {
	// CloseOn makes the server hang up instead of replying when it returns true.
	CloseOn func(args []string) bool

	store *Store

	mu    sync.Mutex
	ln    net.Listener
	conns map[net.Conn]struct{}
	done  bool
	wg    sync.WaitGroup
}

// NewServer starts a server on a random loopback port.
func NewServer() (*Server, error) {
	return NewServerAt("127.0.0.1:0")
}

func NewServerAt(addr string) (*Server, error) {
	s := &Server{}
	if err := s.Start(addr); err != nil {
		return nil, err
	}
	return s, nil
}

// Start listens on addr and serves in the background until Shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.Serve(ln)
	}()
	return nil
}

func (s *Server) Store() *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		s.store = NewStore()
	}
	return s.store
}

func (s *Server) Host() string {
	return s.tcpAddr().IP.String()
}

func (s *Server) Port() int {
	return s.tcpAddr().Port
}

func (s *Server) Addr() string {
	return s.tcpAddr().String()
}

func (s *Server) tcpAddr() *net.TCPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return &net.TCPAddr{}
	}
	return s.ln.Addr().(*net.TCPAddr)
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	store := s.Store()

	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return ln.Close()
	}
	s.ln = ln
	if s.conns == nil {
		s.conns = make(map[net.Conn]struct{})
	}
	s.mu.Unlock()

	log.InFunc("Serve").Infof("listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			done := s.done
			s.mu.Unlock()
			if done || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		s.mu.Lock()
		if s.done {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			s.handle(store, conn)
		}()
	}
}

// Shutdown stops accepting, drops every client connection and waits for the
// handlers to return.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.done = true
	if s.ln != nil {
		s.ln.Close()
	}
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) Close() { s.Shutdown() }

func (s *Server) handle(store *Store, conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		args := SplitArgs(line)
		if len(args) == 0 {
			continue
		}
		if s.CloseOn != nil && s.CloseOn(args) {
			log.InFunc("handle").Debugf("hanging up on %q", args)
			return
		}
		if _, err := w.WriteString(Execute(store, args) + "\n"); err != nil {
			return
		}
		if err := w.Flush(); err != nil {
			return
		}
	}
}

// Execute runs one command against store and returns its reply line.
func Execute(store *Store, args []string) string {
	cmd := strings.ToUpper(args[0])
	args = args[1:]

	need := func(n int) bool { return len(args) == n }
	usage := func(u string) string { return "Usage: " + u }
	reply := func(v string, ok bool, err error) string {
		switch {
		case err != nil:
			return replyWrongTyp
		case !ok:
			return replyNull
		default:
			return v
		}
	}

	switch cmd {
	case "SET":
		if !need(2) {
			return usage("set <key> <value>")
		}
		store.Set(args[0], args[1])
		return replyOK
	case "GET":
		if !need(1) {
			return usage("get <key>")
		}
		return reply(store.Get(args[0]))
	case "APPEND":
		if !need(2) {
			return usage("append <key> <value>")
		}
		if err := store.Append(args[0], args[1]); err != nil {
			return replyWrongTyp
		}
		return replyOK
	case "STRLEN":
		if !need(1) {
			return usage("strlen <key>")
		}
		v, ok, err := store.Get(args[0])
		if err != nil {
			return replyWrongTyp
		}
		if !ok {
			return "0"
		}
		return strconv.Itoa(len(v))
	case "INCR":
		if !need(1) {
			return usage("incr <key>")
		}
		n, err := store.Incr(args[0])
		if err != nil {
			return replyFailed
		}
		return strconv.FormatInt(n, 10)
	case "RPUSH", "LPUSH":
		if !need(2) {
			return usage(strings.ToLower(cmd) + " <key> <value>")
		}
		n, err := store.Push(args[0], args[1], cmd == "LPUSH")
		if err != nil {
			return replyWrongTyp
		}
		return strconv.Itoa(n)
	case "RPOP", "LPOP":
		if !need(1) {
			return usage(strings.ToLower(cmd) + " <key>")
		}
		return reply(store.Pop(args[0], cmd == "LPOP"))
	case "LLEN":
		if !need(1) {
			return usage("llen <key>")
		}
		n, err := store.Len(args[0])
		if err != nil {
			return replyWrongTyp
		}
		return strconv.Itoa(n)
	case "EXPIRE":
		if !need(2) {
			return usage("expire <key> <seconds>")
		}
		secs, err := strconv.Atoi(args[1])
		if err != nil {
			return usage("expire <key> <seconds>")
		}
		if !store.Expire(args[0], time.Duration(secs)*time.Second) {
			return replyNull
		}
		return replyOK
	case "TTL":
		if !need(1) {
			return usage("ttl <key>")
		}
		return strconv.FormatInt(store.TTL(args[0]), 10)
	case "PUB":
		if !need(2) {
			return usage("pub <channel> <message>")
		}
		// no subscribers are ever attached to the stub
		return "0"
	case "EXPORT":
		if !need(1) {
			return usage("export snapshot.bin")
		}
		if err := store.Export(args[0]); err != nil {
			log.InFunc("Execute").WithError(err).Errorf("exporting snapshot %s failed", args[0])
			return replyFailed
		}
		return replyOK
	default:
		return replyUnknown
	}
}

// SplitArgs splits a request line on whitespace. A double-quoted field may
// contain spaces and \" escapes.
func SplitArgs(line string) []string {
	var (
		args   []string
		cur    strings.Builder
		inWord bool
		quoted bool
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case quoted && c == '\\' && i+1 < len(line) && line[i+1] == '"':
			cur.WriteByte('"')
			i++
		case quoted && c == '"':
			quoted = false
		case quoted:
			cur.WriteByte(c)
		case c == '"' && !inWord:
			quoted, inWord = true, true
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			if inWord {
				args = append(args, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteByte(c)
			inWord = true
		}
	}
	if inWord {
		args = append(args, cur.String())
	}
	return args
}

func (s *Server) String() string {
	return fmt.Sprintf("kvtest.Server(%s)", s.Addr())
}

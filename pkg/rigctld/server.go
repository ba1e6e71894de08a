// Package rigctld serves a subset of the hamlib rigctld line protocol on top
// of a gorig.Rig, so logging and digital mode programs can share the cache.
package rigctld

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/roffe/gorig"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultAddr = "127.0.0.1:4532"

// hamlib return codes
const (
	rigOK       = 0
	rigEINVAL   = -1
	rigENIMPL   = -4
	rigETIMEOUT = -5
	rigEIO      = -6
	rigENAVAIL  = -11
)

type Server struct {
	rig gorig.Rig
	log *zap.Logger
	l   net.Listener

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func NewServer(addr string, rig gorig.Rig, log *zap.Logger) (*Server, error) {
	if addr == "" {
		addr = DefaultAddr
	}
	if log == nil {
		log = zap.NewNop()
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rigctld: %w", err)
	}
	return &Server{
		rig:   rig,
		log:   log.Named("rigctld"),
		l:     l,
		conns: make(map[net.Conn]struct{}),
	}, nil
}

func (s *Server) Addr() net.Addr { return s.l.Addr() }

// Run accepts connections until ctx is done or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errg, ctx := errgroup.WithContext(ctx)
	errg.Go(func() error {
		<-ctx.Done()
		s.Close()
		return nil
	})
	errg.Go(func() error {
		defer cancel()
		s.log.Info("listening", zap.Stringer("addr", s.l.Addr()))
		for {
			conn, err := s.l.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				return err
			}
			s.track(conn, true)
			errg.Go(func() error {
				defer s.track(conn, false)
				s.serve(ctx, conn)
				return nil
			})
		}
	})
	return errg.Wait()
}

// Close stops the listener and drops every client.
func (s *Server) Close() error {
	err := s.l.Close()
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) track(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[c] = struct{}{}
		return
	}
	delete(s.conns, c)
	c.Close()
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	log := s.log.With(zap.Stringer("remote", conn.RemoteAddr()))
	log.Debug("client connected")
	defer log.Debug("client gone")
	sc := bufio.NewScanner(conn)
	w := bufio.NewWriter(conn)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		out, quit := s.Exec(ctx, line)
		log.Debug("command", zap.String("line", line), zap.String("reply", out))
		w.WriteString(out)
		if err := w.Flush(); err != nil || quit {
			return
		}
	}
}

// Exec runs one command line and returns the reply text.
func (s *Server) Exec(ctx context.Context, line string) (string, bool) {
	var b strings.Builder
	args := strings.Fields(line)
	for len(args) > 0 {
		name := args[0]
		c, ok := lookup(name)
		if !ok {
			return reply(&b, rigENIMPL), false
		}
		if c.quit {
			return b.String(), true
		}
		if len(args)-1 < c.args {
			return reply(&b, rigEINVAL), false
		}
		if err := c.fn(ctx, s.rig, &b, args[1:1+c.args]); err != nil {
			s.log.Debug("command failed", zap.String("cmd", name), zap.Error(err))
			return reply(&b, code(err)), false
		}
		if c.set {
			reply(&b, rigOK)
		}
		args = args[1+c.args:]
	}
	return b.String(), false
}

func reply(b *strings.Builder, code int) string {
	fmt.Fprintf(b, "RPRT %d\n", code)
	return b.String()
}

var (
	errInvalid = errors.New("invalid argument")
	errUnknown = errors.New("value unknown")
)

func code(err error) int {
	var nr *gorig.NoReplyError
	switch {
	case errors.Is(err, errInvalid), errors.Is(err, gorig.ErrReadOnly):
		return rigEINVAL
	case errors.Is(err, errUnknown), errors.Is(err, gorig.ErrNotImplemented):
		return rigENAVAIL
	case errors.As(err, &nr), errors.Is(err, context.DeadlineExceeded):
		return rigETIMEOUT
	}
	return rigEIO
}

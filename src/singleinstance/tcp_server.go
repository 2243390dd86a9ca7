package singleinstance

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	residentHost           = "127.0.0.1"
	pingRequest            = "PING\n"
	pongResponse           = "PONG\n"
	generateRequest        = "GENERATE\n"
	generateOverlayRequest = "GENERATE OVERLAY\n"
	successResponse        = "SUCCESS\n"
	errorResponse          = "ERROR\n"
)

// tcpServer implements Server over TCP loopback.
type tcpServer struct {
	ports    PortRange
	log      *zap.SugaredLogger
	lis      net.Listener
	incoming chan *tcpConn
	port     int
	once     sync.Once
}

func newTcpServer(ports PortRange, log *zap.SugaredLogger) Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &tcpServer{ports: ports, log: log, incoming: make(chan *tcpConn, 8)}
}

// Start binds ONLY the start port of the configured range. If occupied, fail.
func (s *tcpServer) Start(ctx context.Context) error {
	if s.lis != nil {
		return nil
	}
	addr := fmt.Sprintf("%s:%d", residentHost, s.ports.Start)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Warnw("singleinstance: failed to bind", "addr", addr, "error", err)
		return err
	}
	s.lis = lis
	s.port = s.ports.Start
	s.log.Infow("singleinstance: listening", "addr", addr)
	go s.acceptLoop(ctx, lis)
	return nil
}

// Port returns the bound port (0 if not started).
func (s *tcpServer) Port() int { return s.port }

func (s *tcpServer) acceptLoop(ctx context.Context, lis net.Listener) {
	for {
		c, err := lis.Accept()
		if err != nil {
			return
		}
		remote := c.RemoteAddr().String()
		_ = c.SetDeadline(time.Now().Add(3 * time.Second))
		br := bufio.NewReader(c)
		line, _ := br.ReadString('\n')
		bw := bufio.NewWriter(c)

		var req Request
		switch line {
		case pingRequest:
			s.log.Debugw("singleinstance: PING -> PONG", "remote", remote)
			_, _ = bw.WriteString(pongResponse)
			_ = bw.Flush()
			_ = c.Close()
			continue
		case generateRequest:
		case generateOverlayRequest:
			req.Overlay = true
		default:
			s.log.Warnw("singleinstance: unknown request", "remote", remote, "line", line)
			_, _ = bw.WriteString(errorResponse + "unknown request")
			_ = bw.Flush()
			_ = c.Close()
			continue
		}

		_ = c.SetDeadline(time.Time{})
		s.log.Infow("singleinstance: generate request", "remote", remote, "overlay", req.Overlay)
		select {
		case s.incoming <- &tcpConn{c: c, r: req, w: bw}:
		case <-ctx.Done():
			_ = c.Close()
			return
		}
	}
}

func (s *tcpServer) Next(ctx context.Context) (Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case tc, ok := <-s.incoming:
		if !ok {
			return nil, net.ErrClosed
		}
		return tc, nil
	}
}

func (s *tcpServer) Close() error {
	s.once.Do(func() {
		if s.lis != nil {
			_ = s.lis.Close()
		}
	})
	return nil
}

type tcpConn struct {
	c net.Conn
	r Request
	w *bufio.Writer
}

func (tc *tcpConn) Request() Request { return tc.r }

func (tc *tcpConn) RespondSuccess(text string) error {
	if _, err := tc.w.WriteString(successResponse + text); err != nil {
		return err
	}
	return tc.w.Flush()
}

func (tc *tcpConn) RespondError(msg string) error {
	if _, err := tc.w.WriteString(errorResponse + msg); err != nil {
		return err
	}
	return tc.w.Flush()
}

func (tc *tcpConn) Close() error { return tc.c.Close() }

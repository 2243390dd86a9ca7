package singleinstance

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"time"
)

// DetectResidentPort scans the port range and returns (port, true) if a resident responds to PING.
func DetectResidentPort(ctx context.Context, ports PortRange) (int, bool) {
	deadline := pingTimeout(ctx, 300*time.Millisecond)
	r := ports.normalized()
	for port := r.Start; port <= r.End; port++ {
		if ctx.Err() != nil {
			return 0, false
		}
		addr := net.JoinHostPort(residentHost, strconv.Itoa(port))
		if ping(addr, deadline) {
			return port, true
		}
	}
	return 0, false
}

func pingTimeout(ctx context.Context, def time.Duration) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 && d < def {
			return d
		}
	}
	return def
}

func ping(addr string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))
	w := bufio.NewWriter(conn)
	if _, err := w.WriteString(pingRequest); err != nil {
		return false
	}
	if err := w.Flush(); err != nil {
		return false
	}
	br := bufio.NewReader(conn)
	resp, err := br.ReadString('\n')
	return err == nil && resp == pongResponse
}

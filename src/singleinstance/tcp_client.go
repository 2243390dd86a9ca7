package singleinstance

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

type tcpClient struct {
	ports PortRange
}

func newTcpClient(ports PortRange) Client { return &tcpClient{ports: ports} }

func (c *tcpClient) TryGenerate(ctx context.Context, overlay bool) (bool, string, error) {
	port, ok := DetectResidentPort(ctx, c.ports)
	if !ok {
		return false, "", nil
	}

	addr := net.JoinHostPort(residentHost, strconv.Itoa(port))
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return false, "", nil
	}
	defer conn.Close()

	// A generation can take as long as the AI server does; only the caller's
	// context bounds it.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	req := generateRequest
	if overlay {
		req = generateOverlayRequest
	}
	w := bufio.NewWriter(conn)
	if _, err := w.WriteString(req); err != nil {
		return true, "", fmt.Errorf("send request: %w", err)
	}
	if err := w.Flush(); err != nil {
		return true, "", fmt.Errorf("send request: %w", err)
	}

	br := bufio.NewReader(conn)
	status, err := br.ReadString('\n')
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return true, "", ctxErr
		}
		return true, "", fmt.Errorf("read response: %w", err)
	}
	body, _ := io.ReadAll(br)
	switch status {
	case successResponse:
		return true, string(body), nil
	case errorResponse:
		return true, "", errors.New(string(body))
	default:
		return true, "", fmt.Errorf("unexpected response %q", status)
	}
}

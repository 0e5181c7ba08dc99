// Package client speaks the foliant wire protocol: newline-delimited JSON
// over a plain TCP stream, one response per request.
//
// A [Client] owns one connection and serializes exchanges on it, so it is
// safe for concurrent use; callers that want parallel queries open several
// clients.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/foliantdb/foliant/pkg/engine"
)

// Recovery hints:
//   - ErrClosed: the client was closed; dial a new one.
//   - ErrProtocol: the stream died mid-exchange; the connection is gone and
//     the request's fate is unknown. Dial a new client before retrying.
//   - ErrQuery: the server executed nothing; fix the query and resend.
var (
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("client: closed")

	// ErrProtocol is returned when the stream ends before a response frame
	// arrives. The protocol has exactly one response per request, so an
	// early end-of-stream is a fatal violation, not a retryable hiccup.
	ErrProtocol = errors.New("client: protocol violation")

	// ErrQuery is returned when the server rejects or fails the query. The
	// wrapped text is the server's reason.
	ErrQuery = errors.New("client: query failed")
)

// response is the server's envelope: exactly one per request.
type response struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Client is a connection to a foliant server.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to a foliant server at addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	return &Client{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}, nil
}

// Do sends one query and returns the decoded result. A ctx deadline bounds
// the whole exchange; without one the exchange can block on the network
// indefinitely.
//
// Server-side failures (validation, unknown collection, and so on) return
// [ErrQuery]-wrapped errors and leave the connection healthy. Transport
// failures poison the connection; the client refuses further use.
func (c *Client) Do(ctx context.Context, q engine.Query) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil, ErrClosed
	}

	request, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	// A zero deadline clears any previous one.
	deadline, _ := ctx.Deadline()

	err = c.conn.SetDeadline(deadline)
	if err != nil {
		return nil, c.fail(fmt.Errorf("set deadline: %w", err))
	}

	_, err = c.conn.Write(append(request, '\n'))
	if err != nil {
		return nil, c.fail(fmt.Errorf("send query: %w", err))
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			// The server hung up without answering. The request may or may
			// not have executed; only the caller can decide what to do.
			return nil, c.fail(fmt.Errorf("%w: stream ended before a response", ErrProtocol))
		}

		return nil, c.fail(fmt.Errorf("read response: %w", err))
	}

	var resp response

	err = json.Unmarshal(line, &resp)
	if err != nil {
		return nil, c.fail(fmt.Errorf("%w: undecodable response: %v", ErrProtocol, err))
	}

	if !resp.OK {
		return nil, fmt.Errorf("%w: %s", ErrQuery, resp.Error)
	}

	if len(resp.Result) == 0 {
		return nil, nil
	}

	var result any

	err = json.Unmarshal(resp.Result, &result)
	if err != nil {
		return nil, c.fail(fmt.Errorf("%w: undecodable result: %v", ErrProtocol, err))
	}

	return result, nil
}

// fail tears the connection down after a transport error: the stream is out
// of sync, so no later exchange on it can be trusted.
func (c *Client) fail(err error) error {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	return err
}

// Close closes the connection. A closed client fails all later calls with
// [ErrClosed].
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrClosed
	}

	err := c.conn.Close()
	c.conn = nil

	if err != nil {
		return fmt.Errorf("close connection: %w", err)
	}

	return nil
}

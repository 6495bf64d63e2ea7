package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"strings"
	"time"
)

const dialTimeout = 5 * time.Second

// Client calls methods on a remote Service. Safe for concurrent use.
type Client struct {
	uri string
	rpc *rpc.Client
}

// Dial connects to the service at uri.
func Dial(uri string) (*Client, error) {
	network, addr, err := ParseURI(uri)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialTimeout(network, addr, dialTimeout)
	if err != nil {
		return nil, connError("dial "+uri, err)
	}
	return &Client{uri: uri, rpc: jsonrpc.NewClient(conn)}, nil
}

// URI returns the address this client is connected to.
func (c *Client) URI() string { return c.uri }

// Call invokes method and waits for the reply or ctx.
func (c *Client) Call(ctx context.Context, method string, args, reply any) error {
	call := c.rpc.Go(method, args, reply, make(chan *rpc.Call, 1))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case done := <-call.Done:
		return classify(method, done.Error)
	}
}

// Close drops the connection.
func (c *Client) Close() error {
	if err := c.rpc.Close(); err != nil && !errors.Is(err, rpc.ErrShutdown) {
		return err
	}
	return nil
}

// classify keeps application errors from the peer as they are and maps
// everything else (including a peer's refusal of an unreadable value) to
// ErrConnection.
func classify(method string, err error) error {
	if err == nil {
		return nil
	}
	var serverErr rpc.ServerError
	if errors.As(err, &serverErr) {
		msg := string(serverErr)
		if strings.Contains(msg, ErrConnection.Error()) {
			return fmt.Errorf("%s: %w (peer: %s)", method, ErrConnection, msg)
		}
		return fmt.Errorf("%s: %w", method, serverErr)
	}
	return connError(method, err)
}

package rpcpool

import (
	"fmt"
	"net/rpc"

	"github.com/shenjiangwei/gomalloc"
)

// Client is a remote handle to a Server's Heap.
type Client struct {
	conn *rpc.Client
}

// Dial connects to a Server listening at address.
func Dial(address string) (*Client, error) {
	conn, err := rpc.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("rpcpool: dial: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Allocate requests size bytes from the remote heap and returns an
// opaque handle identifying the block (never a dereferenceable
// pointer — the allocation lives in the server's address space).
func (c *Client) Allocate(size uint64) (uint64, error) {
	req := &AllocRequest{Size: size}
	resp := &AllocResponse{}
	if err := c.conn.Call("Server.Allocate", req, resp); err != nil {
		return 0, fmt.Errorf("rpcpool: allocate: %w", err)
	}
	if resp.Error != "" {
		return 0, fmt.Errorf("rpcpool: server: %s", resp.Error)
	}
	return resp.Handle, nil
}

// Free releases a handle previously returned by Allocate, returning the
// block's nominal size.
func (c *Client) Free(handle uint64) (uint64, error) {
	req := &FreeRequest{Handle: handle}
	resp := &FreeResponse{}
	if err := c.conn.Call("Server.Free", req, resp); err != nil {
		return 0, fmt.Errorf("rpcpool: free: %w", err)
	}
	if resp.Error != "" {
		return 0, fmt.Errorf("rpcpool: server: %s", resp.Error)
	}
	return resp.Size, nil
}

// Status fetches the remote heap's current statistics snapshot.
func (c *Client) Status() (gomalloc.HeapStatus, error) {
	resp := &StatusResponse{}
	if err := c.conn.Call("Server.Status", &struct{}{}, resp); err != nil {
		return gomalloc.HeapStatus{}, fmt.Errorf("rpcpool: status: %w", err)
	}
	return resp.Status, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

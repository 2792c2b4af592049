package rpcwire

import (
	"bufio"
	"context"
	"encoding/json"
	"log"
	"net"
	"sync"
)

// Client is a connection to a daemon RPC server. One Client can have
// several calls in flight concurrently (spec.md §4.I: "clients can issue
// concurrent queries"); each call may receive zero or more reverse
// "progress" callbacks from the server before its final response.
type Client struct {
	conn net.Conn
	fw   *frameWriter

	mu        sync.Mutex
	pending   map[string]chan envelope
	callbacks map[string]func(info string) string
}

// Dial connects to the daemon's Unix socket at socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conn:      conn,
		fw:        newFrameWriter(conn),
		pending:   map[string]chan envelope{},
		callbacks: map[string]func(info string) string{},
	}
	go c.readLoop(bufio.NewReader(conn))
	return c, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) readLoop(r *bufio.Reader) {
	for {
		e, err := readEnvelope(r)
		if err != nil {
			c.failAllPending(err)
			return
		}
		switch e.Kind {
		case kindResponse:
			c.mu.Lock()
			ch, ok := c.pending[e.ID]
			delete(c.pending, e.ID)
			c.mu.Unlock()
			if ok {
				ch <- e
			}
		case kindCallbackInvoke:
			c.mu.Lock()
			cb := c.callbacks[e.ID]
			c.mu.Unlock()
			reply := ""
			if cb != nil {
				reply = c.invokeCallback(cb, e.Info)
			}
			_ = c.fw.writeEnvelope(envelope{Kind: kindCallbackResult, ID: e.ID, CallbackID: e.CallbackID, Reply: reply})
		}
	}
}

// invokeCallback runs the caller's progress callback with panic recovery:
// a panicking callback must not take down the one readLoop goroutine every
// pending call on this connection depends on.
func (c *Client) invokeCallback(cb func(info string) string, info string) (reply string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("rpcwire: progress callback panicked: %v", r)
			reply = ""
		}
	}()
	return cb(info)
}

func (c *Client) failAllPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.pending {
		ch <- envelope{Kind: kindResponse, ID: id, Error: &ErrorEnvelope{Message: err.Error()}}
		delete(c.pending, id)
	}
}

// Call invokes op on the server, marshalling params as the request body
// and unmarshalling the response into result (skipped if result is nil).
// progress, if non-nil, is invoked once per reverse callback the server
// sends while the call is outstanding (spec.md §4.G's progress-callback
// operations: `index_blocking`, `rebuild_fts_index`); its return value is
// sent back as the callback's reply, matching the INTERRUPT sentinel
// smartindex.ProgressFunc understands.
func (c *Client) Call(ctx context.Context, op string, params, result interface{}, progress func(info string) string) error {
	id := newID("req")
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return err
	}

	ch := make(chan envelope, 1)
	c.mu.Lock()
	c.pending[id] = ch
	if progress != nil {
		c.callbacks[id] = progress
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.callbacks, id)
		c.mu.Unlock()
	}()

	if err := c.fw.writeEnvelope(envelope{Kind: kindRequest, ID: id, Op: op, Params: paramsJSON}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return err
	}

	select {
	case e := <-ch:
		if e.Error != nil {
			return e.Error
		}
		if result != nil && len(e.Result) > 0 {
			return json.Unmarshal(e.Result, result)
		}
		return nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	}
}

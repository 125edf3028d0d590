// msgpack-RPC transport used by the AirSim RPC server
package airsim

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	msgRequest  = 0
	msgResponse = 1
)

// ErrClosed is returned for calls issued on, or pending at, a closed connection.
var ErrClosed = errors.New("airsim: connection closed")

// RPCError carries an error value returned by the server.
type RPCError struct {
	Method string
	Value  interface{}
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("airsim: %s: %v", e.Method, e.Value)
}

// Call is an RPC in flight. Done is closed once Result or Err is set.
type Call struct {
	Method string
	Result msgpack.RawMessage
	Err    error
	Done   chan struct{}
}

// Completed returns a Call that has already finished with err.
func Completed(err error) *Call {
	c := &Call{Err: err, Done: make(chan struct{})}
	close(c.Done)
	return c
}

// Wait blocks until the call finishes and returns its error.
func (c *Call) Wait() error {
	<-c.Done
	return c.Err
}

// Decode waits for the call and unmarshals its result into v.
func (c *Call) Decode(v interface{}) error {
	if err := c.Wait(); err != nil {
		return err
	}
	if v == nil || len(c.Result) == 0 {
		return nil
	}
	if err := msgpack.Unmarshal(c.Result, v); err != nil {
		return fmt.Errorf("airsim: decode %s result: %w", c.Method, err)
	}
	return nil
}

func (c *Call) finish(result msgpack.RawMessage, err error) {
	c.Result = result
	c.Err = err
	close(c.Done)
}

// Conn multiplexes msgpack-RPC calls over one stream by message id.
type Conn struct {
	rwc io.ReadWriteCloser

	wmu sync.Mutex

	mu      sync.Mutex
	seq     uint32
	pending map[uint32]*Call
	err     error
}

// NewConn starts the response reader on rwc.
func NewConn(rwc io.ReadWriteCloser) *Conn {
	c := &Conn{rwc: rwc, pending: make(map[uint32]*Call)}
	go c.readLoop()
	return c
}

// DialConn opens a TCP connection to an RPC server.
func DialConn(ctx context.Context, addr string) (*Conn, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("airsim: dial %s: %w", addr, err)
	}
	return NewConn(nc), nil
}

// Go issues method asynchronously; the returned Call completes when the
// server answers.
func (c *Conn) Go(method string, params ...interface{}) *Call {
	call, _ := c.send(method, params)
	return call
}

// send registers and writes a request, returning the call and its id.
func (c *Conn) send(method string, params []interface{}) (*Call, uint32) {
	call := &Call{Method: method, Done: make(chan struct{})}
	if params == nil {
		params = []interface{}{}
	}

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		call.finish(nil, err)
		return call, 0
	}
	c.seq++
	id := c.seq
	c.pending[id] = call
	c.mu.Unlock()

	payload, err := msgpack.Marshal([]interface{}{msgRequest, id, method, params})
	if err != nil {
		if c.drop(id) {
			call.finish(nil, fmt.Errorf("airsim: encode %s: %w", method, err))
		}
		return call, id
	}

	c.wmu.Lock()
	_, err = c.rwc.Write(payload)
	c.wmu.Unlock()
	if err != nil && c.drop(id) {
		call.finish(nil, fmt.Errorf("airsim: write %s: %w", method, err))
	}
	return call, id
}

// Call issues method and waits for its result, decoding it into result
// when non-nil. Cancelling ctx abandons the wait and forgets the call; the
// server-side work still runs and its late reply is discarded.
func (c *Conn) Call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	call, id := c.send(method, params)
	select {
	case <-call.Done:
		return call.Decode(result)
	case <-ctx.Done():
		c.drop(id)
		return ctx.Err()
	}
}

// Close shuts the connection and fails pending calls with ErrClosed.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.err == nil {
		c.err = ErrClosed
	}
	c.mu.Unlock()
	return c.rwc.Close()
}

// drop unregisters id and reports whether it was still pending.
func (c *Conn) drop(id uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.pending[id]
	delete(c.pending, id)
	return ok
}

func (c *Conn) readLoop() {
	dec := msgpack.NewDecoder(bufio.NewReader(c.rwc))
	var err error
	for err == nil {
		err = c.readResponse(dec)
	}

	c.mu.Lock()
	if c.err == nil {
		c.err = ErrClosed
	}
	pending := c.pending
	c.pending = make(map[uint32]*Call)
	c.mu.Unlock()

	for _, call := range pending {
		call.finish(nil, ErrClosed)
	}
}

func (c *Conn) readResponse(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n != 4 {
		return fmt.Errorf("airsim: unexpected message length %d", n)
	}
	typ, err := dec.DecodeInt()
	if err != nil {
		return err
	}
	if typ != msgResponse {
		return fmt.Errorf("airsim: unexpected message type %d", typ)
	}
	id, err := dec.DecodeUint32()
	if err != nil {
		return err
	}
	errVal, err := dec.DecodeInterface()
	if err != nil {
		return err
	}
	result, err := dec.DecodeRaw()
	if err != nil {
		return err
	}

	c.mu.Lock()
	call, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if errVal != nil {
		call.finish(nil, &RPCError{Method: call.Method, Value: errVal})
		return nil
	}
	call.finish(result, nil)
	return nil
}

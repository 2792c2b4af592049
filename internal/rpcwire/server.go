package rpcwire

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/mvp-joe/codeindexd/internal/errkind"
)

// Handler answers one named RPC operation. Returning a non-nil error
// sends the uniform error envelope; the returned value (if any) is
// marshalled as the response's result.
type Handler func(ctx context.Context, call *Call) (any, error)

// Call is the server-side handle for one in-flight request: its
// parameters, and a way to invoke the client's reverse callback
// (spec.md §4.G's progress-bearing operations).
type Call struct {
	Op     string
	Params json.RawMessage

	conn *serverConn
	id   string
}

// Bind unmarshals the request's parameters into v.
func (c *Call) Bind(v any) error {
	if len(c.Params) == 0 {
		return nil
	}
	return json.Unmarshal(c.Params, v)
}

// Progress invokes the client's progress callback with info and returns
// its reply (e.g. smartindex.Interrupt). It blocks until the client
// responds.
func (c *Call) Progress(info string) (string, error) {
	return c.conn.invokeCallback(c.id, info)
}

// Server dispatches named operations over accepted connections. A single
// Server (and the handlers it wraps) is shared across every connection,
// matching spec.md §4.H's "a single service object is shared across all
// connections" requirement.
type Server struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewServer returns an empty Server; register operations with Handle.
func NewServer() *Server {
	return &Server{handlers: map[string]Handler{}}
}

// Handle registers a handler for op, replacing any existing one.
func (s *Server) Handle(op string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[op] = h
}

// Serve accepts connections on ln until ctx is cancelled or Accept
// fails. Every RPC runs on its own goroutine (spec.md §4.I: "every RPC
// runs on its own worker thread from the server's pool").
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

// serverConn tracks one client connection's in-flight reverse callbacks.
type serverConn struct {
	fw *frameWriter

	mu       sync.Mutex
	pendingCB map[string]chan string
}

func (sc *serverConn) invokeCallback(reqID, info string) (string, error) {
	cbID := newID("cb")
	ch := make(chan string, 1)
	sc.mu.Lock()
	sc.pendingCB[cbID] = ch
	sc.mu.Unlock()

	if err := sc.fw.writeEnvelope(envelope{Kind: kindCallbackInvoke, ID: reqID, CallbackID: cbID, Info: info}); err != nil {
		sc.mu.Lock()
		delete(sc.pendingCB, cbID)
		sc.mu.Unlock()
		return "", err
	}
	return <-ch, nil
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	sc := &serverConn{fw: newFrameWriter(conn), pendingCB: map[string]chan string{}}
	r := bufio.NewReader(conn)
	for {
		e, err := readEnvelope(r)
		if err != nil {
			return
		}
		switch e.Kind {
		case kindRequest:
			go s.dispatch(ctx, sc, e)
		case kindCallbackResult:
			sc.mu.Lock()
			ch, ok := sc.pendingCB[e.CallbackID]
			delete(sc.pendingCB, e.CallbackID)
			sc.mu.Unlock()
			if ok {
				ch <- e.Reply
			}
		}
	}
}

// dispatch runs one handler on its own goroutine (spec.md §4.I). A
// panicking handler must not take the whole daemon down with it: recover
// here and report it as an internal error to the caller instead, mirroring
// the thread exception hook called out in spec.md §9.
func (s *Server) dispatch(ctx context.Context, sc *serverConn, e envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("rpcwire: handler for %q panicked: %v", e.Op, r)
			_ = sc.fw.writeEnvelope(envelope{Kind: kindResponse, ID: e.ID, Error: &ErrorEnvelope{
				Message: fmt.Sprintf("internal error handling %s", e.Op),
				Kind:    string(errkind.Internal),
			}})
		}
	}()

	s.mu.RLock()
	h, ok := s.handlers[e.Op]
	s.mu.RUnlock()
	if !ok {
		_ = sc.fw.writeEnvelope(envelope{Kind: kindResponse, ID: e.ID, Error: &ErrorEnvelope{Message: "unknown operation: " + e.Op}})
		return
	}

	call := &Call{Op: e.Op, Params: e.Params, conn: sc, id: e.ID}
	result, err := h(ctx, call)
	if err != nil {
		_ = sc.fw.writeEnvelope(envelope{Kind: kindResponse, ID: e.ID, Error: &ErrorEnvelope{Message: err.Error(), Kind: string(errkind.KindOf(err))}})
		return
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		_ = sc.fw.writeEnvelope(envelope{Kind: kindResponse, ID: e.ID, Error: &ErrorEnvelope{Message: err.Error()}})
		return
	}
	_ = sc.fw.writeEnvelope(envelope{Kind: kindResponse, ID: e.ID, Result: resultJSON})
}

// Package rpc implements clusterlib's JSON-RPC-over-queues protocol: a
// request is a JSON envelope enqueued onto a recipient's recv queue,
// carrying an optional respQueueKey the recipient replies to.
package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clusterlib/clusterlib/common/clerr"
	"github.com/clusterlib/clusterlib/queue"
	"github.com/clusterlib/clusterlib/store"
)

// Request is the wire form of one RPC call: method, a params array whose
// first element is expected to be a JSON object, and a correlation id.
type Request struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	ID     string            `json:"id"`
}

// respQueueKeyParams is the shape recognised inside params[0] to route a
// reply back to the caller.
type respQueueKeyParams struct {
	RespQueueKey string `json:"respQueueKey"`
}

// ErrorObject is the envelope's error member on failure. Code follows the
// clerr.Kind ordinal so a client can recover the failure category without
// parsing Message.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Envelope is the JSON-RPC 1.0 reply: on success Result is set and Error
// is nil; on failure Result is nil and Error is set.
type Envelope struct {
	Result json.RawMessage `json:"result"`
	ID     string          `json:"id"`
	Error  *ErrorObject    `json:"error"`
}

func respQueueKeyOf(params []json.RawMessage) string {
	if len(params) == 0 {
		return ""
	}
	var p respQueueKeyParams
	if err := json.Unmarshal(params[0], &p); err != nil {
		return ""
	}
	return p.RespQueueKey
}

func newRequest(method string, params []json.RawMessage, respQueueKey string) (Request, error) {
	if respQueueKey != "" {
		augmented, err := mergeRespQueueKey(params, respQueueKey)
		if err != nil {
			return Request{}, err
		}
		params = augmented
	}
	return Request{Method: method, Params: params, ID: uuid.NewString()}, nil
}

func mergeRespQueueKey(params []json.RawMessage, respQueueKey string) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, len(params))
	copy(out, params)
	if len(out) == 0 {
		out = append(out, json.RawMessage("{}"))
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(out[0], &obj); err != nil {
		return nil, clerr.Wrap(clerr.KindRPCInvocation, err, "params[0] must be a JSON object")
	}
	if obj == nil {
		obj = map[string]json.RawMessage{}
	}
	encoded, err := json.Marshal(respQueueKey)
	if err != nil {
		return nil, clerr.Wrap(clerr.KindRPCInvocation, err, "failed to encode respQueueKey")
	}
	obj["respQueueKey"] = encoded
	merged, err := json.Marshal(obj)
	if err != nil {
		return nil, clerr.Wrap(clerr.KindRPCInvocation, err, "failed to encode params[0]")
	}
	out[0] = merged
	return out, nil
}

// ResponseClient owns one shared response queue and routes every reply
// landing on it, by request id, to whichever in-flight Call is waiting
// for that id — so many concurrent callers (and calls against different
// target recv queues) can share a single response queue instead of one
// Client per in-flight call. A reply whose id matches no current waiter
// (the caller already gave up, or a stale id from a previous process) is
// forwarded to completedQueue instead of being dropped.
type ResponseClient struct {
	respQueue      *queue.Queue
	completedQueue *queue.Queue
	respQueueKey   string

	mu      sync.Mutex
	waiters map[string]chan Envelope
	stopCh  chan struct{}
}

// NewResponseClient starts routing replies landing on respQueue, which
// servers are told to reply to as respQueueKey (respQueue's elements
// directory path).
func NewResponseClient(respQueue, completedQueue *queue.Queue, respQueueKey string) *ResponseClient {
	c := &ResponseClient{
		respQueue:      respQueue,
		completedQueue: completedQueue,
		respQueueKey:   respQueueKey,
		waiters:        map[string]chan Envelope{},
		stopCh:         make(chan struct{}),
	}
	go c.pump()
	return c
}

// Stop ends the routing loop. Calls still waiting for a reply return a
// cancellation error.
func (c *ResponseClient) Stop() {
	close(c.stopCh)
}

func (c *ResponseClient) pump() {
	const pollInterval = 250 * time.Millisecond
	ctx := context.Background()
	for {
		select {
		case <-c.stopCh:
			return
		default:
		}
		payload, _, ok, err := c.respQueue.Take(ctx, pollInterval)
		if err != nil || !ok {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			continue
		}
		c.mu.Lock()
		ch, found := c.waiters[env.ID]
		if found {
			delete(c.waiters, env.ID)
		}
		c.mu.Unlock()
		if found {
			ch <- env
			continue
		}
		if c.completedQueue != nil {
			_, _ = c.completedQueue.Put(ctx, payload)
		}
	}
}

// Call sends method(params) to targetRecvQueue and waits up to timeout for
// the reply carrying the matching id on this client's shared response
// queue. Safe to call concurrently from multiple goroutines: each call
// registers its own waiter keyed by request id, so unrelated in-flight
// calls never block one another.
func (c *ResponseClient) Call(ctx context.Context, targetRecvQueue *queue.Queue, method string, params []json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	req, err := newRequest(method, params, c.respQueueKey)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, clerr.Wrap(clerr.KindRPCInvocation, err, "failed to encode request")
	}

	ch := make(chan Envelope, 1)
	c.mu.Lock()
	c.waiters[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiters, req.ID)
		c.mu.Unlock()
	}()

	if _, err := targetRecvQueue.Put(ctx, data); err != nil {
		return nil, clerr.Wrap(clerr.KindRPCInvocation, err, "failed to enqueue request")
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutCh = t.C
	}
	select {
	case env := <-ch:
		if env.Error != nil {
			return nil, clerr.New(clerr.Kind(env.Error.Code), env.Error.Message)
		}
		return env.Result, nil
	case <-timeoutCh:
		return nil, clerr.New(clerr.KindRPCInvocation, "RPC call timed out waiting for response")
	case <-c.stopCh:
		return nil, clerr.New(clerr.KindRPCInvocation, "response client stopped")
	case <-ctx.Done():
		return nil, clerr.Wrap(clerr.KindRPCInvocation, ctx.Err(), "RPC call cancelled")
	}
}

// StatePersistence maps method-local names to persistable state. The
// factory package wires a PropertyList-backed implementation; methods that
// need no durable state may be given a nil persistence.
type StatePersistence interface {
	Get(ctx context.Context, name string) (json.RawMessage, bool, error)
	Set(ctx context.Context, name string, value json.RawMessage) error
	Erase(ctx context.Context, name string) error
}

// Method is one registered RPC verb.
type Method struct {
	CheckParams func(params []json.RawMessage) error
	Invoke      func(ctx context.Context, name string, params []json.RawMessage, persistence StatePersistence) (json.RawMessage, error)
}

// Server takes requests off recvQueue, dispatches them by method name, and
// enqueues the result. A reply that cannot be routed to the caller's own
// response queue is placed on completedQueue instead, so it is not lost.
type Server struct {
	store          store.Store
	recvQueue      *queue.Queue
	completedQueue *queue.Queue
	persistence    StatePersistence
	methods        map[string]Method
	stopCh         chan struct{}
}

// NewServer constructs a Server reading recvQueue and falling back to
// completedQueue for undeliverable replies.
func NewServer(st store.Store, recvQueue, completedQueue *queue.Queue, persistence StatePersistence) *Server {
	return &Server{
		store:          st,
		recvQueue:      recvQueue,
		completedQueue: completedQueue,
		persistence:    persistence,
		methods:        map[string]Method{},
		stopCh:         make(chan struct{}),
	}
}

// Register adds or replaces the method named name.
func (s *Server) Register(name string, m Method) {
	s.methods[name] = m
}

// Stop ends a running Serve loop after its current poll interval elapses.
func (s *Server) Stop() {
	close(s.stopCh)
}

// Serve blocks, polling recvQueue and dispatching requests, until ctx is
// cancelled or Stop is called.
func (s *Server) Serve(ctx context.Context) {
	const pollInterval = 250 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}
		payload, _, ok, err := s.recvQueue.Take(ctx, pollInterval)
		if err != nil || !ok {
			continue
		}
		s.handle(ctx, payload)
	}
}

func (s *Server) handle(ctx context.Context, payload []byte) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		s.deliverToCompleted(ctx, payload)
		return
	}

	result, invokeErr := s.dispatch(ctx, req)
	envelope := buildEnvelope(req.ID, result, invokeErr)
	data, err := json.Marshal(envelope)
	if err != nil {
		s.deliverToCompleted(ctx, payload)
		return
	}

	respQueueKey := respQueueKeyOf(req.Params)
	if respQueueKey == "" {
		s.deliverToCompletedBytes(ctx, data)
		return
	}
	if _, err := queue.PutTo(ctx, s.store, respQueueKey, data); err != nil {
		s.deliverToCompletedBytes(ctx, data)
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) (json.RawMessage, error) {
	m, ok := s.methods[req.Method]
	if !ok {
		return nil, clerr.Newf(clerr.KindRPCInvocation, "unknown method %q", req.Method)
	}
	if m.CheckParams != nil {
		if err := m.CheckParams(req.Params); err != nil {
			return nil, err
		}
	}
	return m.Invoke(ctx, req.Method, req.Params, s.persistence)
}

func buildEnvelope(id string, result json.RawMessage, invokeErr error) Envelope {
	if invokeErr == nil {
		return Envelope{ID: id, Result: result}
	}
	errObj := &ErrorObject{Message: invokeErr.Error()}
	if ce, ok := invokeErr.(*clerr.Error); ok {
		errObj.Code = int(ce.Kind)
	}
	return Envelope{ID: id, Error: errObj}
}

func (s *Server) deliverToCompleted(ctx context.Context, payload []byte) {
	s.deliverToCompletedBytes(ctx, payload)
}

func (s *Server) deliverToCompletedBytes(ctx context.Context, data []byte) {
	_, _ = s.completedQueue.Put(ctx, data)
}

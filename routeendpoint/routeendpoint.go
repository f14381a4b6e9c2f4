// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routeendpoint

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/routefabric/routefabric/coordination"
	"github.com/routefabric/routefabric/endpointmap"
	"github.com/routefabric/routefabric/fabricmetrics"
	"github.com/routefabric/routefabric/fabrictypes"
	"github.com/routefabric/routefabric/ferrors"
	"github.com/routefabric/routefabric/scheduler"
	"github.com/routefabric/routefabric/transport"
	"github.com/routefabric/routefabric/wire"
)

const (
	resolveBackoffStart = 20 * time.Millisecond
	resolveBackoffCap   = 12 * time.Second
	replicaTimeout      = 5 * time.Second
	drainPollInterval   = 20 * time.Millisecond
)

// Option configures a RouteEndpoint at construction, following the
// functional-options pattern used throughout this module's constructors.
type Option func(*RouteEndpoint)

// WithLogger attaches logger; nil falls back to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *RouteEndpoint) { e.logger = logger }
}

// WithScheduler overrides the default uniform-random replica ordering.
func WithScheduler(policy scheduler.Policy) Option {
	return func(e *RouteEndpoint) { e.scheduler = policy }
}

// WithSendRateLimit caps outbound wire sends across all replicas, a
// generalization of the teacher's sliding-window egress limiter onto a
// token-bucket policy (see DESIGN.md).
func WithSendRateLimit(limiter *rate.Limiter) Option {
	return func(e *RouteEndpoint) { e.sendLimiter = limiter }
}

// WithDrainGracePeriod bounds how long Close waits for in-flight inbound
// requests to reach a terminal state before disposing the physical
// endpoint (spec §4.11 supplement, "graceful endpoint drain").
func WithDrainGracePeriod(d time.Duration) Option {
	return func(e *RouteEndpoint) { e.drainGrace = d }
}

// WithReplicaTimeout overrides the per-replica wait before Send escalates to
// the next address in the scheduler's ordering (spec §4.6.2 names this 5s;
// tests shorten it to keep failover scenarios fast).
func WithReplicaTimeout(d time.Duration) Option {
	return func(e *RouteEndpoint) { e.replicaTimeout = d }
}

type responseWaiter struct {
	ch chan wireResult
}

type wireResult struct {
	handled      bool
	payload      []byte
	cancellation bool
}

type cancelKey struct {
	remoteEndpoint fabrictypes.EndpointAddress
	remoteAddress  string
	seqNum         int32
}

// RouteEndpoint is the C6 per-logical-endpoint request/reply state machine
// (spec §4.6). It owns a response table, a cancellation table, a seqNum
// counter, and a single background receive loop over a multiplexed
// physical endpoint.
//
// Thread Safety: All exported methods are safe for concurrent use.
type RouteEndpoint struct {
	address fabrictypes.EndpointAddress
	maps    *endpointmap.Map
	mux     *transport.Multiplexer
	ep      *transport.Endpoint
	localPA fabrictypes.PhysicalAddress

	scheduler      scheduler.Policy
	logger         *slog.Logger
	sendLimiter    *rate.Limiter
	drainGrace     time.Duration
	replicaTimeout time.Duration

	seqNum atomic.Int32

	mu        sync.Mutex
	responses map[int32]*responseWaiter
	cancels   map[cancelKey]chan struct{}
	inflight  int

	queue chan InboundRequest

	closeOnce sync.Once
	closed    chan struct{}
	loopDone  chan struct{}
}

// New creates a RouteEndpoint for address, maps it in the endpoint map
// under the transport's local physical address, opens its demultiplexed
// sub-endpoint, and starts the receive loop (spec §4.6, §3 lifecycle).
func New(ctx context.Context, address fabrictypes.EndpointAddress, store coordination.Store, mux *transport.Multiplexer, opts ...Option) (*RouteEndpoint, error) {
	if address.IsZero() {
		return nil, fmt.Errorf("routeendpoint: New requires a non-empty endpoint: %w", ferrors.ErrArgumentInvalid)
	}

	e := &RouteEndpoint{
		address:        address,
		maps:           endpointmap.New(store, nil),
		mux:            mux,
		localPA:        mux.LocalAddress(),
		scheduler:      scheduler.Shuffle{},
		logger:         slog.Default(),
		replicaTimeout: replicaTimeout,
		responses:      make(map[int32]*responseWaiter),
		cancels:        make(map[cancelKey]chan struct{}),
		queue:          make(chan InboundRequest, 64),
		closed:         make(chan struct{}),
		loopDone:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.sendLimiter == nil {
		e.sendLimiter = rate.NewLimiter(rate.Inf, 0)
	}

	if err := e.maps.Map(ctx, address, e.localPA); err != nil {
		return nil, fmt.Errorf("routeendpoint: mapping %s: %w", address, err)
	}
	e.ep = mux.Open(DemuxKey(address))

	go e.receiveLoop()
	return e, nil
}

// DemuxKey is the multiplexer key a Route Endpoint for endpoint listens
// on (spec §4.6, "end-points/<endpoint>").
func DemuxKey(endpoint fabrictypes.EndpointAddress) string {
	return "end-points/" + string(endpoint)
}

// InstallMisrouteReplier wires misroute detection (spec §4.6.3 step 1)
// onto mux. The multiplexer only delivers a frame to a Route Endpoint
// when its demux key already matches, so an endpoint can never observe a
// misdirected frame itself; the check has to live where the key lookup
// fails. Requests addressed to an endpoint this process does not host are
// answered with Misrouted(corr=seqNum) back to the sender. Other frame
// types are dropped: answering a reply-shaped frame with another reply
// could bounce between two confused peers indefinitely.
func InstallMisrouteReplier(mux *transport.Multiplexer, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	mux.SetUnroutableHandler(func(key string, frame []byte, remote fabrictypes.PhysicalAddress) {
		h, _, err := wire.Decode(frame)
		if err != nil {
			logger.Debug("routeendpoint: dropping malformed unroutable frame", "key", key, "error", err)
			return
		}
		if h.Type != wire.MessageRequest {
			logger.Debug("routeendpoint: dropping unroutable frame", "key", key, "type", h.Type)
			return
		}
		logger.Debug("routeendpoint: misrouted request", "want", h.RxEndpoint, "from", h.TxEndpoint, "address", remote)
		reply := wire.Header{
			Type:       wire.MessageMisrouted,
			Corr:       h.SeqNum,
			TxEndpoint: h.RxEndpoint,
			RxEndpoint: h.TxEndpoint,
		}
		ctx, cancel := context.WithTimeout(context.Background(), replicaTimeout)
		defer cancel()
		if err := mux.Send(ctx, remote, DemuxKey(fabrictypes.EndpointAddress(h.TxEndpoint)), wire.Encode(reply)); err != nil {
			logger.Debug("routeendpoint: misroute reply failed", "address", remote, "error", err)
		}
	})
}

// Send resolves remoteEndpoint to its current replica set, retries with
// exponential backoff if none are known yet, and fans out a Request across
// the replica ordering produced by the scheduler until a handled Response
// arrives or every replica has been given its 5s window (spec §4.6.2).
func (e *RouteEndpoint) Send(ctx context.Context, payload []byte, remoteEndpoint fabrictypes.EndpointAddress) (RouteResult, error) {
	addrs, err := e.resolveWithBackoff(ctx, remoteEndpoint)
	if err != nil {
		return RouteResult{Outcome: OutcomeCancelled}, err
	}
	ordered := e.scheduler.Order(addrs)
	return e.sendAcross(ctx, payload, remoteEndpoint, ordered, true)
}

// SendTo is the single-replica variant (spec §4.6.2): no address
// resolution and no timeout-driven failover — it waits for a Response (or
// Misrouted, cancellation, closure) with no replica window — but
// otherwise identical request/response/cancel semantics.
func (e *RouteEndpoint) SendTo(ctx context.Context, payload []byte, remoteEndpoint fabrictypes.EndpointAddress, remoteAddress fabrictypes.PhysicalAddress) (RouteResult, error) {
	return e.sendAcross(ctx, payload, remoteEndpoint, []fabrictypes.PhysicalAddress{remoteAddress}, false)
}

func (e *RouteEndpoint) resolveWithBackoff(ctx context.Context, remoteEndpoint fabrictypes.EndpointAddress) ([]fabrictypes.PhysicalAddress, error) {
	backoff := resolveBackoffStart
	for {
		addrs, err := e.maps.GetMaps(ctx, remoteEndpoint)
		if err != nil {
			e.logger.Warn("routeendpoint: resolving replicas failed, retrying", "endpoint", remoteEndpoint, "error", err)
		} else if len(addrs) > 0 {
			return addrs, nil
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > resolveBackoffCap {
				backoff = resolveBackoffCap
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("routeendpoint: resolving %s: %w", remoteEndpoint, ferrors.ErrCancelled)
		case <-e.closed:
			return nil, fmt.Errorf("routeendpoint: %s closed while resolving %s: %w", e.address, remoteEndpoint, ferrors.ErrDisposed)
		}
	}
}

// sendAcross is the shared body of Send/SendTo. It wraps sendAcrossInner
// with the client span and the send/latency counters named in SPEC_FULL
// §4.10, matching the teacher's promauto+otel.Tracer pairing on
// escalating_router.go's own retry loop.
func (e *RouteEndpoint) sendAcross(ctx context.Context, payload []byte, remoteEndpoint fabrictypes.EndpointAddress, addrs []fabrictypes.PhysicalAddress, failover bool) (RouteResult, error) {
	ctx, span := fabricmetrics.StartClientSpan(ctx, "routeendpoint.Send")
	defer span.End()
	start := time.Now()
	result, err := e.sendAcrossInner(ctx, payload, remoteEndpoint, addrs, failover)
	fabricmetrics.SendLatency.Observe(time.Since(start).Seconds())
	fabricmetrics.SendTotal.WithLabelValues(result.Outcome.String()).Inc()
	return result, err
}

func (e *RouteEndpoint) sendAcrossInner(ctx context.Context, payload []byte, remoteEndpoint fabrictypes.EndpointAddress, addrs []fabrictypes.PhysicalAddress, failover bool) (RouteResult, error) {
	select {
	case <-e.closed:
		return RouteResult{Outcome: OutcomeDisposed}, ferrors.ErrDisposed
	default:
	}

	seq := e.seqNum.Add(1)
	waiter := &responseWaiter{ch: make(chan wireResult, 8)}
	e.registerWaiter(seq, waiter)
	defer e.unregisterWaiter(seq)

	attempted := make([]fabrictypes.PhysicalAddress, 0, len(addrs))
	var last *RouteResult

	for _, addr := range addrs {
		attempted = append(attempted, addr)
		e.sendFrame(ctx, wire.Header{
			Type:       wire.MessageRequest,
			SeqNum:     seq,
			TxEndpoint: string(e.address),
			RxEndpoint: string(remoteEndpoint),
		}, addr, payload)

		// Without failover there is no next address to escalate to, so no
		// replica window runs (spec §4.6.2 SendTo): the wait ends only on a
		// response, cancellation, or closure.
		timer := time.NewTimer(e.replicaTimeout)
		timeout := timer.C
		if !failover {
			timer.Stop()
			timeout = nil
		}
		moveOn := false
		for !moveOn {
			select {
			case res := <-waiter.ch:
				if res.cancellation {
					continue
				}
				if res.handled {
					timer.Stop()
					fabricmetrics.ReplicaAttemptTotal.WithLabelValues(string(fabricmetrics.ReplicaAttemptHandled)).Inc()
					return RouteResult{Outcome: OutcomeHandled, Payload: res.payload}, nil
				}
				fabricmetrics.ReplicaAttemptTotal.WithLabelValues(string(fabricmetrics.ReplicaAttemptUnhandled)).Inc()
				last = &RouteResult{Outcome: OutcomeUnhandled, Payload: res.payload}
				moveOn = true
			case <-timeout:
				fabricmetrics.ReplicaAttemptTotal.WithLabelValues(string(fabricmetrics.ReplicaAttemptTimedOut)).Inc()
				moveOn = true
			case <-ctx.Done():
				timer.Stop()
				fabricmetrics.ReplicaAttemptTotal.WithLabelValues(string(fabricmetrics.ReplicaAttemptCancelled)).Inc()
				e.broadcastCancellation(remoteEndpoint, seq, attempted)
				return RouteResult{Outcome: OutcomeCancelled}, ferrors.ErrCancelled
			case <-e.closed:
				timer.Stop()
				return RouteResult{Outcome: OutcomeDisposed}, ferrors.ErrDisposed
			}
		}
		timer.Stop()
	}

	if last != nil {
		return *last, nil
	}
	return RouteResult{Outcome: OutcomeUnhandled}, nil
}

func (e *RouteEndpoint) broadcastCancellation(remoteEndpoint fabrictypes.EndpointAddress, seq int32, addrs []fabrictypes.PhysicalAddress) {
	fabricmetrics.CancellationTotal.WithLabelValues("external_cancel").Inc()
	g := new(errgroup.Group)
	for _, addr := range addrs {
		addr := addr
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), replicaTimeout)
			defer cancel()
			e.sendFrame(ctx, wire.Header{
				Type:       wire.MessageCancellationRequest,
				SeqNum:     e.seqNum.Add(1),
				Corr:       seq,
				TxEndpoint: string(e.address),
				RxEndpoint: string(remoteEndpoint),
			}, addr, nil)
			return nil
		})
	}
	_ = g.Wait()
}

func (e *RouteEndpoint) sendFrame(ctx context.Context, h wire.Header, addr fabrictypes.PhysicalAddress, payload []byte) {
	if err := e.sendLimiter.Wait(ctx); err != nil {
		return
	}
	// The demux key is always the intended recipient's: h.RxEndpoint names
	// the receiver for every frame type, replies included (a Response has
	// Tx=replier, Rx=original sender), and DemuxKey(RxEndpoint) is the only
	// key the recipient's multiplexer has open.
	frame := append(wire.Encode(h), payload...)
	if err := e.ep.Send(ctx, addr, DemuxKey(fabrictypes.EndpointAddress(h.RxEndpoint)), frame); err != nil {
		e.logger.Debug("routeendpoint: send failed, will be retried by replica fan-out", "remote", h.RxEndpoint, "address", addr, "error", err)
	}
}

func (e *RouteEndpoint) registerWaiter(seq int32, w *responseWaiter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.responses[seq] = w
}

func (e *RouteEndpoint) unregisterWaiter(seq int32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.responses, seq)
}

// Receive dequeues the next inbound Request (spec §4.6.2).
func (e *RouteEndpoint) Receive(ctx context.Context) (InboundRequest, error) {
	select {
	case req := <-e.queue:
		return req, nil
	case <-ctx.Done():
		return InboundRequest{}, fmt.Errorf("routeendpoint: Receive: %w", ferrors.ErrCancelled)
	case <-e.closed:
		return InboundRequest{}, fmt.Errorf("routeendpoint: Receive on closed endpoint %s: %w", e.address, ferrors.ErrDisposed)
	}
}

// receiveLoop is the single background task described in spec §4.6.3.
func (e *RouteEndpoint) receiveLoop() {
	defer close(e.loopDone)
	ctx := context.Background()
	for {
		frame, remote, err := e.ep.Receive(ctx)
		if err != nil {
			e.logger.Debug("routeendpoint: receive loop stopping", "endpoint", e.address, "error", err)
			return
		}
		go e.handleFrame(frame, remote)
	}
}

func (e *RouteEndpoint) handleFrame(frame []byte, remote fabrictypes.PhysicalAddress) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("routeendpoint: panic handling inbound frame", "endpoint", e.address, "panic", r)
		}
	}()

	h, n, err := wire.Decode(frame)
	if err != nil {
		e.logger.Warn("routeendpoint: dropping malformed frame", "endpoint", e.address, "error", err)
		return
	}
	payload := frame[n:]

	// No rxEndpoint check here: the multiplexer only delivers frames whose
	// demux key matches this endpoint, and frames for endpoints this process
	// does not host are answered by the InstallMisrouteReplier hook before
	// any RouteEndpoint sees them.
	switch h.Type {
	case wire.MessageRequest:
		e.handleRequest(h, payload, remote)
	case wire.MessageResponse:
		e.resolveWaiter(h.Corr, wireResult{handled: h.Handled, payload: payload})
	case wire.MessageCancellationRequest:
		e.fireCancellation(h, remote)
	case wire.MessageCancellationResponse:
		e.resolveWaiter(h.Corr, wireResult{cancellation: true})
	case wire.MessageMisrouted:
		e.resolveWaiter(h.Corr, wireResult{handled: false})
	default:
		e.logger.Debug("routeendpoint: dropping frame", "type", h.Type, "endpoint", e.address)
	}
}

func (e *RouteEndpoint) handleRequest(h wire.Header, payload []byte, remote fabrictypes.PhysicalAddress) {
	key := cancelKey{remoteEndpoint: fabrictypes.EndpointAddress(h.TxEndpoint), remoteAddress: remote.String(), seqNum: h.SeqNum}
	cancelCh := make(chan struct{})
	e.mu.Lock()
	e.cancels[key] = cancelCh
	e.inflight++
	e.mu.Unlock()

	req := InboundRequest{
		Payload:        payload,
		RemoteEndpoint: fabrictypes.EndpointAddress(h.TxEndpoint),
		RemoteAddress:  remote,
		Cancel:         cancelCh,
		Reply: &ReplyHandle{
			ep:     e,
			corr:   h.SeqNum,
			remote: remote,
			local:  fabrictypes.EndpointAddress(h.RxEndpoint),
			peer:   fabrictypes.EndpointAddress(h.TxEndpoint),
			key:    key,
		},
	}
	select {
	case e.queue <- req:
	case <-e.closed:
		e.finishInbound(key)
	}
}

func (e *RouteEndpoint) finishInbound(key cancelKey) {
	e.mu.Lock()
	if _, ok := e.cancels[key]; ok {
		delete(e.cancels, key)
		e.inflight--
	}
	e.mu.Unlock()
}

func (e *RouteEndpoint) fireCancellation(h wire.Header, remote fabrictypes.PhysicalAddress) {
	key := cancelKey{remoteEndpoint: fabrictypes.EndpointAddress(h.TxEndpoint), remoteAddress: remote.String(), seqNum: h.Corr}
	e.mu.Lock()
	ch, ok := e.cancels[key]
	e.mu.Unlock()
	if !ok {
		e.logger.Debug("routeendpoint: no cancellation-table entry", "key", key)
		return
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (e *RouteEndpoint) resolveWaiter(corr int32, res wireResult) {
	e.mu.Lock()
	w, ok := e.responses[corr]
	e.mu.Unlock()
	if !ok {
		e.logger.Debug("routeendpoint: dropping response for unknown seq", "corr", corr)
		return
	}
	select {
	case w.ch <- res:
	default:
		e.logger.Warn("routeendpoint: response waiter channel full, dropping", "corr", corr)
	}
}

// LocalAddress returns the physical address this endpoint is reachable at.
func (e *RouteEndpoint) LocalAddress() fabrictypes.PhysicalAddress { return e.localPA }

// Close unmaps the endpoint (best-effort), waits up to the configured
// drain grace period for in-flight inbound requests to reach a terminal
// state, terminates the receive loop, and disposes the physical endpoint
// (spec §4.6.2, with the graceful-drain supplement from §4.11).
func (e *RouteEndpoint) Close(ctx context.Context) error {
	var closeErr error
	e.closeOnce.Do(func() {
		if err := e.maps.Unmap(context.Background(), e.address, e.localPA); err != nil {
			e.logger.Warn("routeendpoint: unmap on close failed", "endpoint", e.address, "error", err)
		}
		e.drain(ctx)
		close(e.closed)
		if err := e.ep.Close(); err != nil {
			closeErr = fmt.Errorf("routeendpoint: closing physical endpoint %s: %w", e.address, err)
		}
		<-e.loopDone

		e.mu.Lock()
		for seq, w := range e.responses {
			select {
			case w.ch <- wireResult{}:
			default:
			}
			delete(e.responses, seq)
		}
		e.mu.Unlock()
	})
	return closeErr
}

func (e *RouteEndpoint) drain(ctx context.Context) {
	grace := e.drainGrace
	if grace <= 0 {
		return
	}
	deadline := time.Now().Add(grace)
	for {
		e.mu.Lock()
		n := e.inflight
		e.mu.Unlock()
		if n == 0 {
			return
		}
		if time.Now().After(deadline) {
			e.logger.Warn("routeendpoint: drain grace period elapsed with requests still in flight", "endpoint", e.address, "inflight", n)
			return
		}
		select {
		case <-time.After(drainPollInterval):
		case <-ctx.Done():
			return
		}
	}
}

// ReplyHandle lets a Receive caller answer one inbound request (spec §4.6.2).
type ReplyHandle struct {
	ep     *RouteEndpoint
	corr   int32
	remote fabrictypes.PhysicalAddress
	local  fabrictypes.EndpointAddress
	peer   fabrictypes.EndpointAddress
	key    cancelKey

	once sync.Once
}

// SendResult replies with a Response carrying handled and payload.
func (h *ReplyHandle) SendResult(ctx context.Context, handled bool, payload []byte) error {
	return h.reply(ctx, handled, payload)
}

// SendAck replies with an unhandled, empty Response.
func (h *ReplyHandle) SendAck(ctx context.Context) error {
	return h.reply(ctx, false, nil)
}

func (h *ReplyHandle) reply(ctx context.Context, handled bool, payload []byte) error {
	var sendErr error
	h.once.Do(func() {
		frame := wire.Header{
			Type:       wire.MessageResponse,
			Handled:    handled,
			Corr:       h.corr,
			TxEndpoint: string(h.local),
			RxEndpoint: string(h.peer),
		}
		h.ep.sendFrame(ctx, frame, h.remote, payload)
		h.ep.finishInbound(h.key)
	})
	return sendErr
}

// SendCancellation replies with a CancellationResponse, ending the
// Handling state (spec §4.6.4).
func (h *ReplyHandle) SendCancellation(ctx context.Context) error {
	var sendErr error
	h.once.Do(func() {
		frame := wire.Header{
			Type:       wire.MessageCancellationResponse,
			Corr:       h.corr,
			TxEndpoint: string(h.local),
			RxEndpoint: string(h.peer),
		}
		h.ep.sendFrame(ctx, frame, h.remote, nil)
		h.ep.finishInbound(h.key)
	})
	return sendErr
}

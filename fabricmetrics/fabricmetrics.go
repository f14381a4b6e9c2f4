// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package fabricmetrics wires the routing fabric's Prometheus counters and
// OpenTelemetry spans (SPEC_FULL §4.10 "DOMAIN STACK"). One counter vector
// per outcome class plus one histogram per latency-sensitive operation,
// matching the promauto block in the teacher's escalating router; one span
// per Send/SendTo call and per registry operation, matching the same
// file's otel.Tracer usage. Receive and individual replica attempts get no
// span of their own (replica attempts are counted by ReplicaAttemptTotal).
package fabricmetrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var (
	// SendTotal counts RouteEndpoint.Send/SendTo calls by terminal outcome,
	// labeled with Outcome.String() (Handled, Unhandled, Cancelled, Disposed).
	SendTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "routefabric",
		Subsystem: "routeendpoint",
		Name:      "send_total",
		Help:      "Send/SendTo calls by terminal outcome",
	}, []string{"outcome"})

	// SendLatency observes wall-clock time from Send entry to terminal outcome.
	SendLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "routefabric",
		Subsystem: "routeendpoint",
		Name:      "send_latency_seconds",
		Help:      "Latency of Send/SendTo calls, including replica fan-out",
		Buckets:   []float64{0.005, 0.02, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
	})

	// ReplicaAttemptTotal counts each individual replica address attempted
	// during a Send fan-out, labeled by whether it timed out before a
	// response arrived.
	ReplicaAttemptTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "routefabric",
		Subsystem: "routeendpoint",
		Name:      "replica_attempt_total",
		Help:      "Per-replica send attempts during fan-out, by result",
	}, []string{"result"})

	// CancellationTotal counts CancellationRequest frames emitted, by cause.
	CancellationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "routefabric",
		Subsystem: "routeendpoint",
		Name:      "cancellation_total",
		Help:      "CancellationRequest frames emitted, by cause",
	}, []string{"cause"})

	// RegistryOpTotal counts Route Registry operations by name and outcome.
	RegistryOpTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "routefabric",
		Subsystem: "routeregistry",
		Name:      "operation_total",
		Help:      "Route Registry operations by name and outcome",
	}, []string{"op", "outcome"})

	// EndpointMapOpTotal counts Endpoint Map operations by name and outcome.
	EndpointMapOpTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "routefabric",
		Subsystem: "endpointmap",
		Name:      "operation_total",
		Help:      "Endpoint Map operations by name and outcome",
	}, []string{"op", "outcome"})

	// HTTPRouteOpTotal counts HTTP-prefix-dispatch registry operations by
	// name and outcome.
	HTTPRouteOpTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "routefabric",
		Subsystem: "httproutes",
		Name:      "operation_total",
		Help:      "HTTP prefix dispatch operations by name and outcome",
	}, []string{"op", "outcome"})

	// ModuleIndexOpTotal counts module prefix/running index operations by
	// name and outcome.
	ModuleIndexOpTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "routefabric",
		Subsystem: "moduleindex",
		Name:      "operation_total",
		Help:      "Module prefix and running index operations by name and outcome",
	}, []string{"op", "outcome"})

	// LocalEndpointGauge reports the number of Route Endpoints currently
	// hosted by this process's Routing System.
	LocalEndpointGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "routefabric",
		Subsystem: "routingsystem",
		Name:      "local_endpoints",
		Help:      "Route Endpoints currently hosted by this process",
	})
)

// Tracer is the fabric's shared OpenTelemetry tracer. Spans: one per
// Send/SendTo call and per registry operation; no child spans are started
// for replica attempts.
var Tracer = otel.Tracer("routefabric")

// ReplicaAttemptResult labels ReplicaAttemptTotal.
type ReplicaAttemptResult string

const (
	ReplicaAttemptHandled   ReplicaAttemptResult = "handled"
	ReplicaAttemptUnhandled ReplicaAttemptResult = "unhandled"
	ReplicaAttemptTimedOut  ReplicaAttemptResult = "timed_out"
	ReplicaAttemptCancelled ReplicaAttemptResult = "cancelled"
)

// SpanKindAttribute is the attribute key used to tag spans with the
// routing-layer operation they represent, mirroring the teacher's use of
// otel/attribute on escalation spans.
const SpanKindAttribute = "routefabric.op"

// StartClientSpan starts a client-kind span for an outbound operation
// (Send/SendTo, a registry write) named op, returning the derived context
// and the started span; the caller ends it with span.End().
func StartClientSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, op, trace.WithSpanKind(trace.SpanKindClient))
}

// StartServerSpan starts a server-kind span for an inbound operation
// (a registry read such as httproutes.GetEndpoints) named op.
func StartServerSpan(ctx context.Context, op string) (context.Context, trace.Span) {
	return Tracer.Start(ctx, op, trace.WithSpanKind(trace.SpanKindServer))
}


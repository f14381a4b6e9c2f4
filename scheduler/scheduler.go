// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package scheduler implements C5: given a set of physical replicas for a
// logical endpoint, produce the order in which Route Endpoint should
// attempt them (spec §4.5). No caller may assume a specific order; the
// default policy is a uniform random shuffle.
package scheduler

import (
	"math/rand/v2"

	"github.com/routefabric/routefabric/fabrictypes"
)

// Policy orders a set of replica addresses for one Send attempt.
//
// Description:
//
//	Implementations must not mutate the input slice; Order returns a new
//	slice (or the same backing array re-sliced, if the input may be
//	consumed freely by the caller) holding a permutation of replicas.
type Policy interface {
	Order(replicas []fabrictypes.PhysicalAddress) []fabrictypes.PhysicalAddress
}

// Shuffle is the default Policy: a uniform random permutation, matching
// spec §4.5's default.
type Shuffle struct{}

// Order returns a uniformly random permutation of replicas.
func (Shuffle) Order(replicas []fabrictypes.PhysicalAddress) []fabrictypes.PhysicalAddress {
	out := make([]fabrictypes.PhysicalAddress, len(replicas))
	copy(out, replicas)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// RoundRobin cycles the starting point of the returned ordering across
// successive calls, a deterministic alternative permitted by §4.5.
//
// Thread Safety: Safe for concurrent use.
type RoundRobin struct {
	next atomicCounter
}

// Order returns replicas rotated by an internally advancing offset.
func (rr *RoundRobin) Order(replicas []fabrictypes.PhysicalAddress) []fabrictypes.PhysicalAddress {
	n := len(replicas)
	if n == 0 {
		return nil
	}
	offset := rr.next.next(uint64(n))
	out := make([]fabrictypes.PhysicalAddress, n)
	for i := 0; i < n; i++ {
		out[i] = replicas[(int(offset)+i)%n]
	}
	return out
}

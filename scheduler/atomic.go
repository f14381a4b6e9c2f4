// Copyright (C) 2026 the routefabric authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scheduler

import "sync/atomic"

// atomicCounter hands out successive offsets modulo n, used by RoundRobin.
type atomicCounter struct {
	v atomic.Uint64
}

func (c *atomicCounter) next(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	return c.v.Add(1) % n
}

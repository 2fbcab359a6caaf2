// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"sort"
	"sync"
)

// sink is one Watch subscription. send and close are serialised so a send
// never hits a closed channel.
type sink struct {
	ctx    context.Context
	mu     sync.Mutex
	ch     chan Change
	closed bool
}

func newSink(ctx context.Context) *sink {
	return &sink{ctx: ctx, ch: make(chan Change, 16)}
}

// send blocks until the subscriber reads or its context ends.
func (s *sink) send(c Change) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- c:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *sink) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func notify(targets []*sink, changes []Change) {
	for _, t := range targets {
		for _, c := range changes {
			if !t.send(c) {
				break
			}
		}
	}
}

// diff reports what changed going from old to cur, ordered by key.
func diff(old, cur map[string]string) []Change {
	var out []Change
	for k, v := range cur {
		if ov, ok := old[k]; !ok || ov != v {
			out = append(out, Change{Key: k, Value: v})
		}
	}
	for k := range old {
		if _, ok := cur[k]; !ok {
			out = append(out, Change{Key: k, Removed: true})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

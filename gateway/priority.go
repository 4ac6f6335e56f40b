/*
Copyright © 2025 Cartlabs, Inc.

Released under MIT license.
*/

package gateway

import (
	"context"
	"fmt"

	"github.com/vasayxtx/go-glob"
	"golang.org/x/sync/semaphore"
)

// UnboundedPriorityLimit disables the priority bypass ceiling entirely.
const UnboundedPriorityLimit = -1

// priorityGate guards the bypass entry point. Targets are checked against
// a glob allow-list, and the bypass carries its own, higher concurrency
// ceiling so that a burst of "priority" calls is still bounded.
type priorityGate struct {
	matchers []func(s string) bool
	sem      *semaphore.Weighted // nil means unbounded
}

func newPriorityGate(targets []string, limit int) (*priorityGate, error) {
	if limit < 0 && limit != UnboundedPriorityLimit {
		return nil, fmt.Errorf("priority limit should be positive or %d, got %d", UnboundedPriorityLimit, limit)
	}
	matchers := make([]func(s string) bool, 0, len(targets))
	for _, target := range targets {
		matchers = append(matchers, glob.Compile(target))
	}
	pg := &priorityGate{matchers: matchers}
	if limit > 0 {
		pg.sem = semaphore.NewWeighted(int64(limit))
	}
	return pg, nil
}

func (pg *priorityGate) allows(target string) bool {
	for i := range pg.matchers {
		if pg.matchers[i](target) {
			return true
		}
	}
	return false
}

func (pg *priorityGate) acquire(ctx context.Context) error {
	if pg.sem == nil {
		return nil
	}
	if err := pg.sem.Acquire(ctx, 1); err != nil {
		return newContextError("", ctx.Err())
	}
	return nil
}

func (pg *priorityGate) release() {
	if pg.sem != nil {
		pg.sem.Release(1)
	}
}

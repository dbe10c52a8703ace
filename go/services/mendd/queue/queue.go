//  Copyright 2014 Outbrain Inc.

//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at

//      http://www.apache.org/licenses/LICENSE-2.0

//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

//  Modifications Copyright 2026 The Mend Authors

// Package queue provides the dispatch queue between problem admission
// and the remediation workers: an ordered queue with no duplicates.
//
// Push() never blocks while Consume() blocks on an empty queue.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mendsys/mend/go/services/mendd/config"
)

// queueItem represents a problem waiting for a dispatch worker.
type queueItem struct {
	ID       string
	PushedAt time.Time
}

// Queue is an ordered queue with deduplication. A problem id stays
// marked as enqueued until its release function runs, so re-pushing a
// problem that is still being remediated is a no-op.
type Queue struct {
	mu       sync.Mutex
	enqueued map[string]struct{}
	queue    chan queueItem
	logger   *slog.Logger
	config   *config.Config
}

// NewQueue creates a new dispatch queue.
func NewQueue(logger *slog.Logger, cfg *config.Config) *Queue {
	return &Queue{
		enqueued: make(map[string]struct{}),
		queue:    make(chan queueItem, config.DispatchQueueCapacity),
		logger:   logger,
		config:   cfg,
	}
}

// setIDCheckEnqueued returns true if an id is already enqueued, if not
// the id will be marked as enqueued and false is returned.
func (q *Queue) setIDCheckEnqueued(id string) (alreadyEnqueued bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, alreadyEnqueued = q.enqueued[id]
	if !alreadyEnqueued {
		q.enqueued[id] = struct{}{}
	}
	return alreadyEnqueued
}

// Len returns the number of problems enqueued or in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.enqueued)
}

// Push enqueues a problem id if it is not on the queue and is not being
// processed; silently returns otherwise. When the queue is at capacity
// the id is dropped rather than blocking the detection loop; the next
// detection cycle re-admits it.
func (q *Queue) Push(id string) {
	if q.setIDCheckEnqueued(id) {
		return
	}
	select {
	case q.queue <- queueItem{ID: id, PushedAt: time.Now()}:
	default:
		q.mu.Lock()
		delete(q.enqueued, id)
		q.mu.Unlock()
		q.logger.Warn("dispatch queue full, dropping problem",
			"problem_id", id,
			"capacity", config.DispatchQueueCapacity,
		)
	}
}

// Consume fetches a problem id to process; blocks if the queue is empty.
// Returns the id, a release function that must be called when processing
// is complete, and a boolean indicating if an id was successfully
// consumed (false if context cancelled).
// Example usage:
//
//	problemID, release, ok := q.Consume(ctx)
//	if !ok {
//	    return // context cancelled
//	}
//	defer release()
//	// remediate problemID...
func (q *Queue) Consume(ctx context.Context) (string, func(), bool) {
	select {
	case <-ctx.Done():
		return "", func() {}, false
	case item := <-q.queue:
		detectionInterval := q.config.GetDetectionInterval()
		timeOnQueue := time.Since(item.PushedAt)
		if timeOnQueue > detectionInterval {
			q.logger.WarnContext(ctx, "problem spent too long waiting in queue",
				"problem_id", item.ID,
				"time_on_queue", timeOnQueue,
				"detection_interval", detectionInterval,
			)
		}

		release := func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			delete(q.enqueued, item.ID)
		}

		return item.ID, release, true
	}
}

/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package relay

import (
	"sync"

	"github.com/tqdaoinfo108/dev-tools/pkg/models"
)

// DefaultBufferSize is the number of events retained for replay to newly
// connected watchers.
const DefaultBufferSize = 5000

// EventBuffer is a bounded, append-only event history. Insertion order is
// arrival order at the relay, not event timestamp order: a late event with
// an earlier logical timestamp is still appended at the tail.
type EventBuffer struct {
	mu       sync.Mutex
	events   []models.LogEvent
	capacity int
}

// NewEventBuffer creates a buffer holding at most capacity events. A
// non-positive capacity falls back to DefaultBufferSize.
func NewEventBuffer(capacity int) *EventBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}

	return &EventBuffer{
		events:   make([]models.LogEvent, 0, capacity),
		capacity: capacity,
	}
}

// Append adds an event at the tail, evicting from the head once the
// buffer exceeds its capacity.
func (b *EventBuffer) Append(event models.LogEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)

	if over := len(b.events) - b.capacity; over > 0 {
		b.events = append(b.events[:0], b.events[over:]...)
	}
}

// Recent returns the full current buffer contents, oldest first.
func (b *EventBuffer) Recent() []models.LogEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]models.LogEvent, len(b.events))
	copy(out, b.events)

	return out
}

// Len reports the number of buffered events.
func (b *EventBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.events)
}

package storage

import (
	"sort"
	"time"
)

// eventRing is a fixed-capacity FIFO of raw events. When full, pushing drops
// the oldest entry.
type eventRing struct {
	buf  []RecordedEvent
	head int // index of the oldest entry
	size int
}

func newEventRing(capacity int) *eventRing {
	if capacity < 1 {
		capacity = 1
	}
	return &eventRing{buf: make([]RecordedEvent, capacity)}
}

func (r *eventRing) push(ev RecordedEvent) {
	if r.size < len(r.buf) {
		r.buf[(r.head+r.size)%len(r.buf)] = ev
		r.size++
		return
	}
	r.buf[r.head] = ev
	r.head = (r.head + 1) % len(r.buf)
}

// dropBefore removes leading entries received before cutoff.
func (r *eventRing) dropBefore(cutoff time.Time) int {
	dropped := 0
	for r.size > 0 && r.buf[r.head].ReceivedAt.Before(cutoff) {
		r.buf[r.head] = RecordedEvent{}
		r.head = (r.head + 1) % len(r.buf)
		r.size--
		dropped++
	}
	return dropped
}

// items returns the buffered events, oldest first.
func (r *eventRing) items() []RecordedEvent {
	out := make([]RecordedEvent, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// recency tracks edit timestamps globally and per article, plus the raw event
// ring. Sequences are append-only in receipt order, so they stay sorted.
type recency struct {
	edits        []time.Time
	articleEdits map[NodeID][]time.Time
	events       *eventRing
}

func newRecency(bufferSize int) *recency {
	return &recency{
		articleEdits: make(map[NodeID][]time.Time),
		events:       newEventRing(bufferSize),
	}
}

func (r *recency) record(ev Event, article NodeID, at time.Time) {
	r.events.push(RecordedEvent{Event: ev, ReceivedAt: at})
	r.edits = append(r.edits, at)
	r.articleEdits[article] = append(r.articleEdits[article], at)
}

// trim drops every entry older than cutoff and forgets articles whose
// sequence becomes empty.
func (r *recency) trim(cutoff time.Time) {
	r.edits = trimBefore(r.edits, cutoff)
	for id, seq := range r.articleEdits {
		seq = trimBefore(seq, cutoff)
		if len(seq) == 0 {
			delete(r.articleEdits, id)
			continue
		}
		r.articleEdits[id] = seq
	}
	r.events.dropBefore(cutoff)
}

func trimBefore(seq []time.Time, cutoff time.Time) []time.Time {
	i := sort.Search(len(seq), func(i int) bool { return !seq[i].Before(cutoff) })
	if i == 0 {
		return seq
	}
	if i == len(seq) {
		return nil
	}
	// Copy so the dropped prefix can be collected.
	out := make([]time.Time, len(seq)-i)
	copy(out, seq[i:])
	return out
}

func since(seq []time.Time, from time.Time) []time.Time {
	i := sort.Search(len(seq), func(i int) bool { return !seq[i].Before(from) })
	out := make([]time.Time, len(seq)-i)
	copy(out, seq[i:])
	return out
}

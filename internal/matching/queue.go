package matching

import (
	"sort"

	"github.com/samber/lo"
)

// Queues holds one FIFO waiting line of participant IDs per chat type.
// A participant ID sits in at most one line at a time; the index map
// records which one so removal does not need to scan every line.
//
// Queues is not safe for concurrent use. The Matchmaker only touches it
// from its executor goroutine.
type Queues struct {
	lines map[string][]string // chat type -> IDs, head first
	index map[string]string   // ID -> chat type it is queued under
}

// NewQueues creates empty waiting lines for the given chat types. Lines for
// other chat types are created on first Enqueue.
func NewQueues(chatTypes ...string) *Queues {
	q := &Queues{
		lines: make(map[string][]string, len(chatTypes)),
		index: make(map[string]string),
	}
	for _, ct := range chatTypes {
		q.lines[ct] = nil
	}
	return q
}

// Enqueue appends id to the tail of the chatType line. It is a no-op when id
// is already queued under any chat type; callers remove it first.
func (q *Queues) Enqueue(chatType, id string) {
	if _, queued := q.index[id]; queued {
		return
	}
	q.lines[chatType] = append(q.lines[chatType], id)
	q.index[id] = chatType
}

// DequeueNextValid pops IDs from the head of the chatType line until one
// satisfies isValid or the line is empty. Entries that fail the check are
// dropped for good.
func (q *Queues) DequeueNextValid(chatType string, isValid func(id string) bool) (string, bool) {
	line := q.lines[chatType]
	for len(line) > 0 {
		id := line[0]
		line[0] = ""
		line = line[1:]
		delete(q.index, id)
		if isValid(id) {
			q.lines[chatType] = line
			return id, true
		}
	}
	q.lines[chatType] = line
	return "", false
}

// RemoveIfPresent takes id out of whichever line holds it. It reports
// whether anything was removed.
func (q *Queues) RemoveIfPresent(id string) bool {
	chatType, ok := q.index[id]
	if !ok {
		return false
	}
	delete(q.index, id)

	line := q.lines[chatType]
	for i, queued := range line {
		if queued == id {
			q.lines[chatType] = append(line[:i:i], line[i+1:]...)
			break
		}
	}
	return true
}

// Retain rebuilds every line keeping only IDs that satisfy keep, preserving
// order. It returns the dropped IDs.
func (q *Queues) Retain(keep func(id string) bool) []string {
	var dropped []string
	for chatType, line := range q.lines {
		kept, gone := lo.FilterReject(line, func(id string, _ int) bool {
			return keep(id)
		})
		for _, id := range gone {
			delete(q.index, id)
		}
		dropped = append(dropped, gone...)
		q.lines[chatType] = kept
	}
	return dropped
}

// ChatTypeOf returns the chat type id is queued under.
func (q *Queues) ChatTypeOf(id string) (string, bool) {
	ct, ok := q.index[id]
	return ct, ok
}

// Len returns the number of IDs waiting under chatType.
func (q *Queues) Len(chatType string) int {
	return len(q.lines[chatType])
}

// ChatTypes returns the known chat types in sorted order.
func (q *Queues) ChatTypes() []string {
	types := lo.Keys(q.lines)
	sort.Strings(types)
	return types
}

// Snapshot copies every line, head first.
func (q *Queues) Snapshot() map[string][]string {
	out := make(map[string][]string, len(q.lines))
	for ct, line := range q.lines {
		out[ct] = append([]string(nil), line...)
	}
	return out
}

package matching

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func alwaysValid(string) bool { return true }

func TestQueues_EnqueueIsFIFO(t *testing.T) {
	q := NewQueues("video", "text")

	q.Enqueue("video", "alice")
	q.Enqueue("video", "bob")
	q.Enqueue("video", "carol")

	for _, want := range []string{"alice", "bob", "carol"} {
		got, ok := q.DequeueNextValid("video", alwaysValid)
		require.True(t, ok)
		require.Equal(t, want, got)
	}

	_, ok := q.DequeueNextValid("video", alwaysValid)
	require.False(t, ok, "queue should be empty")
}

func TestQueues_EnqueueIgnoresAlreadyQueued(t *testing.T) {
	q := NewQueues("video", "text")

	q.Enqueue("video", "alice")
	q.Enqueue("video", "alice")
	q.Enqueue("text", "alice")

	require.Equal(t, 1, q.Len("video"))
	require.Equal(t, 0, q.Len("text"))

	ct, ok := q.ChatTypeOf("alice")
	require.True(t, ok)
	require.Equal(t, "video", ct)
}

func TestQueues_DequeueNextValidDropsInvalidEntries(t *testing.T) {
	q := NewQueues("video")
	q.Enqueue("video", "gone-1")
	q.Enqueue("video", "gone-2")
	q.Enqueue("video", "bob")
	q.Enqueue("video", "carol")

	valid := func(id string) bool { return id == "bob" || id == "carol" }

	got, ok := q.DequeueNextValid("video", valid)
	require.True(t, ok)
	require.Equal(t, "bob", got)

	// The invalid heads are gone for good, only carol is left.
	require.Equal(t, map[string][]string{"video": {"carol"}}, q.Snapshot())
	_, queued := q.ChatTypeOf("gone-1")
	require.False(t, queued)
}

func TestQueues_DequeueNextValidEmptiesQueueWhenNothingValid(t *testing.T) {
	q := NewQueues("video")
	q.Enqueue("video", "a")
	q.Enqueue("video", "b")

	_, ok := q.DequeueNextValid("video", func(string) bool { return false })
	require.False(t, ok)
	require.Equal(t, 0, q.Len("video"))

	// Dropped IDs can be queued again.
	q.Enqueue("video", "a")
	require.Equal(t, 1, q.Len("video"))
}

func TestQueues_DequeueUnknownChatType(t *testing.T) {
	q := NewQueues("video")
	_, ok := q.DequeueNextValid("audio", alwaysValid)
	require.False(t, ok)
}

func TestQueues_RemoveIfPresent(t *testing.T) {
	q := NewQueues("video")
	q.Enqueue("video", "a")
	q.Enqueue("video", "b")
	q.Enqueue("video", "c")

	require.True(t, q.RemoveIfPresent("b"))
	require.False(t, q.RemoveIfPresent("b"))
	require.False(t, q.RemoveIfPresent("nobody"))

	require.Equal(t, []string{"a", "c"}, q.Snapshot()["video"])
}

func TestQueues_RetainKeepsOrderAndReturnsDropped(t *testing.T) {
	q := NewQueues("video", "text")
	q.Enqueue("video", "a")
	q.Enqueue("video", "b")
	q.Enqueue("video", "c")
	q.Enqueue("text", "d")

	dropped := q.Retain(func(id string) bool { return id != "b" && id != "d" })

	require.ElementsMatch(t, []string{"b", "d"}, dropped)
	require.Equal(t, []string{"a", "c"}, q.Snapshot()["video"])
	require.Equal(t, 0, q.Len("text"))

	// Retaining again with the same predicate is a no-op.
	require.Empty(t, q.Retain(func(id string) bool { return id != "b" && id != "d" }))
}

func TestQueues_LazyChatTypeCreation(t *testing.T) {
	q := NewQueues("video")
	q.Enqueue("audio", "a")

	require.Equal(t, []string{"audio", "video"}, q.ChatTypes())
	require.Equal(t, 1, q.Len("audio"))
}

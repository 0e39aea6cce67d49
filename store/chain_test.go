package store

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func chainOf(ids ...string) []*Message {
	messages := make([]*Message, len(ids))
	for i, id := range ids {
		m := &Message{ID: id, ChatID: "chat"}
		if i > 0 {
			prev := ids[i-1]
			m.PreviousID = &prev
		}
		messages[i] = m
	}
	return messages
}

func idsOf(messages []*Message) []string {
	ids := make([]string, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
	}
	return ids
}

func TestLinearize(t *testing.T) {
	t.Run("orders a shuffled chain", func(t *testing.T) {
		chain := chainOf("a", "b", "c", "d")
		shuffled := []*Message{chain[2], chain[0], chain[3], chain[1]}
		require.Equal(t, []string{"a", "b", "c", "d"}, idsOf(Linearize(shuffled)))
	})

	t.Run("already ordered stays ordered", func(t *testing.T) {
		chain := chainOf("a", "b", "c")
		require.Equal(t, []string{"a", "b", "c"}, idsOf(Linearize(chain)))
	})

	t.Run("empty and single message pass through", func(t *testing.T) {
		require.Empty(t, Linearize(nil))
		single := chainOf("a")
		require.Equal(t, single, Linearize(single))
	})

	t.Run("gap yields the reachable prefix", func(t *testing.T) {
		chain := chainOf("a", "b", "c", "d")
		// Drop c: d's previous pointer now dangles.
		broken := []*Message{chain[0], chain[1], chain[3]}
		require.Equal(t, []string{"a", "b"}, idsOf(Linearize(broken)))
	})

	t.Run("no root returns input unordered", func(t *testing.T) {
		chain := chainOf("a", "b", "c")
		rootless := chain[1:]
		require.Len(t, Linearize(rootless), 2)
	})
}

func TestExtractText(t *testing.T) {
	data := []DataPart{
		{Type: PartThought, Value: "thinking"},
		{Type: PartText, Value: "hello"},
		{Type: PartText, Value: "hidden", Hidden: true},
		{Type: PartText, Value: "world"},
	}
	require.Equal(t, "hello\nworld", ExtractText(data))
}

func TestScrubText(t *testing.T) {
	require.Equal(t, "a b c", ScrubText("  a\n\tb   c ", 0))
	require.Equal(t, "ab", ScrubText("abcd", 2))
	require.Equal(t, "héll", ScrubText("héllo", 4))
}

package store

import (
	"log/slog"
)

// Linearize reconstructs the chain order of a chat's messages from their
// PreviousID pointers. Storage returns messages in arbitrary order; the
// result starts at the root (PreviousID == nil) and follows successor links.
//
// A broken chain (no root, or a gap) yields a best-effort partial order
// rather than an error: a partial conversation is preferable to none. The
// caller can detect the condition by comparing lengths; it is also logged
// here as a constraint violation.
func Linearize(messages []*Message) []*Message {
	if len(messages) <= 1 {
		return messages
	}

	// Index successors by their predecessor id for O(n) traversal.
	byPrevious := make(map[string]*Message, len(messages))
	var root *Message
	for _, m := range messages {
		if m.PreviousID == nil {
			root = m
			continue
		}
		byPrevious[*m.PreviousID] = m
	}
	if root == nil {
		slog.Warn("chain has no root message, returning unordered",
			"chat_id", messages[0].ChatID,
			"count", len(messages))
		return messages
	}

	sorted := make([]*Message, 0, len(messages))
	sorted = append(sorted, root)
	current := root.ID
	for len(sorted) < len(messages) {
		next, ok := byPrevious[current]
		if !ok {
			slog.Warn("chain is broken, returning partial order",
				"chat_id", root.ChatID,
				"ordered", len(sorted),
				"total", len(messages))
			break
		}
		sorted = append(sorted, next)
		current = next.ID
	}

	return sorted
}

// ABOUTME: Merges historical messages and folded invocations into one timeline
// ABOUTME: Produces the render-ready ordered sequence of tagged items

package timeline

import (
	"sort"
	"time"

	"github.com/loomworks/weft/aggregate"
	"github.com/loomworks/weft/wire"
)

// ItemKind tags which variant a timeline item carries.
type ItemKind string

const (
	ItemMessage    ItemKind = "message"
	ItemInvocation ItemKind = "invocation"
)

// attachOffset nudges an invocation just past the message that triggered it,
// so a stable sort keeps the tool card directly below that message.
const attachOffset = time.Millisecond

// Item is one entry in the merged timeline. Exactly one of Message and
// Invocation is set, matching Kind.
type Item struct {
	Kind       ItemKind
	Timestamp  time.Time
	Message    *wire.Message
	Invocation *aggregate.Invocation
}

// RoleAssistant is the message role that can trigger tool invocations.
const RoleAssistant = "assistant"

// Merge combines a conversation's ordered messages with its invocation map
// into a single chronologically ordered sequence. Invocations whose
// correlation id names an assistant message are placed immediately after it;
// the rest are placed at their own first-seen time. Merge is a pure function
// of its inputs: unchanged inputs yield a structurally equal result.
func Merge(messages []wire.Message, invocations map[string]*aggregate.Invocation) []Item {
	items := make([]Item, 0, len(messages)+len(invocations))
	attached := make(map[string]bool, len(invocations))

	for i := range messages {
		msg := &messages[i]
		items = append(items, Item{
			Kind:      ItemMessage,
			Timestamp: msg.CreatedAt,
			Message:   msg,
		})

		if msg.Role != RoleAssistant {
			continue
		}
		for n, inv := range matchedInvocations(msg.ID, invocations) {
			attached[inv.InvocationID] = true
			items = append(items, Item{
				Kind:       ItemInvocation,
				Timestamp:  msg.CreatedAt.Add(time.Duration(n+1) * attachOffset),
				Invocation: inv,
			})
		}
	}

	// Orphan tool activity: no message claimed it, so it stands on its own
	// at the time it was first seen.
	for _, inv := range sortedInvocations(invocations) {
		if attached[inv.InvocationID] {
			continue
		}
		items = append(items, Item{
			Kind:       ItemInvocation,
			Timestamp:  inv.FirstSeenAt,
			Invocation: inv,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp.Before(items[j].Timestamp)
	})
	return items
}

// matchedInvocations returns the invocations correlated to a message, in a
// deterministic order (first seen, then id).
func matchedInvocations(messageID string, invocations map[string]*aggregate.Invocation) []*aggregate.Invocation {
	var matched []*aggregate.Invocation
	for _, inv := range invocations {
		if inv.CorrelationID != "" && inv.CorrelationID == messageID {
			matched = append(matched, inv)
		}
	}
	sortByFirstSeen(matched)
	return matched
}

// sortedInvocations returns all invocations ordered by first seen, then id.
// Map iteration order is random; the merge must not be.
func sortedInvocations(invocations map[string]*aggregate.Invocation) []*aggregate.Invocation {
	out := make([]*aggregate.Invocation, 0, len(invocations))
	for _, inv := range invocations {
		out = append(out, inv)
	}
	sortByFirstSeen(out)
	return out
}

func sortByFirstSeen(invs []*aggregate.Invocation) {
	sort.Slice(invs, func(i, j int) bool {
		if !invs[i].FirstSeenAt.Equal(invs[j].FirstSeenAt) {
			return invs[i].FirstSeenAt.Before(invs[j].FirstSeenAt)
		}
		return invs[i].InvocationID < invs[j].InvocationID
	})
}

// ABOUTME: Tests for merging messages and invocations into an ordered timeline
// ABOUTME: Covers correlation attachment, orphan placement, and determinism

package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/weft/aggregate"
	"github.com/loomworks/weft/wire"
)

var base = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func at(d time.Duration) time.Time {
	return base.Add(d)
}

func msg(id, role string, ts time.Time) wire.Message {
	return wire.Message{ID: id, Content: "content of " + id, Role: role, CreatedAt: ts}
}

func inv(id, correlationID string, firstSeen time.Time) *aggregate.Invocation {
	return &aggregate.Invocation{
		InvocationID:  id,
		Tool:          "search",
		State:         aggregate.StateDone,
		FirstSeenAt:   firstSeen,
		CorrelationID: correlationID,
	}
}

func kinds(items []Item) []ItemKind {
	out := make([]ItemKind, len(items))
	for i, item := range items {
		out[i] = item.Kind
	}
	return out
}

func TestMerge_MessagesOnly(t *testing.T) {
	messages := []wire.Message{
		msg("m1", "user", at(0)),
		msg("m2", "assistant", at(time.Minute)),
	}

	items := Merge(messages, nil)

	require.Len(t, items, 2)
	assert.Equal(t, []ItemKind{ItemMessage, ItemMessage}, kinds(items))
	assert.Equal(t, "m1", items[0].Message.ID)
	assert.Equal(t, "m2", items[1].Message.ID)
	assert.Nil(t, items[0].Invocation)
}

func TestMerge_AttachesCorrelatedInvocation(t *testing.T) {
	messages := []wire.Message{
		msg("m1", "user", at(0)),
		msg("m2", "assistant", at(time.Minute)),
		msg("m3", "user", at(2*time.Minute)),
	}
	invocations := map[string]*aggregate.Invocation{
		// First seen before the assistant message it belongs to; attachment
		// still pins it directly after m2.
		"t1": inv("t1", "m2", at(30*time.Second)),
	}

	items := Merge(messages, invocations)

	require.Len(t, items, 4)
	assert.Equal(t, "m1", items[0].Message.ID)
	assert.Equal(t, "m2", items[1].Message.ID)
	assert.Equal(t, ItemInvocation, items[2].Kind)
	assert.Equal(t, "t1", items[2].Invocation.InvocationID)
	assert.Equal(t, at(time.Minute+time.Millisecond), items[2].Timestamp)
	assert.Equal(t, "m3", items[3].Message.ID)
}

func TestMerge_MultipleAttachmentsOrderedByFirstSeen(t *testing.T) {
	messages := []wire.Message{msg("m2", "assistant", at(time.Minute))}
	invocations := map[string]*aggregate.Invocation{
		"later":   inv("later", "m2", at(90*time.Second)),
		"earlier": inv("earlier", "m2", at(70*time.Second)),
	}

	items := Merge(messages, invocations)

	require.Len(t, items, 3)
	assert.Equal(t, "earlier", items[1].Invocation.InvocationID)
	assert.Equal(t, "later", items[2].Invocation.InvocationID)
	// Each attached invocation lands one step further past the message.
	assert.Equal(t, at(time.Minute+time.Millisecond), items[1].Timestamp)
	assert.Equal(t, at(time.Minute+2*time.Millisecond), items[2].Timestamp)
}

func TestMerge_CorrelationToUserMessageIsOrphaned(t *testing.T) {
	messages := []wire.Message{msg("m1", "user", at(0))}
	invocations := map[string]*aggregate.Invocation{
		// Correlation ids only bind to assistant messages.
		"t1": inv("t1", "m1", at(10*time.Second)),
	}

	items := Merge(messages, invocations)

	require.Len(t, items, 2)
	assert.Equal(t, ItemInvocation, items[1].Kind)
	assert.Equal(t, at(10*time.Second), items[1].Timestamp)
}

func TestMerge_OrphanPlacedAtFirstSeen(t *testing.T) {
	messages := []wire.Message{
		msg("m1", "user", at(0)),
		msg("m2", "assistant", at(time.Minute)),
	}
	invocations := map[string]*aggregate.Invocation{
		"t1": inv("t1", "", at(30*time.Second)),
	}

	items := Merge(messages, invocations)

	require.Len(t, items, 3)
	assert.Equal(t, "m1", items[0].Message.ID)
	assert.Equal(t, ItemInvocation, items[1].Kind)
	assert.Equal(t, at(30*time.Second), items[1].Timestamp)
	assert.Equal(t, "m2", items[2].Message.ID)
}

func TestMerge_UnknownCorrelationFallsBackToFirstSeen(t *testing.T) {
	messages := []wire.Message{msg("m1", "assistant", at(0))}
	invocations := map[string]*aggregate.Invocation{
		"t1": inv("t1", "no-such-message", at(5*time.Second)),
	}

	items := Merge(messages, invocations)

	require.Len(t, items, 2)
	assert.Equal(t, ItemInvocation, items[1].Kind)
	assert.Equal(t, at(5*time.Second), items[1].Timestamp)
}

func TestMerge_TimestampTieKeepsMessageFirst(t *testing.T) {
	messages := []wire.Message{msg("m1", "user", at(time.Minute))}
	invocations := map[string]*aggregate.Invocation{
		"t1": inv("t1", "", at(time.Minute)),
	}

	items := Merge(messages, invocations)

	require.Len(t, items, 2)
	assert.Equal(t, ItemMessage, items[0].Kind)
	assert.Equal(t, ItemInvocation, items[1].Kind)
}

func TestMerge_Deterministic(t *testing.T) {
	messages := []wire.Message{
		msg("m1", "user", at(0)),
		msg("m2", "assistant", at(time.Minute)),
	}
	invocations := map[string]*aggregate.Invocation{
		"t1": inv("t1", "m2", at(61*time.Second)),
		"t2": inv("t2", "m2", at(62*time.Second)),
		"t3": inv("t3", "", at(30*time.Second)),
		"t4": inv("t4", "", at(30*time.Second)),
	}

	first := Merge(messages, invocations)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Merge(messages, invocations))
	}

	// Same first-seen instant: ids break the tie.
	require.Len(t, first, 6)
	assert.Equal(t, "t3", first[1].Invocation.InvocationID)
	assert.Equal(t, "t4", first[2].Invocation.InvocationID)
}

func TestMerge_Empty(t *testing.T) {
	items := Merge(nil, nil)
	assert.Empty(t, items)
}

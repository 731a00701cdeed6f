package queue

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamebridge/relay"
	"github.com/gamebridge/relay/internal/protocol"
)

func entry(id string) Entry {
	return Entry{
		Msg: &protocol.Message{
			Version:   "1.0.0",
			Type:      relay.TypeCommand,
			ID:        id,
			Timestamp: 1700000000000,
			Source:    relay.RoleProducer,
		},
		SourceID: "conn-1",
	}
}

func TestPushEvictsOldestAtCapacity(t *testing.T) {
	t.Parallel()

	q := New(2, zerolog.Nop())

	assert.False(t, q.Push(entry("m1")))
	assert.False(t, q.Push(entry("m2")))
	assert.True(t, q.Push(entry("m3")))

	drained := q.DrainAll()
	require.Len(t, drained, 2)
	assert.Equal(t, "m2", drained[0].Msg.ID)
	assert.Equal(t, "m3", drained[1].Msg.ID)
}

func TestDrainAllEmptiesQueue(t *testing.T) {
	t.Parallel()

	q := New(10, zerolog.Nop())
	q.Push(entry("m1"))
	q.Push(entry("m2"))
	require.Equal(t, 2, q.Len())

	drained := q.DrainAll()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, q.DrainAll())
}

func TestDrainAllPreservesArrivalOrder(t *testing.T) {
	t.Parallel()

	q := New(16, zerolog.Nop())
	for i := 0; i < 5; i++ {
		q.Push(entry(fmt.Sprintf("m%d", i)))
	}

	drained := q.DrainAll()
	require.Len(t, drained, 5)
	for i, e := range drained {
		assert.Equal(t, fmt.Sprintf("m%d", i), e.Msg.ID)
	}
}

func TestNewClampsNonPositiveCapacity(t *testing.T) {
	t.Parallel()

	q := New(0, zerolog.Nop())
	assert.False(t, q.Push(entry("m1")))
	assert.True(t, q.Push(entry("m2")))

	drained := q.DrainAll()
	require.Len(t, drained, 1)
	assert.Equal(t, "m2", drained[0].Msg.ID)
}

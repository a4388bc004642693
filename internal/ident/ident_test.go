package ident

import (
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator_Format(t *testing.T) {
	id := UUIDv7Generator{}.NewID()

	require.True(t, strings.HasPrefix(id, Prefix))
	parsed, err := uuid.Parse(strings.TrimPrefix(id, Prefix))
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestUUIDv7Generator_Unique(t *testing.T) {
	gen := UUIDv7Generator{}
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := gen.NewID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestUUIDv7Generator_Sortable(t *testing.T) {
	gen := UUIDv7Generator{}
	prev := gen.NewID()
	for i := 0; i < 100; i++ {
		next := gen.NewID()
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestSequenceGenerator(t *testing.T) {
	gen := &SequenceGenerator{}
	assert.Equal(t, "event_1", gen.NewID())
	assert.Equal(t, "event_2", gen.NewID())
}

func TestSequenceGenerator_Concurrent(t *testing.T) {
	gen := &SequenceGenerator{}
	var wg sync.WaitGroup
	ids := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- gen.NewID()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]struct{})
	for id := range ids {
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 50)
}

func TestAssign(t *testing.T) {
	gen := &SequenceGenerator{}
	assert.Equal(t, "keep", Assign(gen, "keep"))
	assert.Equal(t, "event_1", Assign(gen, ""))
}

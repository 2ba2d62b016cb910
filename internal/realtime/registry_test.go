package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_LookupReturnsLatest(t *testing.T) {
	reg := NewRegistry(nil, nil)
	c1 := newFakeConn("c1")
	c2 := newFakeConn("c2")

	reg.Register("u1", c1)
	got, ok := reg.Lookup("u1")
	require.True(t, ok)
	assert.Equal(t, "c1", got.ID())

	reg.Register("u1", c2)
	got, ok = reg.Lookup("u1")
	require.True(t, ok)
	assert.Equal(t, "c2", got.ID())
}

func TestRegistry_UnregisterCurrent(t *testing.T) {
	reg := NewRegistry(nil, nil)
	c := newFakeConn("c1")
	reg.Register("u1", c)

	assert.True(t, reg.Unregister("u1", c))
	_, ok := reg.Lookup("u1")
	assert.False(t, ok)
	assert.Empty(t, reg.Online())
}

func TestRegistry_StaleUnregisterIsNoop(t *testing.T) {
	n := &recordingNotifier{}
	reg := NewRegistry(n, nil)
	old := newFakeConn("old")
	cur := newFakeConn("new")

	reg.Register("u1", old)
	reg.Register("u1", cur)
	require.Len(t, n.snapshot(), 2)

	assert.False(t, reg.Unregister("u1", old))
	got, ok := reg.Lookup("u1")
	require.True(t, ok)
	assert.Equal(t, "new", got.ID())
	assert.Len(t, n.snapshot(), 2, "stale unregister must not notify")
}

func TestRegistry_UnregisterUnknownUser(t *testing.T) {
	n := &recordingNotifier{}
	reg := NewRegistry(n, nil)

	assert.False(t, reg.Unregister("ghost", newFakeConn("c")))
	assert.Empty(t, n.snapshot())
}

func TestRegistry_EachMutationNotifiesFullSet(t *testing.T) {
	n := &recordingNotifier{}
	reg := NewRegistry(n, nil)
	a := newFakeConn("a")
	b := newFakeConn("b")

	reg.Register("userB", b)
	reg.Register("userA", a)
	reg.Unregister("userB", b)

	calls := n.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, []string{"userB"}, calls[0])
	assert.Equal(t, []string{"userA", "userB"}, calls[1])
	assert.Equal(t, []string{"userA"}, calls[2])
}

func TestRegistry_ConcurrentMutationsNotifyInOrder(t *testing.T) {
	n := &recordingNotifier{}
	reg := NewRegistry(n, nil)

	const users = 50
	var wg sync.WaitGroup
	for i := 0; i < users; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reg.Register(fmt.Sprintf("u%02d", i), newFakeConn(fmt.Sprintf("c%02d", i)))
		}(i)
	}
	wg.Wait()

	calls := n.snapshot()
	require.Len(t, calls, users)
	// Registrations only grow the set, so serialized notifications must be
	// strictly increasing in size.
	for i, c := range calls {
		assert.Len(t, c, i+1)
	}
	assert.Equal(t, users, reg.Count())
}

package activeartifact_test

import (
	"sync"
	"testing"

	"github.com/ransomeye/rebuild-sub001/pkg/activeartifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closeTracker struct {
	name   string
	closed int
}

func (c *closeTracker) Close() error {
	c.closed++
	return nil
}

func TestCurrent_NilBeforeFirstSwap(t *testing.T) {
	m := activeartifact.New()
	assert.Nil(t, m.Current())
}

func TestSwap_InstallsNewValue(t *testing.T) {
	m := activeartifact.New()
	ref := m.Swap("v1")
	defer ref.Release()

	cur := m.Current()
	require.NotNil(t, cur)
	defer cur.Release()
	assert.Equal(t, "v1", cur.Value())
}

func TestSwap_NullSwapClearsValue(t *testing.T) {
	m := activeartifact.New()
	m.Swap("v1").Release()

	nullRef := m.Swap(nil)
	defer nullRef.Release()

	cur := m.Current()
	require.NotNil(t, cur, "a generation exists even though its value is nil")
	defer cur.Release()
	assert.Nil(t, cur.Value())
}

func TestSwap_PriorGenerationClosesOnlyAfterLastReferenceReleased(t *testing.T) {
	m := activeartifact.New()
	v1 := &closeTracker{name: "v1"}
	ref1 := m.Swap(v1)

	reader := m.Current()
	require.NotNil(t, reader)

	// Swap out v1 for v2. v1 is retired but still held by ref1 and reader.
	v2 := &closeTracker{name: "v2"}
	ref2 := m.Swap(v2)
	defer ref2.Release()

	assert.Equal(t, 0, v1.closed, "must not close while references remain outstanding")

	ref1.Release()
	assert.Equal(t, 0, v1.closed, "must not close until the last reference is released")

	reader.Release()
	assert.Equal(t, 1, v1.closed, "closes exactly once the last reference drops after retirement")
}

func TestSwap_ClosesImmediatelyWhenNoReferencesOutstanding(t *testing.T) {
	m := activeartifact.New()
	v1 := &closeTracker{name: "v1"}
	m.Swap(v1).Release()

	v2 := &closeTracker{name: "v2"}
	ref2 := m.Swap(v2)
	defer ref2.Release()

	assert.Equal(t, 1, v1.closed)
}

func TestRelease_IsIdempotent(t *testing.T) {
	m := activeartifact.New()
	v1 := &closeTracker{name: "v1"}
	ref := m.Swap(v1)

	ref.Release()
	ref.Release()
	ref.Release()

	// Retire v1 so it becomes eligible for Close; a double-decremented
	// refcount would be negative here and v1 would never close.
	m.Swap("next").Release()

	assert.Equal(t, 1, v1.closed, "double release must not double-decrement or double-close")
}

func TestRelease_NonReleasableValueIsANoOp(t *testing.T) {
	m := activeartifact.New()
	ref := m.Swap("plain-string")
	assert.NotPanics(t, func() { ref.Release() })
}

func TestConcurrentCurrentAndSwap_NeverObservesTornState(t *testing.T) {
	m := activeartifact.New()
	m.Swap("initial").Release()

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				r := m.Swap(i)
				r.Release()
			}
		}
	}()

	for i := 0; i < 200; i++ {
		ref := m.Current()
		if ref != nil {
			_ = ref.Value()
			ref.Release()
		}
	}
	close(stop)
	wg.Wait()
}

package framegrab

import (
	"testing"
	"testing/synctest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopRunsInPostOrder(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		l := NewLoop()
		defer l.Close()

		var got []int
		for i := range 100 {
			require.True(t, l.Post(func() {
				got = append(got, i)
			}))
		}
		synctest.Wait()
		require.Len(t, got, 100)
		for i, g := range got {
			assert.Equal(t, i, g)
		}
	})
}

func TestLoopDiscardPending(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		l := NewLoop()
		defer l.Close()

		started := make(chan struct{})
		unblock := make(chan struct{})
		l.Post(func() {
			close(started)
			<-unblock
		})
		<-started

		var ran bool
		l.Post(func() {
			ran = true
		})
		l.DiscardPending()
		close(unblock)
		synctest.Wait()
		assert.False(t, ran)
	})
}

func TestLoopPostAfterClose(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		l := NewLoop()
		l.Close()
		<-l.Done()
		assert.False(t, l.Post(func() {}))
	})
}

func TestLoopCloseFromLoop(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		l := NewLoop()
		l.Post(l.Close)
		<-l.Done()
	})
}

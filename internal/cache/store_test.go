package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreGetReplacesOnProjectChange(t *testing.T) {
	s := NewStore(false)
	s.Mu.Lock()
	e1 := s.Get("/proj-a", time.Minute)
	s.Mu.Unlock()

	s.Mu.Lock()
	e2 := s.Get("/proj-b", time.Minute)
	s.Mu.Unlock()

	require.NotSame(t, e1, e2)
	require.Equal(t, "/proj-b", e2.ProjectPath)
}

func TestStoreEvictionLoopDropsExpiredEntry(t *testing.T) {
	s := NewStore(false)
	s.Mu.Lock()
	s.Get("/proj", 5*time.Millisecond)
	s.Mu.Unlock()

	s.StartEvictionLoop(10 * time.Millisecond)
	defer s.StopEvictionLoop()

	require.Eventually(t, func() bool {
		s.Mu.Lock()
		defer s.Mu.Unlock()
		return s.Peek() == nil
	}, time.Second, 5*time.Millisecond)
}

func TestStoreDrop(t *testing.T) {
	s := NewStore(false)
	s.Mu.Lock()
	s.Get("/proj", time.Minute)
	s.Drop()
	require.Nil(t, s.Peek())
	s.Mu.Unlock()
}

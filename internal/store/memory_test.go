package store

import (
	"sort"
	"sync"
	"testing"
)

func TestMemory_AppendAssignsSequentialIDs(t *testing.T) {
	s := NewMemory()

	for i := 1; i <= 3; i++ {
		msg := s.Append("text", float64(i))
		if msg.ID != int64(i) {
			t.Errorf("expected id %d, got %d", i, msg.ID)
		}
	}
	if s.Len() != 3 {
		t.Errorf("expected 3 messages, got %d", s.Len())
	}
}

func TestMemory_ListSortedByTimestampDesc(t *testing.T) {
	s := NewMemory()
	s.Append("hello", 100)
	s.Append("world", 50)
	s.Append("latest", 150)

	got := s.List()
	want := []string{"latest", "hello", "world"}
	for i, msg := range got {
		if msg.Text != want[i] {
			t.Errorf("position %d: expected %q, got %q", i, want[i], msg.Text)
		}
	}
}

func TestMemory_ListTiesKeepInsertionOrder(t *testing.T) {
	s := NewMemory()
	s.Append("a", 10)
	s.Append("b", 20)
	s.Append("c", 10)
	s.Append("d", 20)

	got := s.List()
	wantIDs := []int64{2, 4, 1, 3}
	for i, msg := range got {
		if msg.ID != wantIDs[i] {
			t.Errorf("position %d: expected id %d, got %d", i, wantIDs[i], msg.ID)
		}
	}
}

func TestMemory_ListReturnsCopy(t *testing.T) {
	s := NewMemory()
	s.Append("original", 1)

	got := s.List()
	got[0].Text = "mutated"

	if s.List()[0].Text != "original" {
		t.Error("List must not expose internal storage")
	}
}

func TestMemory_ConcurrentAppendIDsArePermutation(t *testing.T) {
	s := NewMemory()
	const n = 500

	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = s.Append("x", 1).ID
		}(i)
	}
	wg.Wait()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for i, id := range ids {
		if id != int64(i+1) {
			t.Fatalf("expected ids 1..%d without gaps, got %d at %d", n, id, i)
		}
	}
}

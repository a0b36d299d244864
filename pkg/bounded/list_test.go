package bounded

import (
	"reflect"
	"testing"
)

func TestList_EvictsOldest(t *testing.T) {
	l := New[int](3)
	for i := 1; i <= 5; i++ {
		l.Push(i)
	}
	if l.Len() != 3 {
		t.Fatalf("expected len 3, got %d", l.Len())
	}
	if got := l.Oldest(); !reflect.DeepEqual(got, []int{3, 4, 5}) {
		t.Errorf("Oldest() = %v", got)
	}
	if got := l.Newest(); !reflect.DeepEqual(got, []int{5, 4, 3}) {
		t.Errorf("Newest() = %v", got)
	}
}

func TestList_PushBatchLargerThanCap(t *testing.T) {
	l := New[int](2)
	l.Push(1, 2, 3, 4)
	if got := l.Oldest(); !reflect.DeepEqual(got, []int{3, 4}) {
		t.Errorf("Oldest() = %v", got)
	}
}

func TestList_NeverExceedsCap(t *testing.T) {
	l := New[string](50)
	for i := 0; i < 1000; i++ {
		l.Push("x")
		if l.Len() > 50 {
			t.Fatalf("len %d exceeds cap after %d pushes", l.Len(), i+1)
		}
	}
}

func TestList_MinimumCap(t *testing.T) {
	l := New[int](0)
	l.Push(1, 2)
	if l.Cap() != 1 || l.Len() != 1 {
		t.Fatalf("expected cap 1 len 1, got cap %d len %d", l.Cap(), l.Len())
	}
}

func TestList_UpdateAndRemove(t *testing.T) {
	l := New[int](5)
	l.Push(1, 2, 3, 2)

	if !l.Update(func(v *int) bool {
		if *v == 3 {
			*v = 30
			return true
		}
		return false
	}) {
		t.Fatal("expected Update to match")
	}
	if n := l.RemoveFunc(func(v int) bool { return v == 2 }); n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}
	if got := l.Oldest(); !reflect.DeepEqual(got, []int{1, 30}) {
		t.Errorf("Oldest() = %v", got)
	}
}

func TestList_SnapshotsAreCopies(t *testing.T) {
	l := New[int](3)
	l.Push(1)
	snap := l.Oldest()
	snap[0] = 99
	if l.Oldest()[0] != 1 {
		t.Error("mutating a snapshot changed the list")
	}
}

func TestList_Replace(t *testing.T) {
	l := New[int](2)
	l.Push(1, 2)
	l.Replace([]int{7, 8, 9})
	if got := l.Oldest(); !reflect.DeepEqual(got, []int{8, 9}) {
		t.Errorf("Oldest() = %v", got)
	}
}

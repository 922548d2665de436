package maps

import "testing"

func implementations() map[string]func() ConcurrentMap[uint64, string] {
	return map[string]func() ConcurrentMap[uint64, string]{
		"xsync":   NewXSyncMap[uint64, string],
		"cornelk": NewCornelkMap[uint64, string],
	}
}

func TestConcurrentMapContract(t *testing.T) {
	for name, newMap := range implementations() {
		t.Run(name, func(t *testing.T) {
			m := newMap()

			if _, ok := m.Load(1); ok {
				t.Fatal("empty map claims to hold key 1")
			}

			m.Store(1, "one")
			if v, ok := m.Load(1); !ok || v != "one" {
				t.Fatalf("Load(1) = (%q, %v), want (one, true)", v, ok)
			}

			v, loaded := m.LoadOrStore(1, func() string { return "other" })
			if !loaded || v != "one" {
				t.Errorf("LoadOrStore on present key = (%q, %v), want (one, true)", v, loaded)
			}
			v, loaded = m.LoadOrStore(2, func() string { return "two" })
			if loaded || v != "two" {
				t.Errorf("LoadOrStore on absent key = (%q, %v), want (two, false)", v, loaded)
			}

			count := 0
			m.Range(func(key uint64, value string) bool {
				count++
				return true
			})
			if count != 2 {
				t.Errorf("Range visited %d entries, want 2", count)
			}

			if v, ok := m.LoadAndDelete(1); !ok || v != "one" {
				t.Errorf("LoadAndDelete(1) = (%q, %v), want (one, true)", v, ok)
			}
			if _, ok := m.Load(1); ok {
				t.Error("key 1 still present after LoadAndDelete")
			}

			m.Delete(2)
			if _, ok := m.Load(2); ok {
				t.Error("key 2 still present after Delete")
			}
		})
	}
}

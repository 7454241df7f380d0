package util

import (
	"sync"
	"testing"
)

func TestKeyedMutexSerialisesPerKey(t *testing.T) {
	km := NewKeyedMutex()
	a, b := 0, 0
	counters := map[string]*int{"a": &a, "b": &b}
	var wg sync.WaitGroup
	for i := 0; i < 500; i++ {
		for _, key := range []string{"a", "b"} {
			wg.Add(1)
			go func(k string) {
				defer wg.Done()
				unlock := km.Lock(k)
				*counters[k]++
				unlock()
			}(key)
		}
	}
	wg.Wait()
	if a != 500 || b != 500 {
		t.Fatalf("lost updates: a=%d b=%d", a, b)
	}
	if len(km.locks) != 0 {
		t.Fatalf("expected entries to be released, got %d", len(km.locks))
	}
}

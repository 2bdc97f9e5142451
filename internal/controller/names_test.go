package controller

import (
	"sync"
	"testing"
)

func TestNameGeneratorConcurrentUniqueness(t *testing.T) {
	const workers = 16
	const perWorker = 200

	gen := newNameGenerator(NamePrefix)
	names := make(chan string, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				names <- gen.next()
			}
		}()
	}
	wg.Wait()
	close(names)

	seen := make(map[string]bool, workers*perWorker)
	for name := range names {
		if seen[name] {
			t.Fatalf("duplicate generated name %s", name)
		}
		seen[name] = true
	}
	if len(seen) != workers*perWorker {
		t.Fatalf("got %d names, want %d", len(seen), workers*perWorker)
	}
}

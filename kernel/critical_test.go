package kernel

import (
	"runtime"
	"sync"
	"testing"
)

func TestRunReturnsCallbackResult(t *testing.T) {
	got := Run(func(cs *Section) int {
		if cs == nil {
			t.Fatalf("Run() passed nil section")
		}
		return 42
	})
	if got != 42 {
		t.Fatalf("Run() = %d, want 42", got)
	}
}

func TestRunReleasesMaskOnPanic(t *testing.T) {
	func() {
		defer func() { _ = recover() }()
		Do(func(*Section) { panic("boom") })
	}()

	// A second section must still be obtainable.
	Do(func(*Section) {})
}

func TestInterruptsSerializeWithCriticalSections(t *testing.T) {
	oldProcs := runtime.GOMAXPROCS(4)
	defer runtime.GOMAXPROCS(oldProcs)

	const (
		handlers = 8
		perISR   = 2_000
	)

	// counter is deliberately non-atomic: only the mask protects it.
	var counter int
	var wg sync.WaitGroup
	wg.Add(handlers)
	for i := 0; i < handlers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perISR; j++ {
				Interrupt(func(*Section) { counter++ })
			}
		}()
	}
	for j := 0; j < perISR; j++ {
		Do(func(*Section) { counter++ })
	}
	wg.Wait()

	want := handlers*perISR + perISR
	if got := Run(func(*Section) int { return counter }); got != want {
		t.Fatalf("counter = %d, want %d", got, want)
	}
}

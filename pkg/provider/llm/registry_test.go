package llm_test

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/repliq/pkg/provider/llm"
	"github.com/MrWong99/repliq/pkg/provider/llm/mock"
)

func TestRegistry_ResolveUnknown(t *testing.T) {
	reg := llm.NewRegistry()

	_, err := reg.Resolve("ghost")
	if !errors.Is(err, llm.ErrProviderNotFound) {
		t.Errorf("Resolve() error = %v, want ErrProviderNotFound", err)
	}
}

func TestRegistry_FactoryMemoized(t *testing.T) {
	reg := llm.NewRegistry()

	var built atomic.Int32
	reg.Register("main", func() (llm.Adapter, error) {
		built.Add(1)
		return &mock.Adapter{NameValue: "main"}, nil
	})

	a1, err := reg.Resolve("main")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	a2, err := reg.Resolve("main")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if a1 != a2 {
		t.Error("Resolve returned different adapter instances")
	}
	if built.Load() != 1 {
		t.Errorf("factory ran %d times, want 1", built.Load())
	}
}

func TestRegistry_FactoryErrorNotMemoized(t *testing.T) {
	reg := llm.NewRegistry()

	fail := true
	reg.Register("flaky", func() (llm.Adapter, error) {
		if fail {
			return nil, errors.New("not ready")
		}
		return &mock.Adapter{NameValue: "flaky"}, nil
	})

	if _, err := reg.Resolve("flaky"); err == nil {
		t.Fatal("Resolve succeeded with failing factory")
	}

	fail = false
	if _, err := reg.Resolve("flaky"); err != nil {
		t.Errorf("Resolve after recovery: %v", err)
	}
}

func TestRegistry_RegisterReplacesMemoizedAdapter(t *testing.T) {
	reg := llm.NewRegistry()

	first := &mock.Adapter{NameValue: "main"}
	reg.RegisterAdapter(first)

	a, _ := reg.Resolve("main")
	if a != first {
		t.Fatal("Resolve did not return the registered adapter")
	}

	second := &mock.Adapter{NameValue: "main"}
	reg.Register("main", func() (llm.Adapter, error) { return second, nil })

	a, err := reg.Resolve("main")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if a != second {
		t.Error("re-registration did not discard the memoized adapter")
	}
}

func TestRegistry_Names(t *testing.T) {
	reg := llm.NewRegistry()
	reg.RegisterAdapter(&mock.Adapter{NameValue: "a"})
	reg.RegisterAdapter(&mock.Adapter{NameValue: "b"})

	names := reg.Names()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names() = %v, want [a b]", names)
	}
}

func TestRegistry_ConcurrentResolve(t *testing.T) {
	reg := llm.NewRegistry()

	var built atomic.Int32
	reg.Register("main", func() (llm.Adapter, error) {
		built.Add(1)
		return &mock.Adapter{NameValue: "main"}, nil
	})

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Resolve("main"); err != nil {
				t.Errorf("Resolve: %v", err)
			}
		}()
	}
	wg.Wait()

	if built.Load() != 1 {
		t.Errorf("factory ran %d times under contention, want 1", built.Load())
	}
}

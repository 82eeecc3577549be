package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

type named string

func (n named) CapabilityName() string { return string(n) }

func TestRegistry(t *testing.T) {
	t.Run("list preserves registration order", func(t *testing.T) {
		r := New[named](KindTool)
		names := []named{"echo", "add", "longRunningOperation", "printEnv"}
		for _, n := range names {
			if err := r.Register(n); err != nil {
				t.Fatalf("register %s: %v", n, err)
			}
		}

		for range 3 {
			got := r.List()
			if want, got := len(names), len(got); want != got {
				t.Fatalf("len: want %d, got %d", want, got)
			}
			for i := range names {
				if want, got := names[i], got[i]; want != got {
					t.Fatalf("position %d: want %q, got %q", i, want, got)
				}
			}
		}
		if want, got := len(names), r.Len(); want != got {
			t.Fatalf("Len: want %d, got %d", want, got)
		}
	})

	t.Run("duplicate name is rejected and not counted", func(t *testing.T) {
		r := New[named](KindPrompt)
		if err := r.Register("simple"); err != nil {
			t.Fatalf("register: %v", err)
		}
		err := r.Register("simple")
		var dup *DuplicateNameError
		if !errors.As(err, &dup) {
			t.Fatalf("expected *DuplicateNameError, got %v", err)
		}
		if want, got := "duplicate prompt: simple", err.Error(); want != got {
			t.Fatalf("message: want %q, got %q", want, got)
		}
		if want, got := 1, r.Len(); want != got {
			t.Fatalf("Len: want %d, got %d", want, got)
		}
	})

	t.Run("resolve unknown name", func(t *testing.T) {
		r := New[named](KindTool)
		_, err := r.Resolve("doesNotExist")
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			t.Fatalf("expected *NotFoundError, got %v", err)
		}
		if want, got := "Unknown tool: doesNotExist", err.Error(); want != got {
			t.Fatalf("message: want %q, got %q", want, got)
		}
	})

	t.Run("list copy is isolated", func(t *testing.T) {
		r := New[named](KindResource)
		_ = r.Register("a")
		got := r.List()
		got[0] = "mutated"
		if c, _ := r.Resolve("a"); c != "a" {
			t.Fatalf("registry mutated through List copy: %q", c)
		}
	})

	t.Run("concurrent reads", func(t *testing.T) {
		r := New[named](KindTool)
		for i := range 50 {
			_ = r.Register(named(fmt.Sprintf("tool-%d", i)))
		}
		var wg sync.WaitGroup
		for i := range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				name := fmt.Sprintf("tool-%d", i)
				if c, err := r.Resolve(name); err != nil || string(c) != name {
					t.Errorf("resolve %s: %v", name, err)
				}
				if want, got := 50, len(r.List()); want != got {
					t.Errorf("len: want %d, got %d", want, got)
				}
			}()
		}
		wg.Wait()
	})
}

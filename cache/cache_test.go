package cache

import "testing"

func TestGetSetInvalidateRoundTrip(t *testing.T) {
	c, err := New(1024, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Set(1, []byte("hello"))
	c.cache.Wait()

	got, ok := c.Get(1)
	if !ok {
		t.Fatal("expected record 1 to be cached")
	}
	if string(got) != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}

	c.Invalidate(1)
	c.cache.Wait()
	if _, ok := c.Get(1); ok {
		t.Error("expected record 1 to be gone after Invalidate")
	}
}

func TestClearDropsEverything(t *testing.T) {
	c, err := New(1024, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	c.Set(1, []byte("a"))
	c.Set(2, []byte("b"))
	c.cache.Wait()

	c.Clear()

	if _, ok := c.Get(1); ok {
		t.Error("expected record 1 to be gone after Clear")
	}
	if _, ok := c.Get(2); ok {
		t.Error("expected record 2 to be gone after Clear")
	}
}

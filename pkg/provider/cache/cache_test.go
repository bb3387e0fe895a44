package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestUUIDCache_SetGet(t *testing.T) {
	c := NewUUIDCache(1 * time.Hour)
	id := uuid.New()

	c.Set("Production/db-password", id)

	got, ok := c.Get("Production/db-password")
	if !ok {
		t.Error("expected name to be in cache")
	}
	if got != id {
		t.Errorf("cached id = %v, want %v", got, id)
	}

	_, ok = c.Get("nonexistent")
	if ok {
		t.Error("expected false for nonexistent name")
	}
}

func TestUUIDCache_Expiry(t *testing.T) {
	c := NewUUIDCache(100 * time.Millisecond)
	c.Set("vault", uuid.New())

	_, ok := c.Get("vault")
	if !ok {
		t.Error("entry should be available immediately after set")
	}

	time.Sleep(150 * time.Millisecond)

	_, ok = c.Get("vault")
	if ok {
		t.Error("entry should be expired after TTL")
	}
}

func TestUUIDCache_Age(t *testing.T) {
	c := NewUUIDCache(1 * time.Hour)

	age := c.Age("nonexistent")
	if age != 0 {
		t.Errorf("age of nonexistent entry should be 0, got %v", age)
	}

	c.Set("vault", uuid.New())
	time.Sleep(50 * time.Millisecond)

	age = c.Age("vault")
	if age < 40*time.Millisecond || age > 150*time.Millisecond {
		t.Errorf("age should be ~50ms, got %v", age)
	}
}

func TestUUIDCache_Size(t *testing.T) {
	c := NewUUIDCache(1 * time.Hour)
	if c.Size() != 0 {
		t.Errorf("new cache should have size 0, got %d", c.Size())
	}

	c.Set("vault-a", uuid.New())
	c.Set("vault-b", uuid.New())

	if c.Size() != 2 {
		t.Errorf("cache size should be 2, got %d", c.Size())
	}
}

func TestUUIDCache_Clear(t *testing.T) {
	c := NewUUIDCache(1 * time.Hour)
	c.Set("vault-a", uuid.New())
	c.Set("vault-b", uuid.New())

	c.Clear()

	if c.Size() != 0 {
		t.Errorf("cache should be empty after Clear(), got size %d", c.Size())
	}
	_, ok := c.Get("vault-a")
	if ok {
		t.Error("vault-a should not exist after Clear()")
	}
}

func TestUUIDCache_ConcurrentAccess(t *testing.T) {
	c := NewUUIDCache(1 * time.Hour)
	id := uuid.New()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Set("vault", id)
			}
		}()
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Get("vault")
				c.Age("vault")
			}
		}()
	}
	wg.Wait()

	got, ok := c.Get("vault")
	if !ok || got != id {
		t.Error("vault should resolve to id after concurrent access")
	}
}

func TestUUIDCache_DefaultMaxAge(t *testing.T) {
	c := NewUUIDCache(0)
	c.Set("vault", uuid.New())

	time.Sleep(10 * time.Millisecond)
	_, ok := c.Get("vault")
	if !ok {
		t.Error("entry should be available with default 1h TTL")
	}
}

func TestUUIDCache_UpdateExistingEntry(t *testing.T) {
	c := NewUUIDCache(1 * time.Hour)
	first := uuid.New()
	second := uuid.New()

	c.Set("vault", first)
	time.Sleep(10 * time.Millisecond)
	c.Set("vault", second)

	got, ok := c.Get("vault")
	if !ok || got != second {
		t.Errorf("cached id = %v, want %v", got, second)
	}

	if age := c.Age("vault"); age > 50*time.Millisecond {
		t.Errorf("age should be recent after update, got %v", age)
	}
}

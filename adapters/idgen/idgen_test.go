package idgen_test

import (
	"regexp"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/artpar/faunagate/adapters/clock"
	"github.com/artpar/faunagate/adapters/idgen"
)

func TestUUID_New(t *testing.T) {
	g := idgen.UUID{}

	id := g.New()
	uuidRegex := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	if !uuidRegex.MatchString(id) {
		t.Errorf("ID %s doesn't match UUID v4 format", id)
	}
}

func TestNumeric_New(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	g := idgen.NewNumeric(clock.NewFake(now))

	first := g.New()
	want := strconv.FormatInt(now.UnixMilli()<<12, 10)
	if first != want {
		t.Errorf("first ID = %s, want %s", first, want)
	}

	second := g.New()
	a, _ := strconv.ParseInt(first, 10, 64)
	b, _ := strconv.ParseInt(second, 10, 64)
	if b != a+1 {
		t.Errorf("second ID = %d, want %d", b, a+1)
	}
}

func TestNumeric_ClockAdvances(t *testing.T) {
	c := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	g := idgen.NewNumeric(c)

	a, _ := strconv.ParseInt(g.New(), 10, 64)
	c.Advance(time.Second)
	b, _ := strconv.ParseInt(g.New(), 10, 64)

	if b-a != 1000<<12 {
		t.Errorf("ids %d apart, want %d", b-a, 1000<<12)
	}
}

func TestNumeric_ConcurrentUnique(t *testing.T) {
	g := idgen.NewNumeric(clock.Real{})

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := g.New()
				mu.Lock()
				if seen[id] {
					t.Errorf("duplicate ID generated: %s", id)
				}
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
}

func TestSequential_New(t *testing.T) {
	g := idgen.NewSequential("test_")

	for _, want := range []string{"test_1", "test_2", "test_3"} {
		if id := g.New(); id != want {
			t.Errorf("ID = %s, want %s", id, want)
		}
	}

	g.Reset()
	if id := g.New(); id != "test_1" {
		t.Errorf("after Reset ID = %s, want test_1", id)
	}
}

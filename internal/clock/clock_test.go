package clock

import "testing"

func TestIDGenSequenceIsMonotonicAndPrefixed(t *testing.T) {
	g := NewIDGen("seg")

	first := g.Next()
	second := g.Next()

	if first == second {
		t.Fatalf("expected distinct ids, got %q twice", first)
	}
	if first != "seg-000001" {
		t.Fatalf("expected seg-000001, got %q", first)
	}
	if second != "seg-000002" {
		t.Fatalf("expected seg-000002, got %q", second)
	}
}

func TestIDGenConcurrentUseProducesUniqueIDs(t *testing.T) {
	g := NewIDGen("job")
	const n = 200
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		go func() { ids <- g.Next() }()
	}

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		id := <-ids
		if seen[id] {
			t.Fatalf("duplicate id %q generated under concurrency", id)
		}
		seen[id] = true
	}
}

func TestNewCorrelationIDIsNonEmptyAndUnique(t *testing.T) {
	a := NewCorrelationID()
	b := NewCorrelationID()
	if a == "" || b == "" {
		t.Fatal("expected non-empty correlation ids")
	}
	if a == b {
		t.Fatal("expected distinct correlation ids")
	}
}

func TestSystemClockReturnsPositiveMillis(t *testing.T) {
	var c Clock = System{}
	if c.NowMillis() <= 0 {
		t.Fatal("expected a positive millisecond timestamp")
	}
}

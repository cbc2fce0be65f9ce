package devregistry

import "testing"

func TestResolve_KnownSerial(t *testing.T) {
	path := Resolve("DEMO-0001")
	if path != "./sfse-demo-0001.img" {
		t.Fatalf("Resolve(DEMO-0001) = %q", path)
	}
}

func TestResolve_UnknownSerialPassesThrough(t *testing.T) {
	path := Resolve("/dev/sdb")
	if path != "/dev/sdb" {
		t.Fatalf("Resolve(unknown) = %q, want pass-through", path)
	}
}

func TestLookup(t *testing.T) {
	entry, ok := Lookup("BENCH-0001")
	if !ok {
		t.Fatalf("expected BENCH-0001 to be found")
	}
	if entry.Path != "./sfse-benchmark.img" {
		t.Fatalf("unexpected path: %q", entry.Path)
	}

	if _, ok := Lookup("nope"); ok {
		t.Fatalf("expected unknown serial to be not-found")
	}
}

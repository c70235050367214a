package nonceiter

import "testing"

// TestPartitionCompleteness is the literal scenario from spec.md §8.1:
// 4 nodes x 2 devices, L=100 prefix each -> union has 800 unique values,
// min 0, max 799.
func TestPartitionCompleteness(t *testing.T) {
	const nNodes, nDevices, prefixLen = 4, 2, 100

	seen := make(map[uint64]int)
	for node := 0; node < nNodes; node++ {
		for dev := 0; dev < nDevices; dev++ {
			it := New(node, nNodes, dev, nDevices)
			for i := 0; i < prefixLen; i++ {
				seen[it.Next()]++
			}
		}
	}

	want := nNodes * nDevices * prefixLen
	if len(seen) != want {
		t.Fatalf("union size = %d, want %d", len(seen), want)
	}
	var min, max uint64
	max = 0
	min = ^uint64(0)
	for n, count := range seen {
		if count != 1 {
			t.Fatalf("nonce %d produced by %d iterators, want exactly 1 (no overlap)", n, count)
		}
		if n < min {
			min = n
		}
		if n > max {
			max = n
		}
	}
	if min != 0 {
		t.Fatalf("min = %d, want 0", min)
	}
	if max != uint64(want-1) {
		t.Fatalf("max = %d, want %d", max, want-1)
	}
}

func TestGenericPartitionProperty(t *testing.T) {
	for _, nNodes := range []int{1, 2, 3, 5} {
		for _, nDevices := range []int{1, 2, 4} {
			const L = 37
			seen := make(map[uint64]bool)
			for node := 0; node < nNodes; node++ {
				for dev := 0; dev < nDevices; dev++ {
					it := New(node, nNodes, dev, nDevices)
					for i := 0; i < L; i++ {
						n := it.Next()
						if seen[n] {
							t.Fatalf("nNodes=%d nDevices=%d: nonce %d produced twice", nNodes, nDevices, n)
						}
						seen[n] = true
					}
				}
			}
			want := nNodes * nDevices * L
			if len(seen) != want {
				t.Fatalf("nNodes=%d nDevices=%d: union size %d, want %d", nNodes, nDevices, len(seen), want)
			}
		}
	}
}

func TestRestartReplaysSameSequence(t *testing.T) {
	it := New(1, 4, 0, 2)
	first := it.NextN(10)

	it.Restart(1, 4, 0, 2)
	second := it.NextN(10)

	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("restart did not replay sequence: %v vs %v", first, second)
		}
	}
}

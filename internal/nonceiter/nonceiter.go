// Package nonceiter implements the disjoint, infinite nonce enumeration
// partitioned across (node, device) pairs (spec.md §4.2).
package nonceiter

// Iterator produces a strictly increasing, infinite sequence of nonces
// such that the union across every (node, device) pair covers the
// naturals exactly once. It holds no RNG state and is fully restartable
// and replayable from its stride/offset alone.
type Iterator struct {
	stride uint64
	next   uint64
}

// New returns an Iterator for (nodeID, device deviceID) out of nNodes
// nodes each running nDevices devices. The stride is nNodes*nDevices and
// the starting offset is nodeID*nDevices+deviceID, so pairwise
// intersections across all (node, device) iterators are empty and their
// union is {0, 1, 2, ...}.
func New(nodeID, nNodes, deviceID, nDevices int) *Iterator {
	stride := uint64(nNodes) * uint64(nDevices)
	offset := uint64(nodeID)*uint64(nDevices) + uint64(deviceID)
	return &Iterator{stride: stride, next: offset}
}

// Next returns the next nonce in the sequence and advances the iterator.
func (it *Iterator) Next() uint64 {
	n := it.next
	it.next += it.stride
	return n
}

// NextN returns the next n nonces in order.
func (it *Iterator) NextN(n int) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = it.Next()
	}
	return out
}

// Restart resets the iterator back to its initial offset, reproducing the
// exact same sequence from the start.
func (it *Iterator) Restart(nodeID, nNodes, deviceID, nDevices int) {
	*it = *New(nodeID, nNodes, deviceID, nDevices)
}

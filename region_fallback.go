//go:build !linux && !darwin

package allocator

// acquireRegion falls back to a plain Go-heap slice on platforms without
// anonymous mmap support. The allocator's own protocol (segment headers,
// offset-based links) is unaffected either way since it never depends on the
// buffer's absolute address.
func acquireRegion(size int) ([]byte, func(), error) {
	return make([]byte, size), func() {}, nil
}

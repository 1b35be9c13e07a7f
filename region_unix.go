//go:build linux || darwin

package allocator

import "golang.org/x/sys/unix"

// acquireRegion reserves a private, anonymous, page-aligned region of size
// bytes the allocator owns for the remainder of the process, mirroring
// hivekit's mmap-based approach to owning a block of memory outside the Go
// heap (hive/loader_unix.go uses syscall.Mmap over a file; here it's
// anonymous since the allocator's region has no backing file).
func acquireRegion(size int) ([]byte, func(), error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, err
	}
	release := func() { _ = unix.Munmap(data) }
	return data, release, nil
}

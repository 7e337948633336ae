//go:build !unix

package mmap

// Heap fallback for platforms without mmap support.
func osMapAnon(size int) ([]byte, func([]byte) error, error) {
	return make([]byte, size), func([]byte) error { return nil }, nil
}

//go:build unix

package geotiff

import "syscall"

// mmapFile maps a file read-only. The descriptor may be closed afterwards.
func mmapFile(fd uintptr, size int) ([]byte, error) {
	return syscall.Mmap(int(fd), 0, size, syscall.PROT_READ, syscall.MAP_PRIVATE)
}

func munmapFile(data []byte) error {
	return syscall.Munmap(data)
}

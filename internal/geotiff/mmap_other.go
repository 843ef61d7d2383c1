//go:build !unix

package geotiff

import "errors"

var errNoMmap = errors.New("memory mapping is not supported on this platform")

// mmapFile always fails here; Open then reads the file into memory.
func mmapFile(fd uintptr, size int) ([]byte, error) {
	return nil, errNoMmap
}

func munmapFile(data []byte) error {
	return nil
}

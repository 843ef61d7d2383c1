//go:build !darwin && !linux

package tilestore

import "errors"

func totalSystemRAM() (uint64, error) {
	return 0, errors.New("RAM detection unsupported on this platform")
}

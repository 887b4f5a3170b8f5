package systems

import "unsafe"

// sliceBytes reinterprets a slice of plain-old-data values as raw bytes
// without copying. T must not contain pointers.
func sliceBytes[T any](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var zero T
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(zero)))
}

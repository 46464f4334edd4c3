package graphics

import (
	"unsafe"
)

var end = "\x00"
var endChar byte = '\x00'

// ToBytes converts an unsafe.Pointer and a length in bytes to a byte
// slice backed by the pointed-to memory.
func ToBytes(ptr unsafe.Pointer, lenInBytes int) []byte {
	const m = 0x7fffffff
	return (*[m]byte)(ptr)[:lenInBytes]
}

func safeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

func safeStrings(list []string) []string {
	for i := range list {
		list[i] = safeString(list[i])
	}
	return list
}

func sliceUint32(data []byte) []uint32 {
	const m = 0x7fffffff
	return (*[m / 4]uint32)(unsafe.Pointer((*sliceHeader)(unsafe.Pointer(&data)).Data))[:len(data)/4]
}

type sliceHeader struct {
	Data uintptr
	Len  int
	Cap  int
}

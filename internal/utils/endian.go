package utils

import "encoding/binary"

// Wire fields are big-endian. These helpers read and write integer fields
// at fixed offsets inside a frame buffer.

// Uint16At reads a 16-bit big-endian value at the given offset.
func Uint16At(buf []byte, off int) uint16 {
	return binary.BigEndian.Uint16(buf[off : off+2])
}

// PutUint16At writes a 16-bit big-endian value at the given offset.
func PutUint16At(buf []byte, off int, v uint16) {
	binary.BigEndian.PutUint16(buf[off:off+2], v)
}

// Uint32At reads a 32-bit big-endian value at the given offset.
func Uint32At(buf []byte, off int) uint32 {
	return binary.BigEndian.Uint32(buf[off : off+4])
}

// PutUint32At writes a 32-bit big-endian value at the given offset.
func PutUint32At(buf []byte, off int, v uint32) {
	binary.BigEndian.PutUint32(buf[off:off+4], v)
}

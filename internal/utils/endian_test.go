package utils

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUint16At_RoundTrip(t *testing.T) {
	buf := make([]byte, 8)
	PutUint16At(buf, 2, 0xFFAC)
	require.Equal(t, uint16(0xFFAC), Uint16At(buf, 2))
	require.Equal(t, byte(0xFF), buf[2], "big-endian: high byte first")
	require.Equal(t, byte(0xAC), buf[3])
}

func TestUint32At_RoundTrip(t *testing.T) {
	buf := make([]byte, 8)
	PutUint32At(buf, 4, 0xDEADBEEF)
	require.Equal(t, uint32(0xDEADBEEF), Uint32At(buf, 4))
	require.Equal(t, byte(0xDE), buf[4])
}

package hashio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSum_KnownVectors(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected string
	}{
		{
			name:     "empty input",
			data:     nil,
			expected: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name:     "abc",
			data:     []byte("abc"),
			expected: "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, Sum(tt.data))
		})
	}
}

func TestSumPair_MatchesConcatenation(t *testing.T) {
	left := Sum([]byte("left chunk"))
	right := Sum([]byte("right chunk"))
	require.Equal(t, Sum([]byte(left+right)), SumPair(left, right))
}

func TestValid(t *testing.T) {
	require.True(t, Valid(Sum([]byte("x"))))
	require.False(t, Valid("abc"))
	require.False(t, Valid(Sum([]byte("x"))[:63]+"G"))
	require.False(t, Valid(Sum([]byte("x"))[:63]+"A"), "uppercase hex rejected")
}

package packet

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	testIdent = strings.Repeat("ab", 16)
	testHash  = strings.Repeat("cd", 32)
)

func roundTrip(t *testing.T, p *Packet) *Packet {
	t.Helper()
	buf := make([]byte, FrameSize)
	require.NoError(t, p.Marshal(buf))
	out, err := Unmarshal(buf)
	require.NoError(t, err)
	return out
}

func TestMarshal_RoundTripControl(t *testing.T) {
	for _, code := range []Code{ACP, ACK, DSN, PNG, POG} {
		t.Run(code.String(), func(t *testing.T) {
			out := roundTrip(t, &Packet{Code: code})
			require.Equal(t, code, out.Code)
			require.Zero(t, out.Error)
			require.Empty(t, out.Chunk.Data)
		})
	}
}

func TestMarshal_RoundTripReq(t *testing.T) {
	req := NewReq(testIdent, testHash, 4096, 1024)
	out := roundTrip(t, req)
	require.Equal(t, REQ, out.Code)
	require.Equal(t, testIdent, out.Chunk.Ident)
	require.Equal(t, testHash, out.Chunk.Hash)
	require.Equal(t, uint32(4096), out.Chunk.Offset)
	require.Equal(t, uint32(1024), out.Chunk.Size)
	require.Nil(t, out.Chunk.Data, "REQ carries no data")
}

func TestMarshal_RoundTripRes(t *testing.T) {
	data := []byte("sixteen byte pay")
	res := NewRes(0, Chunk{
		Ident:  testIdent,
		Hash:   testHash,
		Offset: 32,
		Size:   uint32(len(data)),
		Data:   data,
	})
	out := roundTrip(t, res)
	require.Zero(t, out.Error)
	require.Equal(t, data, out.Chunk.Data)
}

func TestMarshal_RoundTripResError(t *testing.T) {
	res := NewRes(1, Chunk{Ident: testIdent, Hash: testHash})
	out := roundTrip(t, res)
	require.Equal(t, uint8(1), out.Error)
	require.Nil(t, out.Chunk.Data, "error RES carries no data")
}

func TestMarshal_WireLayout(t *testing.T) {
	buf := make([]byte, FrameSize)
	require.NoError(t, (&Packet{Code: PNG}).Marshal(buf))
	require.Equal(t, []byte{0x00, 0xff}, buf[0:2], "code is big-endian")
	require.Equal(t, byte(0), buf[3], "reserved byte is zero")
}

func TestMarshal_Validation(t *testing.T) {
	buf := make([]byte, FrameSize)

	err := NewReq("short", testHash, 0, 16).Marshal(buf)
	require.ErrorIs(t, err, ErrFrame)

	err = NewReq(testIdent, "short", 0, 16).Marshal(buf)
	require.ErrorIs(t, err, ErrFrame)

	big := make([]byte, DataMax+1)
	err = NewRes(0, Chunk{Ident: testIdent, Hash: testHash, Size: uint32(len(big)), Data: big}).Marshal(buf)
	require.ErrorIs(t, err, ErrFrame)

	err = (&Packet{Code: PNG}).Marshal(make([]byte, 10))
	require.ErrorIs(t, err, ErrFrame)
}

func TestUnmarshal_UnknownCode(t *testing.T) {
	buf := make([]byte, FrameSize)
	require.NoError(t, (&Packet{Code: Code(0x4242)}).Marshal(buf))
	out, err := Unmarshal(buf)
	require.NoError(t, err, "unknown codes unmarshal successfully")
	require.Equal(t, Code(0x4242), out.Code)
}

func TestUnmarshal_BadFrames(t *testing.T) {
	_, err := Unmarshal(make([]byte, FrameSize-1))
	require.ErrorIs(t, err, ErrFrame)

	buf := make([]byte, FrameSize)
	require.NoError(t, NewRes(0, Chunk{Ident: testIdent, Hash: testHash}).Marshal(buf))
	// Corrupt the declared size past the frame capacity.
	buf[sizeOff] = 0xff
	buf[sizeOff+1] = 0xff
	buf[sizeOff+2] = 0xff
	buf[sizeOff+3] = 0xff
	_, err = Unmarshal(buf)
	require.ErrorIs(t, err, ErrFrame)
}

func TestMaxPayloadFits(t *testing.T) {
	data := make([]byte, DataMax)
	for i := range data {
		data[i] = byte(i)
	}
	res := NewRes(0, Chunk{Ident: testIdent, Hash: testHash, Size: DataMax, Data: data})
	out := roundTrip(t, res)
	require.Equal(t, data, out.Chunk.Data)
}

// Package packet marshals the fixed-size wire frames peers exchange. Every
// frame is FrameSize bytes: a big-endian message code, an error byte, a
// reserved byte, and a zero-padded payload.
package packet

import (
	"errors"
	"fmt"

	"github.com/btide/btide/internal/utils"
)

// Frame layout constants. FrameSize is a deployment constant shared by all
// peers; both sides must agree on it.
const (
	FrameSize  = 4096
	headerSize = 4
	// PayloadMax is the payload region size within a frame.
	PayloadMax = FrameSize - headerSize
)

// Chunk payload layout: ident, chunk hash, offset, size, then data.
const (
	identOff  = headerSize
	identLen  = 32
	hashOff   = identOff + identLen
	hashLen   = 64
	offsetOff = hashOff + hashLen
	sizeOff   = offsetOff + 4
	dataOff   = sizeOff + 4
	// DataMax is the largest chunk a single frame can carry.
	DataMax = FrameSize - dataOff
)

// Code identifies a wire message.
type Code uint16

// Message codes.
const (
	POG Code = 0x00
	ACP Code = 0x02
	DSN Code = 0x03
	REQ Code = 0x06
	RES Code = 0x07
	ACK Code = 0x0c
	PNG Code = 0xff
)

// String returns the protocol mnemonic for the code.
func (c Code) String() string {
	switch c {
	case ACP:
		return "ACP"
	case ACK:
		return "ACK"
	case DSN:
		return "DSN"
	case REQ:
		return "REQ"
	case RES:
		return "RES"
	case PNG:
		return "PNG"
	case POG:
		return "POG"
	default:
		return fmt.Sprintf("0x%04x", uint16(c))
	}
}

// ErrFrame is returned when a frame cannot be marshalled or unmarshalled.
var ErrFrame = errors.New("bad frame")

// Chunk is the payload of REQ and RES messages. Data is empty for REQ and
// for error RES frames.
type Chunk struct {
	Ident  string
	Hash   string
	Offset uint32
	Size   uint32
	Data   []byte
}

// Packet is one decoded wire frame. Chunk is meaningful only for REQ and
// RES codes.
type Packet struct {
	Code  Code
	Error uint8
	Chunk Chunk
}

// NewReq builds a chunk request packet.
func NewReq(ident, hash string, offset, size uint32) *Packet {
	return &Packet{Code: REQ, Chunk: Chunk{Ident: ident, Hash: hash, Offset: offset, Size: size}}
}

// NewRes builds a chunk response. A non-zero errByte signals a failed
// lookup and carries no data.
func NewRes(errByte uint8, c Chunk) *Packet {
	return &Packet{Code: RES, Error: errByte, Chunk: c}
}

// Marshal encodes the packet into buf, which must be FrameSize bytes.
// Unused payload bytes are zeroed.
func (p *Packet) Marshal(buf []byte) error {
	if len(buf) != FrameSize {
		return fmt.Errorf("%w: marshal buffer is %d bytes, want %d", ErrFrame, len(buf), FrameSize)
	}
	for i := range buf {
		buf[i] = 0
	}
	utils.PutUint16At(buf, 0, uint16(p.Code))
	buf[2] = p.Error

	if p.Code != REQ && p.Code != RES {
		return nil
	}

	if len(p.Chunk.Ident) != identLen {
		return fmt.Errorf("%w: ident is %d bytes, want %d", ErrFrame, len(p.Chunk.Ident), identLen)
	}
	if len(p.Chunk.Hash) != hashLen {
		return fmt.Errorf("%w: hash is %d bytes, want %d", ErrFrame, len(p.Chunk.Hash), hashLen)
	}
	if len(p.Chunk.Data) > DataMax {
		return fmt.Errorf("%w: %d data bytes exceed frame capacity %d", ErrFrame, len(p.Chunk.Data), DataMax)
	}

	copy(buf[identOff:], p.Chunk.Ident)
	copy(buf[hashOff:], p.Chunk.Hash)
	utils.PutUint32At(buf, offsetOff, p.Chunk.Offset)
	utils.PutUint32At(buf, sizeOff, p.Chunk.Size)
	copy(buf[dataOff:], p.Chunk.Data)
	return nil
}

// Unmarshal decodes a frame. Unknown codes decode successfully with an
// empty payload; dispatch ignores them.
func Unmarshal(buf []byte) (*Packet, error) {
	if len(buf) != FrameSize {
		return nil, fmt.Errorf("%w: frame is %d bytes, want %d", ErrFrame, len(buf), FrameSize)
	}

	p := &Packet{
		Code:  Code(utils.Uint16At(buf, 0)),
		Error: buf[2],
	}
	if p.Code != REQ && p.Code != RES {
		return p, nil
	}

	p.Chunk.Ident = string(buf[identOff : identOff+identLen])
	p.Chunk.Hash = string(buf[hashOff : hashOff+hashLen])
	p.Chunk.Offset = utils.Uint32At(buf, offsetOff)
	p.Chunk.Size = utils.Uint32At(buf, sizeOff)

	if p.Code == RES && p.Error == 0 {
		if p.Chunk.Size > DataMax {
			return nil, fmt.Errorf("%w: declared data size %d exceeds frame capacity %d",
				ErrFrame, p.Chunk.Size, DataMax)
		}
		p.Chunk.Data = make([]byte, p.Chunk.Size)
		copy(p.Chunk.Data, buf[dataOff:dataOff+int(p.Chunk.Size)])
	}
	return p, nil
}

// Package segment implements the microtcp wire format: a fixed 32-byte
// big-endian header followed by the payload, protected by a CRC32.
//
//	0      4      8       10      12        16                    28        32
//	| seq  | ack  | flags | window| data_len| reserved (3 x u32)  | checksum|
package segment

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"

	"github.com/pkg/errors"
)

// HeaderSize is the size of the fixed header in bytes.
const HeaderSize = 32

// field offsets
const (
	offSeq      = 0
	offAck      = 4
	offFlags    = 8
	offWindow   = 10
	offDataLen  = 12
	offReserved = 16
	offChecksum = 28
)

// Flags is the control bitset carried in the header.
type Flags uint16

// Control flags.
const (
	FlagACK Flags = 1 << 0
	FlagRST Flags = 1 << 1
	FlagSYN Flags = 1 << 2
	FlagFIN Flags = 1 << 3
)

// Has reports whether every flag in o is set in f.
func (f Flags) Has(o Flags) bool { return f&o == o }

func (f Flags) String() string {
	if f == 0 {
		return "NONE"
	}
	var parts []string
	for _, fl := range []struct {
		bit  Flags
		name string
	}{{FlagSYN, "SYN"}, {FlagFIN, "FIN"}, {FlagRST, "RST"}, {FlagACK, "ACK"}} {
		if f&fl.bit != 0 {
			parts = append(parts, fl.name)
		}
	}
	if rest := f &^ (FlagSYN | FlagFIN | FlagRST | FlagACK); rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint16(rest)))
	}
	return strings.Join(parts, "|")
}

// Header is a decoded segment header in host byte order.
type Header struct {
	Seq      uint32
	Ack      uint32
	Flags    Flags
	Window   uint16
	DataLen  uint32
	Checksum uint32
}

func (h Header) String() string {
	return fmt.Sprintf("%s seq=%d ack=%d win=%d len=%d", h.Flags, h.Seq, h.Ack, h.Window, h.DataLen)
}

var (
	// ErrMalformed is returned for buffers that cannot hold the header or
	// the payload length the header announces.
	ErrMalformed = errors.New("malformed segment")

	// ErrChecksumMismatch is returned when the CRC32 does not match the contents.
	ErrChecksumMismatch = errors.New("checksum mismatch")
)

var crcTable = crc32.MakeTable(crc32.IEEE)

// Checksum computes the segment CRC32 over b as if its checksum field were
// zero. b is not modified.
func Checksum(b []byte) uint32 {
	var zero [4]byte
	crc := crc32.Update(0, crcTable, b[:offChecksum])
	crc = crc32.Update(crc, crcTable, zero[:])
	return crc32.Update(crc, crcTable, b[HeaderSize:])
}

// Encode builds a segment: header fields in network byte order, reserved
// words zero, checksum computed last over header and payload.
func Encode(seq, ack uint32, window uint16, flags Flags, payload []byte) []byte {
	b := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(b[offSeq:], seq)
	binary.BigEndian.PutUint32(b[offAck:], ack)
	binary.BigEndian.PutUint16(b[offFlags:], uint16(flags))
	binary.BigEndian.PutUint16(b[offWindow:], window)
	binary.BigEndian.PutUint32(b[offDataLen:], uint32(len(payload)))
	copy(b[HeaderSize:], payload)
	binary.BigEndian.PutUint32(b[offChecksum:], Checksum(b))
	return b
}

// Decode reads the header fields of b. It does not validate the checksum
// or the flags.
func Decode(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, errors.Wrapf(ErrMalformed, "%d bytes, header needs %d", len(b), HeaderSize)
	}
	h := Header{
		Seq:      binary.BigEndian.Uint32(b[offSeq:]),
		Ack:      binary.BigEndian.Uint32(b[offAck:]),
		Flags:    Flags(binary.BigEndian.Uint16(b[offFlags:])),
		Window:   binary.BigEndian.Uint16(b[offWindow:]),
		DataLen:  binary.BigEndian.Uint32(b[offDataLen:]),
		Checksum: binary.BigEndian.Uint32(b[offChecksum:]),
	}
	if uint64(h.DataLen) > uint64(len(b)-HeaderSize) {
		return h, errors.Wrapf(ErrMalformed, "payload length %d, only %d bytes follow the header",
			h.DataLen, len(b)-HeaderSize)
	}
	return h, nil
}

// VerifyChecksum reports whether the checksum stored in b matches its contents.
func VerifyChecksum(b []byte) bool {
	if len(b) < HeaderSize {
		return false
	}
	return binary.BigEndian.Uint32(b[offChecksum:]) == Checksum(b)
}

// Parse verifies the checksum of a received datagram and decodes it. The
// returned payload aliases b.
func Parse(b []byte) (Header, []byte, error) {
	if len(b) < HeaderSize {
		return Header{}, nil, errors.Wrapf(ErrMalformed, "%d bytes, header needs %d", len(b), HeaderSize)
	}
	if !VerifyChecksum(b) {
		return Header{}, nil, ErrChecksumMismatch
	}
	h, err := Decode(b)
	if err != nil {
		return h, nil, err
	}
	return h, b[HeaderSize : HeaderSize+int(h.DataLen)], nil
}

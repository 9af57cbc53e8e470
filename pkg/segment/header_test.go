package segment

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"net"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeLayout(t *testing.T) {
	payload := []byte("hello")
	b := Encode(0x01020304, 0x0a0b0c0d, 0x1234, FlagSYN|FlagACK, payload)

	require.Len(t, b, HeaderSize+len(payload))
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, b[0:4])
	assert.Equal(t, []byte{0x0a, 0x0b, 0x0c, 0x0d}, b[4:8])
	assert.Equal(t, []byte{0x00, 0x05}, b[8:10], "SYN is bit 2, ACK is bit 0")
	assert.Equal(t, []byte{0x12, 0x34}, b[10:12])
	assert.Equal(t, []byte{0, 0, 0, 5}, b[12:16])
	assert.Equal(t, make([]byte, 12), b[16:28], "reserved words are zero")
	assert.Equal(t, payload, b[HeaderSize:])

	// checksum is the IEEE CRC32 of the segment with a zeroed checksum field
	zeroed := append([]byte(nil), b...)
	copy(zeroed[28:32], []byte{0, 0, 0, 0})
	assert.Equal(t, crc32.ChecksumIEEE(zeroed), binary.BigEndian.Uint32(b[28:32]))
}

func TestDecode(t *testing.T) {
	b := Encode(100, 501, 8192, FlagACK|FlagFIN, []byte{1, 2, 3})

	h, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), h.Seq)
	assert.Equal(t, uint32(501), h.Ack)
	assert.Equal(t, FlagACK|FlagFIN, h.Flags)
	assert.Equal(t, uint16(8192), h.Window)
	assert.Equal(t, uint32(3), h.DataLen)
	assert.Equal(t, binary.BigEndian.Uint32(b[28:]), h.Checksum)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode(make([]byte, HeaderSize-1))
	assert.True(t, errors.Is(err, ErrMalformed))

	// header announces more payload than the datagram carries
	b := Encode(1, 2, 3, FlagACK, []byte("abcd"))
	_, err = Decode(b[:len(b)-1])
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestChecksumRoundTrip(t *testing.T) {
	cases := [][]byte{nil, {0}, []byte("microtcp"), bytes.Repeat([]byte{0xAA}, 1400)}
	for _, payload := range cases {
		b := Encode(0xFFFFFFF0, 7, 0xFFFF, FlagACK, payload)
		assert.True(t, VerifyChecksum(b), "len=%d", len(payload))
	}
}

func TestChecksumSingleBitFlip(t *testing.T) {
	b := Encode(42, 4242, 1024, FlagSYN|FlagACK, []byte("payload bytes"))
	for i := 0; i < len(b)*8; i++ {
		flipped := append([]byte(nil), b...)
		flipped[i/8] ^= 1 << (i % 8)
		if VerifyChecksum(flipped) {
			t.Fatalf("bit %d flip was not detected", i)
		}
	}
}

func TestParse(t *testing.T) {
	b := Encode(9, 10, 11, FlagACK, []byte("data"))

	h, payload, err := Parse(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), h.Seq)
	assert.Equal(t, []byte("data"), payload)

	b[HeaderSize] ^= 0xFF
	_, _, err = Parse(b)
	assert.True(t, errors.Is(err, ErrChecksumMismatch))

	_, _, err = Parse(b[:10])
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestFlagsString(t *testing.T) {
	assert.Equal(t, "SYN|ACK", (FlagSYN | FlagACK).String())
	assert.Equal(t, "FIN|ACK", (FlagFIN | FlagACK).String())
	assert.Equal(t, "NONE", Flags(0).String())
	assert.Equal(t, "RST|0x10", (FlagRST | 0x10).String())
}

func TestClassifier(t *testing.T) {
	h := Header{Seq: 500, Ack: 101, Flags: FlagSYN | FlagACK}

	assert.True(t, Matches(h, FlagSYN))
	assert.True(t, Matches(h, FlagSYN|FlagACK))
	assert.False(t, Matches(h, FlagSYN|FlagFIN))

	assert.True(t, AckMatches(h, 101))
	assert.False(t, AckMatches(h, 100))
}

func TestSamePeer(t *testing.T) {
	a := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}
	mapped := &net.UDPAddr{IP: net.ParseIP("::ffff:127.0.0.1"), Port: 9000}
	otherPort := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9001}
	otherIP := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 2), Port: 9000}

	assert.True(t, SamePeer(a, a))
	assert.True(t, SamePeer(mapped, a))
	assert.False(t, SamePeer(otherPort, a))
	assert.False(t, SamePeer(otherIP, a))
	assert.False(t, SamePeer(nil, a))
}

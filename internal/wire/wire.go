package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const version byte = 1

// Kind tags what a framed record holds so a record written under one key is
// never mistaken for another shape.
type Kind byte

const (
	KindNamespace   Kind = 1
	KindBlobIndex   Kind = 2
	KindQueue       Kind = 3
	KindDeadLetters Kind = 4
)

const hdr = 4 + 1 + 1 + 1 + 4 // magic | ver | kind | enc | vlen

var (
	ErrCorrupt = errors.New("fieldsync: corrupt record")
	magic4     = [...]byte{'F', 'S', 'Y', 'N'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Encode frames payload:
//
//	magic(4) | ver(1) | kind(1) | enc(1) | vlen(u32 be) | payload(vlen)
//
// enc identifies the codec the payload was written with so a store can be read
// back after the configured encoding changes.
func Encode(kind Kind, enc byte, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(hdr + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(byte(kind))
	buf.WriteByte(enc)

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// Decode validates the frame and returns the encoding tag and payload.
// Trailing bytes, a foreign magic, a different version or kind are all corrupt.
func Decode(kind Kind, b []byte) (enc byte, payload []byte, err error) {
	if len(b) < hdr || !hasMagic(b) || b[4] != version || Kind(b[5]) != kind {
		return 0, nil, ErrCorrupt
	}
	enc = b[6]
	off := 7

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return 0, nil, ErrCorrupt
	}
	return enc, b[off:], nil
}

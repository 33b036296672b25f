package fieldsync

import (
	"fmt"
	"strings"

	"github.com/unkn0wn-root/fieldsync/codec"
)

// Encoding selects how cache records are serialized inside their frame.
// The queue snapshot is always JSON.
type Encoding byte

const (
	EncodingJSON Encoding = iota
	EncodingCBOR
	EncodingMsgpack
)

func (e Encoding) String() string {
	switch e {
	case EncodingCBOR:
		return "cbor"
	case EncodingMsgpack:
		return "msgpack"
	default:
		return "json"
	}
}

// ParseEncoding accepts "json", "cbor" or "msgpack" (case-insensitive); empty means JSON.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return EncodingJSON, nil
	case "cbor":
		return EncodingCBOR, nil
	case "msgpack":
		return EncodingMsgpack, nil
	default:
		return EncodingJSON, fmt.Errorf("fieldsync: unknown encoding %q", s)
	}
}

func recordCodec[T any](e Encoding) codec.Codec[T] {
	switch e {
	case EncodingCBOR:
		return codec.MustCBOR[T](true)
	case EncodingMsgpack:
		return codec.Msgpack[T]{}
	default:
		return codec.JSON[T]{}
	}
}

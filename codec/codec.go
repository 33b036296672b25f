// Package codec turns typed cache values into the bytes stored in a namespace
// entry and back. Every codec is safe for concurrent use.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

package codec

import "google.golang.org/protobuf/proto"

// Protobuf caches generated messages, e.g. report payloads shared with the
// backend's gRPC surface.
type Protobuf[T proto.Message] struct {
	new func() T // e.g. func() *pb.Report { return &pb.Report{} }
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{new: ctor}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return proto.Marshal(v)
}

func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.new()
	err := proto.Unmarshal(b, m)
	return m, err
}

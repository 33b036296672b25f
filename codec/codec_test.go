package codec

import (
	"strings"
	"testing"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

type report struct {
	ID       string   `json:"id"`
	Category string   `json:"category"`
	Lat      float64  `json:"lat"`
	Lng      float64  `json:"lng"`
	Tags     []string `json:"tags"`
}

func roundTrip[V any](t *testing.T, c Codec[V], v V) V {
	t.Helper()
	b, err := c.Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := c.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return got
}

func TestStructCodecs(t *testing.T) {
	in := report{ID: "r1", Category: "pothole", Lat: -17.64, Lng: -71.33, Tags: []string{"road"}}
	codecs := map[string]Codec[report]{
		"json":    JSON[report]{},
		"cbor":    MustCBOR[report](true),
		"msgpack": Msgpack[report]{},
	}
	for name, c := range codecs {
		got := roundTrip(t, c, in)
		if got.ID != in.ID || got.Category != in.Category || got.Lat != in.Lat || got.Lng != in.Lng ||
			len(got.Tags) != 1 || got.Tags[0] != "road" {
			t.Fatalf("%s: got %+v want %+v", name, got, in)
		}
	}
}

func TestCBORDeterministicIsStable(t *testing.T) {
	c := MustCBOR[map[string]int](true)
	a, err := c.Encode(map[string]int{"b": 2, "a": 1, "c": 3})
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Encode(map[string]int{"c": 3, "a": 1, "b": 2})
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Fatalf("deterministic encoding differs: %x vs %x", a, b)
	}
}

func TestProtobuf(t *testing.T) {
	c := NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })
	got := roundTrip[*wrapperspb.StringValue](t, c, wrapperspb.String("near:-17.64,-71.33"))
	if got.GetValue() != "near:-17.64,-71.33" {
		t.Fatalf("got %q", got.GetValue())
	}
}

func TestLimitRejectsOversized(t *testing.T) {
	c := Limit[string]{Inner: String{}, MaxDecode: 4}
	if _, err := c.Decode([]byte("12345")); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected size error, got %v", err)
	}
	if got := roundTrip[string](t, c, "1234"); got != "1234" {
		t.Fatalf("got %q", got)
	}
}

func TestRaw(t *testing.T) {
	if got := roundTrip[[]byte](t, Bytes{}, []byte{1, 2}); len(got) != 2 {
		t.Fatalf("bytes: got %v", got)
	}
	if got := roundTrip[string](t, String{}, "tile"); got != "tile" {
		t.Fatalf("string: got %q", got)
	}
}

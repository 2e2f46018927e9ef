package tlv

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestBuildIterRoundTrip(t *testing.T) {
	in := []TLV{
		{Tag: 0x01, Value: []byte{0xAA}},
		{Tag: 0x02, Value: []byte{0x00, 0x00, 0x0C, 0x00}},
		{Tag: 0x10, Value: nil},
	}
	var built [][]byte
	for _, tlv := range in {
		built = append(built, Build(tlv.Tag, tlv.Value))
	}
	data := Concat(built...)

	out, err := Iter(data)
	if err != nil {
		t.Fatalf("Iter: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d tlvs, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i].Tag != in[i].Tag {
			t.Errorf("tlv %d: tag = 0x%02x, want 0x%02x", i, out[i].Tag, in[i].Tag)
		}
		if !bytes.Equal(out[i].Value, in[i].Value) {
			t.Errorf("tlv %d: value = %v, want %v", i, out[i].Value, in[i].Value)
		}
	}
}

// TestUnknownTagSkipIsIdentity asserts that inserting TLVs with tags
// outside a decoder's known set does not change what the decoder finds for
// the tags it does recognize.
func TestUnknownTagSkipIsIdentity(t *testing.T) {
	known := byte(0x1E)
	wantValue := []byte{192, 168, 1, 1}

	withoutNoise := Concat(Build(known, wantValue))
	withNoise := Concat(
		Build(0xAA, []byte{1, 2, 3}),
		Build(known, wantValue),
		Build(0xBB, nil),
		Build(0xCC, []byte{9}),
	)

	for _, data := range [][]byte{withoutNoise, withNoise} {
		tlvs, err := Iter(data)
		if err != nil {
			t.Fatalf("Iter: %v", err)
		}
		got, ok := Find(tlvs, known)
		if !ok {
			t.Fatalf("tag 0x%02x not found", known)
		}
		if !bytes.Equal(got, wantValue) {
			t.Errorf("got %v, want %v", got, wantValue)
		}
	}
}

func TestIterTruncatedHeaderIsError(t *testing.T) {
	if _, err := Iter([]byte{0x01, 0x02}); err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestIterTruncatedValueIsError(t *testing.T) {
	// declares 4 bytes of value but supplies none: a decode error.
	data := []byte{0x02, 0x04, 0x00}
	if _, err := Iter(data); err == nil {
		t.Fatal("expected error for truncated value")
	}
}

func TestIterRandomTrips(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		n := r.Intn(8)
		var in []TLV
		var chunks [][]byte
		for i := 0; i < n; i++ {
			tag := byte(r.Intn(256))
			value := make([]byte, r.Intn(20))
			r.Read(value)
			in = append(in, TLV{Tag: tag, Value: value})
			chunks = append(chunks, Build(tag, value))
		}
		out, err := Iter(Concat(chunks...))
		if err != nil {
			t.Fatalf("trial %d: Iter: %v", trial, err)
		}
		if len(out) != len(in) {
			t.Fatalf("trial %d: got %d tlvs, want %d", trial, len(out), len(in))
		}
		for i := range in {
			if out[i].Tag != in[i].Tag || !bytes.Equal(out[i].Value, in[i].Value) {
				t.Fatalf("trial %d, tlv %d: got %+v, want %+v", trial, i, out[i], in[i])
			}
		}
	}
}

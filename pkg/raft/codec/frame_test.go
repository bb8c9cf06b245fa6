package codec

import (
	"bytes"
	"testing"

	"github.com/goraft/server/pkg/raft/types"
)

func TestEncodeDecodeMessageRoundTrip(t *testing.T) {
	want := types.Message{Kind: "append_entries", Body: []byte(`{"term":3}`)}
	frame, err := Encode(want)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var d Decoder
	d.Feed(frame)
	payload, ok, err := d.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !ok {
		t.Fatalf("expected a complete frame")
	}
	got, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if got.Kind != want.Kind || !bytes.Equal(got.Body, want.Body) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestDecoderResumesAcrossPartialFeeds(t *testing.T) {
	frame, err := Encode(types.Message{Kind: "vote"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var d Decoder
	split := len(frame) / 2
	d.Feed(frame[:split])
	if _, ok, err := d.Next(); ok || err != nil {
		t.Fatalf("expected no frame yet, got ok=%v err=%v", ok, err)
	}

	d.Feed(frame[split:])
	payload, ok, err := d.Next()
	if err != nil || !ok {
		t.Fatalf("expected a frame after the rest arrived, ok=%v err=%v", ok, err)
	}
	msg, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Kind != "vote" {
		t.Fatalf("got kind %q, want %q", msg.Kind, "vote")
	}
}

func TestDecoderDeliversFramesInArrivalOrder(t *testing.T) {
	first, _ := Encode(types.Message{Kind: "a"})
	second, _ := Encode(types.Message{Kind: "b"})

	var d Decoder
	d.Feed(append(append([]byte{}, first...), second...))

	p1, ok, err := d.Next()
	if err != nil || !ok {
		t.Fatalf("first frame: ok=%v err=%v", ok, err)
	}
	m1, _ := DecodeMessage(p1)
	if m1.Kind != "a" {
		t.Fatalf("first frame kind = %q, want a", m1.Kind)
	}

	p2, ok, err := d.Next()
	if err != nil || !ok {
		t.Fatalf("second frame: ok=%v err=%v", ok, err)
	}
	m2, _ := DecodeMessage(p2)
	if m2.Kind != "b" {
		t.Fatalf("second frame kind = %q, want b", m2.Kind)
	}

	if d.Pending() != 0 {
		t.Fatalf("expected decoder to be empty, pending=%d", d.Pending())
	}
}

func TestDecoderRejectsOversizedLengthPrefix(t *testing.T) {
	var d Decoder
	d.Feed([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	if _, _, err := d.Next(); err == nil {
		t.Fatalf("expected an error for an oversized declared frame length")
	}
}

func TestPreambleRoundTrip(t *testing.T) {
	frame, err := EncodePreamble(ServerPreamble(types.ServerId(7)))
	if err != nil {
		t.Fatalf("encode preamble: %v", err)
	}

	var d Decoder
	d.Feed(frame)
	payload, ok, err := d.Next()
	if err != nil || !ok {
		t.Fatalf("next: ok=%v err=%v", ok, err)
	}
	p, err := DecodePreamble(payload)
	if err != nil {
		t.Fatalf("decode preamble: %v", err)
	}
	if p.Kind != PreambleServer || p.ServerId != types.ServerId(7) {
		t.Fatalf("got %+v", p)
	}
}

func TestDecodePreambleRejectsUnknownKind(t *testing.T) {
	if _, err := DecodePreamble([]byte(`{"kind":"mystery"}`)); err == nil {
		t.Fatalf("expected an error for an unknown preamble kind")
	}
}

func TestDecodePreambleRejectsMalformedClientId(t *testing.T) {
	if _, err := DecodePreamble([]byte(`{"kind":"client","client_id":"AQ=="}`)); err == nil {
		t.Fatalf("expected an error for a short client id")
	}
}

package cfgblock

import "testing"

func sampleElements() []Element {
	return []Element{
		{Count: 10, SigLo: 100, SigHi: 900, Range: 50},
		{Count: 20, SigLo: 200, SigHi: 800, Range: 60},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := sampleElements()
	buf := Encode(in)
	if len(buf) != Size(len(in)) {
		t.Fatalf("Encode produced %d bytes, want %d", len(buf), Size(len(in)))
	}
	out, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("Decode returned %d elements, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("element %d = %+v, want %+v", i, out[i], in[i])
		}
	}
}

func TestEncodeEmptyBody(t *testing.T) {
	buf := Encode(nil)
	if len(buf) != HeaderSize+TailSize {
		t.Fatalf("Encode(nil) = %d bytes, want %d", len(buf), HeaderSize+TailSize)
	}
	out, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("Decode(nil block) = %d elements, want 0", len(out))
	}
}

func TestEncodeVersionTagAndSize(t *testing.T) {
	buf := Encode(sampleElements())
	if buf[0] != 'c' || buf[1] != '1' {
		t.Errorf("version tag = %q%q, want c1", buf[0], buf[1])
	}
	if want := Size(len(sampleElements())); int(buf[2])|int(buf[3])<<8 != want {
		t.Errorf("size field = %d, want %d", int(buf[2])|int(buf[3])<<8, want)
	}
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	if _, err := Decode(make([]byte, HeaderSize)); err == nil {
		t.Fatal("expected error for too-short buffer")
	}
}

func TestDecodeRejectsBadVersionTag(t *testing.T) {
	buf := Encode(sampleElements())
	buf[1] = 'z'
	if _, err := Decode(buf); err == nil {
		t.Fatal("expected error for bad version tag")
	}
}

func TestDecodeRejectsSizeMismatch(t *testing.T) {
	buf := Encode(sampleElements())
	buf[2] = 0xFF
	buf[3] = 0xFF
	if _, err := Decode(buf); err == nil {
		t.Fatal("expected error for declared-size mismatch")
	}
}

func TestDecodeRejectsCorruptedCrc(t *testing.T) {
	buf := Encode(sampleElements())
	buf[HeaderSize] ^= 0xFF
	_, err := Decode(buf)
	if err == nil {
		t.Fatal("expected CrcMismatchError")
	}
	if _, ok := err.(*CrcMismatchError); !ok {
		t.Fatalf("error = %v (%T), want *CrcMismatchError", err, err)
	}
}

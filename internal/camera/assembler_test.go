package camera

import (
	"testing"
)

func encodeTestFrame(t *testing.T, id uint32, w, h, blockSize int, fill byte) [][]byte {
	t.Helper()
	f := testFrame(w, h)
	for i := range f.Pixels {
		f.Pixels[i] = fill
	}
	pkts, err := EncodeFrame(id, f, blockSize)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	return pkts
}

func TestAssemblerRoundTrip(t *testing.T) {
	var got []*Frame
	a := newFrameAssembler(1.0, func(f *Frame) { got = append(got, f) })

	for _, pkt := range encodeTestFrame(t, 1, 8, 6, 32, 0xAB) {
		a.HandlePacket(pkt)
	}

	if len(got) != 1 {
		t.Fatalf("assembled %d frames, want 1", len(got))
	}
	f := got[0]
	if f.Width != 8 || f.Height != 6 {
		t.Errorf("frame geometry %dx%d, want 8x6", f.Width, f.Height)
	}
	for i, p := range f.Pixels {
		if p != 0xAB {
			t.Fatalf("pixel %d = %#x, want 0xAB", i, p)
		}
	}
	st := a.Stats()
	if st.Frames != 1 || st.Incomplete != 0 || st.Malformed != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestAssemblerOutOfOrderBlocks(t *testing.T) {
	var got []*Frame
	a := newFrameAssembler(1.0, func(f *Frame) { got = append(got, f) })

	pkts := encodeTestFrame(t, 7, 8, 8, 24, 0x55)
	leader, trailer := pkts[0], pkts[len(pkts)-1]
	payloads := pkts[1 : len(pkts)-1]

	a.HandlePacket(leader)
	for i := len(payloads) - 1; i >= 0; i-- {
		a.HandlePacket(payloads[i])
	}
	a.HandlePacket(trailer)

	if len(got) != 1 {
		t.Fatalf("assembled %d frames, want 1", len(got))
	}
	for i, p := range got[0].Pixels {
		if p != 0x55 {
			t.Fatalf("pixel %d = %#x, want 0x55", i, p)
		}
	}
}

func TestAssemblerDiscardsGappyFrame(t *testing.T) {
	var got []*Frame
	a := newFrameAssembler(1.0, func(f *Frame) { got = append(got, f) })

	pkts := encodeTestFrame(t, 3, 8, 8, 24, 0x01)
	for i, pkt := range pkts {
		if i == 2 { // drop one payload block
			continue
		}
		a.HandlePacket(pkt)
	}

	if len(got) != 0 {
		t.Fatalf("gappy frame was delivered")
	}
	if st := a.Stats(); st.Incomplete != 1 {
		t.Errorf("incomplete = %d, want 1", st.Incomplete)
	}
}

func TestAssemblerToleratesGapsBelowThreshold(t *testing.T) {
	var got []*Frame
	a := newFrameAssembler(0.5, func(f *Frame) { got = append(got, f) })

	pkts := encodeTestFrame(t, 4, 8, 8, 24, 0x01)
	for i, pkt := range pkts {
		if i == 2 {
			continue
		}
		a.HandlePacket(pkt)
	}

	if len(got) != 1 {
		t.Fatalf("frame above completeness threshold was not delivered")
	}
}

func TestAssemblerLeaderPreemptsOpenFrame(t *testing.T) {
	var got []*Frame
	a := newFrameAssembler(1.0, func(f *Frame) { got = append(got, f) })

	first := encodeTestFrame(t, 10, 8, 8, 24, 0x10)
	second := encodeTestFrame(t, 11, 8, 8, 24, 0x20)

	// First frame loses its trailer; the next leader must finalize it.
	for _, pkt := range first[:len(first)-1] {
		a.HandlePacket(pkt)
	}
	for _, pkt := range second {
		a.HandlePacket(pkt)
	}

	if len(got) != 2 {
		t.Fatalf("assembled %d frames, want 2", len(got))
	}
	if got[0].Pixels[0] != 0x10 || got[1].Pixels[0] != 0x20 {
		t.Errorf("frames delivered out of order")
	}
}

func TestAssemblerIgnoresMalformedPackets(t *testing.T) {
	a := newFrameAssembler(1.0, nil)
	a.HandlePacket([]byte{0x00})
	a.HandlePacket([]byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03, 0x04})
	a.HandlePacket(nil)
	if st := a.Stats(); st.Malformed != 3 {
		t.Errorf("malformed = %d, want 3", st.Malformed)
	}
	if st := a.Stats(); st.Frames != 0 {
		t.Errorf("frames = %d, want 0", st.Frames)
	}
}

func TestAssemblerStrayPayloadWithoutLeader(t *testing.T) {
	var got []*Frame
	a := newFrameAssembler(1.0, func(f *Frame) { got = append(got, f) })

	pkts := encodeTestFrame(t, 9, 8, 8, 24, 0x01)
	a.HandlePacket(pkts[1]) // payload with no open frame
	a.HandlePacket(pkts[len(pkts)-1])

	if len(got) != 0 {
		t.Fatal("stray payload produced a frame")
	}
}

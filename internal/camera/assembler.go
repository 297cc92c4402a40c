package camera

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/coupling-works/inspect.station/internal/monitoring"
)

// Stream packet layout for the industrial vision sensor. Every frame
// is announced by a leader packet, carried in fixed-size payload
// blocks, and closed by a trailer packet. All integers are big-endian.
//
//	leader:  magic(2) type(1) rsvd(1) frame(4) width(2) height(2) blockSize(2) blockCount(2)
//	payload: magic(2) type(1) rsvd(1) frame(4) block(2) data(blockSize, last block may be short)
//	trailer: magic(2) type(1) rsvd(1) frame(4) blockCount(2)
const (
	streamMagic uint16 = 0x4350

	pktLeader  = 0x01
	pktPayload = 0x02
	pktTrailer = 0x03

	leaderLen  = 16
	payloadHdr = 10
	trailerLen = 10
)

// AssemblerStats counts assembly outcomes.
type AssemblerStats struct {
	Packets    uint64
	Frames     uint64
	Incomplete uint64
	Malformed  uint64
}

// frameAssembler reassembles sensor frames from stream packets. Blocks
// may arrive out of order within a frame; a new leader finalizes
// whatever frame was in flight.
type frameAssembler struct {
	mu sync.Mutex

	// onFrame receives each completed frame. The pixel buffer is owned
	// by the callee.
	onFrame func(*Frame)

	// minCompleteness is the received/expected block ratio below which
	// a frame is discarded rather than delivered (default 1.0: any gap
	// discards the frame).
	minCompleteness float64

	cur   *partialFrame
	stats AssemblerStats
}

type partialFrame struct {
	id         uint32
	width      int
	height     int
	blockSize  int
	blockCount int
	pixels     []byte
	received   map[uint16]bool
	startedAt  time.Time
}

func newFrameAssembler(minCompleteness float64, onFrame func(*Frame)) *frameAssembler {
	if minCompleteness <= 0 || minCompleteness > 1 {
		minCompleteness = 1.0
	}
	return &frameAssembler{onFrame: onFrame, minCompleteness: minCompleteness}
}

// HandlePacket feeds one datagram through the assembler. Malformed
// packets are counted and skipped; the stream keeps going.
func (a *frameAssembler) HandlePacket(pkt []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats.Packets++
	if len(pkt) < 8 || binary.BigEndian.Uint16(pkt[0:2]) != streamMagic {
		a.stats.Malformed++
		return
	}

	switch pkt[2] {
	case pktLeader:
		a.handleLeader(pkt)
	case pktPayload:
		a.handlePayload(pkt)
	case pktTrailer:
		a.handleTrailer(pkt)
	default:
		a.stats.Malformed++
	}
}

func (a *frameAssembler) handleLeader(pkt []byte) {
	if len(pkt) < leaderLen {
		a.stats.Malformed++
		return
	}
	// A leader while a frame is still open means the trailer was lost.
	if a.cur != nil {
		a.finalize("leader_preempt")
	}

	width := int(binary.BigEndian.Uint16(pkt[8:10]))
	height := int(binary.BigEndian.Uint16(pkt[10:12]))
	blockSize := int(binary.BigEndian.Uint16(pkt[12:14]))
	blockCount := int(binary.BigEndian.Uint16(pkt[14:16]))
	if width <= 0 || height <= 0 || blockSize <= 0 || blockCount <= 0 {
		a.stats.Malformed++
		return
	}

	a.cur = &partialFrame{
		id:         binary.BigEndian.Uint32(pkt[4:8]),
		width:      width,
		height:     height,
		blockSize:  blockSize,
		blockCount: blockCount,
		pixels:     make([]byte, width*height*3),
		received:   make(map[uint16]bool, blockCount),
		startedAt:  time.Now(),
	}
}

func (a *frameAssembler) handlePayload(pkt []byte) {
	if len(pkt) < payloadHdr+1 {
		a.stats.Malformed++
		return
	}
	if a.cur == nil || binary.BigEndian.Uint32(pkt[4:8]) != a.cur.id {
		// Payload for a frame we never saw the leader of; nothing to
		// attach it to.
		return
	}
	block := binary.BigEndian.Uint16(pkt[8:10])
	if int(block) >= a.cur.blockCount {
		a.stats.Malformed++
		return
	}
	data := pkt[payloadHdr:]
	off := int(block) * a.cur.blockSize
	if off+len(data) > len(a.cur.pixels) {
		a.stats.Malformed++
		return
	}
	copy(a.cur.pixels[off:], data)
	a.cur.received[block] = true
}

func (a *frameAssembler) handleTrailer(pkt []byte) {
	if len(pkt) < trailerLen {
		a.stats.Malformed++
		return
	}
	if a.cur == nil || binary.BigEndian.Uint32(pkt[4:8]) != a.cur.id {
		return
	}
	a.finalize("trailer")
}

// finalize checks block completeness and either delivers or discards
// the in-flight frame.
func (a *frameAssembler) finalize(reason string) {
	pf := a.cur
	a.cur = nil
	if pf == nil {
		return
	}

	completeness := float64(len(pf.received)) / float64(pf.blockCount)
	if completeness < a.minCompleteness {
		a.stats.Incomplete++
		monitoring.Logf("camera: discarding frame %d: %d/%d blocks (%s)",
			pf.id, len(pf.received), pf.blockCount, reason)
		return
	}

	a.stats.Frames++
	if a.onFrame != nil {
		a.onFrame(&Frame{
			Width:      pf.width,
			Height:     pf.height,
			Pixels:     pf.pixels,
			CapturedAt: pf.startedAt,
		})
	}
}

// Reset discards any frame in flight. Call when switching streams so a
// stale partial frame cannot absorb blocks from the new one.
func (a *frameAssembler) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cur = nil
}

// Stats returns a copy of the assembly counters.
func (a *frameAssembler) Stats() AssemblerStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// EncodeFrame packs a frame into leader, payload and trailer packets.
// Used by the stream replayer and by tests to synthesise traffic.
func EncodeFrame(frameID uint32, f *Frame, blockSize int) ([][]byte, error) {
	if blockSize <= 0 || blockSize > 0xffff {
		return nil, fmt.Errorf("invalid block size %d", blockSize)
	}
	if want := f.Width * f.Height * 3; len(f.Pixels) != want {
		return nil, fmt.Errorf("frame size mismatch: got %d bytes, want %d", len(f.Pixels), want)
	}

	blockCount := (len(f.Pixels) + blockSize - 1) / blockSize
	if blockCount > 0xffff {
		return nil, fmt.Errorf("frame needs %d blocks, max 65535", blockCount)
	}

	pkts := make([][]byte, 0, blockCount+2)

	leader := make([]byte, leaderLen)
	binary.BigEndian.PutUint16(leader[0:2], streamMagic)
	leader[2] = pktLeader
	binary.BigEndian.PutUint32(leader[4:8], frameID)
	binary.BigEndian.PutUint16(leader[8:10], uint16(f.Width))
	binary.BigEndian.PutUint16(leader[10:12], uint16(f.Height))
	binary.BigEndian.PutUint16(leader[12:14], uint16(blockSize))
	binary.BigEndian.PutUint16(leader[14:16], uint16(blockCount))
	pkts = append(pkts, leader)

	for b := 0; b < blockCount; b++ {
		start := b * blockSize
		end := start + blockSize
		if end > len(f.Pixels) {
			end = len(f.Pixels)
		}
		pkt := make([]byte, payloadHdr+(end-start))
		binary.BigEndian.PutUint16(pkt[0:2], streamMagic)
		pkt[2] = pktPayload
		binary.BigEndian.PutUint32(pkt[4:8], frameID)
		binary.BigEndian.PutUint16(pkt[8:10], uint16(b))
		copy(pkt[payloadHdr:], f.Pixels[start:end])
		pkts = append(pkts, pkt)
	}

	trailer := make([]byte, trailerLen)
	binary.BigEndian.PutUint16(trailer[0:2], streamMagic)
	trailer[2] = pktTrailer
	binary.BigEndian.PutUint32(trailer[4:8], frameID)
	binary.BigEndian.PutUint16(trailer[8:10], uint16(blockCount))
	pkts = append(pkts, trailer)

	return pkts, nil
}

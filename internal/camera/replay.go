//go:build pcap
// +build pcap

package camera

import (
	"context"
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"github.com/coupling-works/inspect.station/internal/monitoring"
)

// ReplayCapture reads sensor stream packets from a PCAP capture and
// feeds them through the given packet handler, typically a
// SensorBackend's assembler. Used to re-run recorded line traffic
// through the full pipeline offline. Only available when building
// with the 'pcap' build tag.
func ReplayCapture(ctx context.Context, pcapFile string, udpPort int, handle func([]byte)) error {
	h, err := pcap.OpenOffline(pcapFile)
	if err != nil {
		return fmt.Errorf("open capture %s: %w", pcapFile, err)
	}
	defer h.Close()

	filter := fmt.Sprintf("udp port %d", udpPort)
	if err := h.SetBPFFilter(filter); err != nil {
		return fmt.Errorf("set BPF filter %q: %w", filter, err)
	}

	src := gopacket.NewPacketSource(h, h.LinkType())
	count := 0
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("camera: replay stopped after %d packets", count)
			return ctx.Err()
		case pkt := <-src.Packets():
			if pkt == nil {
				monitoring.Logf("camera: replay complete: %d packets in %v", count, time.Since(start))
				return nil
			}
			count++
			udpLayer := pkt.Layer(layers.LayerTypeUDP)
			if udpLayer == nil {
				continue
			}
			udp, ok := udpLayer.(*layers.UDP)
			if !ok || len(udp.Payload) == 0 {
				continue
			}
			handle(udp.Payload)
			if count%10000 == 0 {
				monitoring.Logf("camera: replay progress: %d packets in %v", count, time.Since(start))
			}
		}
	}
}

//go:build !pcap
// +build !pcap

package camera

import (
	"context"
	"fmt"
)

// ReplayCapture is a stub implementation when PCAP support is disabled.
// Build with -tags=pcap to enable capture replay.
func ReplayCapture(ctx context.Context, pcapFile string, udpPort int, handle func([]byte)) error {
	return fmt.Errorf("PCAP support not enabled: rebuild with -tags=pcap to enable capture replay")
}

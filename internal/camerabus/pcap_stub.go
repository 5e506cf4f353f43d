//go:build !pcap
// +build !pcap

package camerabus

import (
	"context"
	"fmt"
)

// ReadPCAPFile is a stub implementation when PCAP support is disabled.
// Build with -tags=pcap to enable PCAP file replay.
func ReadPCAPFile(ctx context.Context, pcapFile string, udpPort int, deliver func(payload []byte)) error {
	return fmt.Errorf("PCAP support not enabled: rebuild with -tags=pcap to enable PCAP file replay")
}

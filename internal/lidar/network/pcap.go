package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// ReplayConfig configures PCAP replay.
type ReplayConfig struct {
	// UDPPort selects datagrams whose source or destination port matches.
	// Zero accepts every UDP datagram.
	UDPPort int

	// SpeedMultiplier paces replay by capture timestamps (1.0 = real time,
	// 2.0 = twice as fast). Zero or negative replays as fast as possible.
	SpeedMultiplier float64
}

// ReplayStats summarises a replay.
type ReplayStats struct {
	Packets  int // packets read from the file
	Payloads int // UDP payloads passed to the handler
	Errors   int // payloads the handler rejected
	Elapsed  time.Duration
}

// ReplayPCAPFile opens path and replays it into h.
func ReplayPCAPFile(ctx context.Context, path string, cfg ReplayConfig, h DatagramHandler) (ReplayStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReplayStats{}, fmt.Errorf("failed to open PCAP file %s: %w", path, err)
	}
	defer f.Close()
	return ReplayPCAP(ctx, f, cfg, h)
}

// ReplayPCAP reads a classic pcap stream and feeds every matching UDP
// payload to h, in capture order.
func ReplayPCAP(ctx context.Context, r io.Reader, cfg ReplayConfig, h DatagramHandler) (stats ReplayStats, err error) {
	reader, err := pcapgo.NewReader(r)
	if err != nil {
		return stats, fmt.Errorf("failed to read PCAP header: %w", err)
	}
	source := gopacket.NewPacketSource(reader, reader.LinkType())
	source.DecodeOptions = gopacket.DecodeOptions{Lazy: true, NoCopy: true}

	start := time.Now()
	var firstCapture time.Time
	defer func() { stats.Elapsed = time.Since(start) }()

	for {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		packet, err := source.NextPacket()
		if errors.Is(err, io.EOF) {
			diagf("PCAP replay complete: %d packets, %d payloads in %v", stats.Packets, stats.Payloads, time.Since(start))
			return stats, nil
		}
		if err != nil {
			// Truncated captures end with a short read.
			if errors.Is(err, io.ErrUnexpectedEOF) {
				opsf("PCAP replay stopped on truncated packet after %d packets", stats.Packets)
				return stats, nil
			}
			return stats, fmt.Errorf("PCAP packet %d: %w", stats.Packets+1, err)
		}
		stats.Packets++

		udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok || len(udp.Payload) == 0 {
			continue
		}
		if cfg.UDPPort != 0 && int(udp.DstPort) != cfg.UDPPort && int(udp.SrcPort) != cfg.UDPPort {
			continue
		}

		if cfg.SpeedMultiplier > 0 {
			captured := packet.Metadata().Timestamp
			if firstCapture.IsZero() {
				firstCapture = captured
			}
			due := start.Add(time.Duration(float64(captured.Sub(firstCapture)) / cfg.SpeedMultiplier))
			if wait := time.Until(due); wait > 0 {
				select {
				case <-ctx.Done():
					return stats, ctx.Err()
				case <-time.After(wait):
				}
			}
		}

		stats.Payloads++
		if err := h.HandleDatagram(udp.Payload); err != nil {
			stats.Errors++
			tracef("PCAP packet %d: %v", stats.Packets, err)
		}
		if stats.Packets%10000 == 0 {
			diagf("PCAP progress: %d packets in %v", stats.Packets, time.Since(start))
		}
	}
}

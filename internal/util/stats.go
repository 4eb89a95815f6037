package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide call counter.
var Stats = &stats{}

type stats struct {
	EnvelopesSent atomic.Int64 // signaling envelopes written to the socket
	EnvelopesRecv atomic.Int64 // signaling envelopes decoded from the socket
	VideoPackets  atomic.Int64 // RTP packets written to the video sink
	VideoBytes    atomic.Int64 // RTP payload bytes written to the video sink
	AudioPackets  atomic.Int64 // RTP packets written to the audio sink
	AudioBytes    atomic.Int64 // RTP payload bytes written to the audio sink
	Errors        atomic.Int64 // failures written to the error log
}

func (s *stats) AddSent()  { s.EnvelopesSent.Add(1) }
func (s *stats) AddRecv()  { s.EnvelopesRecv.Add(1) }
func (s *stats) AddError() { s.Errors.Add(1) }

func (s *stats) AddVideo(n int) {
	s.VideoPackets.Add(1)
	s.VideoBytes.Add(int64(n))
}

func (s *stats) AddAudio(n int) {
	s.AudioPackets.Add(1)
	s.AudioBytes.Add(int64(n))
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs media throughput every
// interval. Quiet intervals are not logged. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		var prevVideo, prevAudio, prevPkts int64
		for {
			select {
			case <-ticker.C:
				video := Stats.VideoBytes.Load()
				audio := Stats.AudioBytes.Load()
				pkts := Stats.VideoPackets.Load() + Stats.AudioPackets.Load()

				videoS := float64(video-prevVideo) / secs
				audioS := float64(audio-prevAudio) / secs

				if pkts != prevPkts {
					pterm.DefaultLogger.Info(formatStats(videoS, audioS, pkts-prevPkts))
				}

				prevVideo = video
				prevAudio = audio
				prevPkts = pkts

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(videoS, audioS float64, pkts int64) string {
	return fmt.Sprintf("Video: %s/s | Audio: %s/s | RTP: %d pkts",
		formatBytes(videoS),
		formatBytes(audioS),
		pkts,
	)
}

// Package media binds remote WebRTC tracks to local sinks. A Display is the
// single video element of a call; an audio output is its optional companion.
package media

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/h264writer"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
)

// RemoteTrack is the read side of a received track. *webrtc.TrackRemote
// satisfies it.
type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	SSRC() webrtc.SSRC
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// Sink consumes RTP packets of one track, typically into a container file.
type Sink interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

// SinkOpener creates a sink for a track once its codec is known.
type SinkOpener func(codec webrtc.RTPCodecParameters) (Sink, error)

// VideoFile returns an opener that writes VP8, VP9 and AV1 into an IVF
// container and H.264 as an Annex-B elementary stream. IVF cannot carry H.264,
// so a path ending in ".ivf" gets its extension replaced by ".h264".
func VideoFile(path string) SinkOpener {
	return func(codec webrtc.RTPCodecParameters) (Sink, error) {
		mime := codec.MimeType
		switch {
		case strings.EqualFold(mime, webrtc.MimeTypeVP8):
			return ivfFile(path, webrtc.MimeTypeVP8)
		case strings.EqualFold(mime, webrtc.MimeTypeVP9):
			return ivfFile(path, webrtc.MimeTypeVP9)
		case strings.EqualFold(mime, webrtc.MimeTypeAV1):
			return ivfFile(path, webrtc.MimeTypeAV1)
		case strings.EqualFold(mime, webrtc.MimeTypeH264):
			h264Path := H264Path(path)
			w, err := h264writer.New(h264Path)
			if err != nil {
				return nil, fmt.Errorf("failed to create H.264 file %s: %w", h264Path, err)
			}
			return w, nil
		default:
			return nil, fmt.Errorf("unsupported video codec %q", mime)
		}
	}
}

// H264Path returns the file an H.264 stream is written to when path was
// requested for video.
func H264Path(path string) string {
	if ext := filepath.Ext(path); strings.EqualFold(ext, ".ivf") {
		return strings.TrimSuffix(path, ext) + ".h264"
	}
	return path
}

func ivfFile(path, mime string) (Sink, error) {
	w, err := ivfwriter.New(path, ivfwriter.WithCodec(mime))
	if err != nil {
		return nil, fmt.Errorf("failed to create IVF file %s: %w", path, err)
	}
	return w, nil
}

// AudioFile returns an opener that writes Opus into an Ogg container.
func AudioFile(path string) SinkOpener {
	return func(codec webrtc.RTPCodecParameters) (Sink, error) {
		if !strings.EqualFold(codec.MimeType, webrtc.MimeTypeOpus) {
			return nil, fmt.Errorf("unsupported audio codec %q", codec.MimeType)
		}

		channels := codec.Channels
		if channels == 0 {
			channels = 2
		}

		w, err := oggwriter.New(path, codec.ClockRate, channels)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ogg file %s: %w", path, err)
		}
		return w, nil
	}
}

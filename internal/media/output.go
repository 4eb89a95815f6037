package media

import (
	"errors"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peercall/internal/util"
)

// Output renders exactly one remote track of a given kind. The first matching
// track becomes its source; later tracks are refused. Packets are read on a
// dedicated goroutine as soon as the source is attached.
type Output struct {
	kind     webrtc.RTPCodecType
	open     SinkOpener
	onAttach func(RemoteTrack)
	count    func(n int)
	log      util.Scope

	mu     sync.Mutex
	source RemoteTrack
	sink   Sink
	closed bool
	done   chan struct{}
}

// NewDisplay returns the video output. keyframe, when non-nil, is called with
// the source SSRC on attach so the sink starts from a decodable frame.
func NewDisplay(open SinkOpener, keyframe func(ssrc webrtc.SSRC)) *Output {
	o := &Output{
		kind:  webrtc.RTPCodecTypeVideo,
		open:  open,
		count: util.Stats.AddVideo,
		log:   util.NewScope("display"),
	}
	if keyframe != nil {
		o.onAttach = func(t RemoteTrack) { keyframe(t.SSRC()) }
	}
	return o
}

// NewAudioOut returns the audio output. A nil opener keeps the output but
// renders nothing: the track is still drained, its packets discarded.
func NewAudioOut(open SinkOpener) *Output {
	return &Output{
		kind:  webrtc.RTPCodecTypeAudio,
		open:  open,
		count: util.Stats.AddAudio,
		log:   util.NewScope("audio"),
	}
}

// Kind reports which track kind this output accepts.
func (o *Output) Kind() webrtc.RTPCodecType {
	return o.kind
}

// Attach binds track as the source if it has the right kind and no source is
// bound yet. Returns whether the track was bound.
func (o *Output) Attach(track RemoteTrack) bool {
	if track.Kind() != o.kind {
		return false
	}

	o.mu.Lock()
	if o.closed || o.source != nil {
		o.mu.Unlock()
		o.log.Debugf("ignoring extra %s track %s", track.Kind(), track.ID())
		return false
	}
	o.source = track
	o.done = make(chan struct{})

	if o.open != nil {
		sink, err := o.open(track.Codec())
		if err != nil {
			o.log.Errorf("failed to open sink for track %s: %v", track.ID(), err)
		} else {
			o.sink = sink
		}
	}
	done := o.done
	o.mu.Unlock()

	o.log.Infof("source bound: track=%s codec=%s", track.ID(), track.Codec().MimeType)
	if o.onAttach != nil {
		o.onAttach(track)
	}

	go o.pump(track, done)
	return true
}

// Source returns the bound track, or nil while no track has been attached.
func (o *Output) Source() RemoteTrack {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.source
}

// Done is closed when the source stops delivering packets. It is nil before
// a source is attached.
func (o *Output) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.done
}

// Close finalizes the sink. Packets read afterwards are discarded.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.closed = true
	if o.sink == nil {
		return nil
	}
	err := o.sink.Close()
	o.sink = nil
	return err
}

func (o *Output) pump(track RemoteTrack, done chan struct{}) {
	defer close(done)

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				o.log.Debugf("track %s ended: %v", track.ID(), err)
			}
			return
		}

		o.mu.Lock()
		sink := o.sink
		if sink != nil {
			if err := sink.WriteRTP(pkt); err != nil {
				o.log.Errorf("failed to write packet, closing sink: %v", err)
				sink.Close()
				o.sink = nil
				sink = nil
			}
		}
		o.mu.Unlock()

		if sink != nil {
			o.count(len(pkt.Payload))
		}
	}
}

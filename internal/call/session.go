// Package call ties the signaling socket, the peer connection and the media
// outputs into one call session.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peercall/internal/config"
	"github.com/1ureka/peercall/internal/media"
	"github.com/1ureka/peercall/internal/peer"
	"github.com/1ureka/peercall/internal/signaling"
	"github.com/1ureka/peercall/internal/util"
)

// ErrSessionUsed is returned when Run is called on a session that already ran.
var ErrSessionUsed = errors.New("call session already used")

// Options configures a Session.
type Options struct {
	SignalingURL string
	STUNServer   string

	// OfferOnOpen sends one offer as soon as the socket opens.
	OfferOnOpen bool

	// Video opens the display sink. Audio may be nil, in which case remote
	// audio is received but not rendered.
	Video media.SinkOpener
	Audio media.SinkOpener
}

// OptionsFromConfig builds session options from a validated call config.
func OptionsFromConfig(cfg config.Config) (Options, error) {
	wsURL, err := config.NormalizeWSURL(cfg.SignalingURL)
	if err != nil {
		return Options{}, err
	}

	opts := Options{
		SignalingURL: wsURL,
		STUNServer:   cfg.STUNServer,
		OfferOnOpen:  cfg.OfferOnOpen,
		Video:        media.VideoFile(cfg.VideoOut),
	}
	if cfg.AudioOut != "" {
		opts.Audio = media.AudioFile(cfg.AudioOut)
	}
	return opts, nil
}

// Session is one call: one socket, one peer connection, one display. It is
// single use.
type Session struct {
	id   string
	opts Options
	log  util.Scope

	peer    *peer.Manager
	display *media.Output
	audio   *media.Output

	client  atomic.Pointer[signaling.Client]
	started atomic.Bool
}

// New prepares a session. Nothing is dialed until Run.
func New(opts Options) *Session {
	id := uuid.NewString()
	log := util.NewScope("call").With("session", id[:8])

	s := &Session{
		id:   id,
		opts: opts,
		log:  log,
		peer: peer.New(peer.Config{STUNServer: opts.STUNServer}, util.NewScope("peer").With("session", id[:8])),
	}

	s.display = media.NewDisplay(opts.Video, s.requestKeyframe)
	s.audio = media.NewAudioOut(opts.Audio)

	s.peer.OnLocalCandidate(s.sendCandidate)
	s.peer.OnTrack(s.routeTrack)
	return s
}

// ID returns the session identifier used in log lines.
func (s *Session) ID() string {
	return s.id
}

// Display returns the video output of the call.
func (s *Session) Display() *media.Output {
	return s.display
}

// Run connects to the signaling endpoint and serves the call until the socket
// closes or ctx is cancelled. A closed socket is logged and not reopened.
func (s *Session) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrSessionUsed
	}

	client, err := signaling.Dial(ctx, s.opts.SignalingURL)
	if err != nil {
		s.close()
		return err
	}
	s.client.Store(client)
	s.log.Infof("Connected to WebSocket server: %s", s.opts.SignalingURL)

	s.onOpen()

	watchErr := client.Watch(ctx, s)
	s.log.Infof("WebSocket closed")

	if errors.Is(watchErr, context.Canceled) {
		watchErr = nil
	}
	return errors.Join(watchErr, client.Close(), s.close())
}

// onOpen configures the peer connection and, when enabled, sends the single
// offer of this socket.
func (s *Session) onOpen() {
	if err := s.peer.Configure(); err != nil {
		s.log.Errorf("failed to configure peer connection: %v", err)
		return
	}

	if !s.opts.OfferOnOpen {
		s.log.Infof("waiting for remote offer")
		return
	}

	offer, err := s.peer.CreateOffer()
	if err != nil {
		s.log.Errorf("failed to create offer: %v", err)
		return
	}
	if err := s.sendDescription(signaling.TypeOffer, offer); err != nil {
		s.log.Errorf("failed to send offer: %v", err)
		return
	}
	s.log.Infof("offer sent")
}

func (s *Session) close() error {
	return errors.Join(s.peer.Close(), s.display.Close(), s.audio.Close())
}

// ---------------------------------------------------------------------------
// signaling.Handler
// ---------------------------------------------------------------------------

func (s *Session) HandleOffer(env signaling.Envelope) error {
	offer, err := env.SessionDescription()
	if err != nil {
		return err
	}

	answer, err := s.peer.HandleOffer(offer)
	if err != nil {
		return err
	}

	if err := s.sendDescription(signaling.TypeAnswer, answer); err != nil {
		return err
	}
	s.log.Infof("answer sent")
	return nil
}

func (s *Session) HandleAnswer(env signaling.Envelope) error {
	answer, err := env.SessionDescription()
	if err != nil {
		return err
	}

	if err := s.peer.HandleAnswer(answer); err != nil {
		return err
	}
	s.log.Infof("remote answer applied")
	return nil
}

func (s *Session) HandleCandidate(env signaling.Envelope) error {
	candidate, err := env.Candidate()
	if err != nil {
		return err
	}
	return s.peer.HandleCandidate(candidate)
}

// ---------------------------------------------------------------------------
// Outbound
// ---------------------------------------------------------------------------

func (s *Session) sendDescription(typ signaling.MessageType, desc webrtc.SessionDescription) error {
	env, err := signaling.NewEnvelope(typ, desc)
	if err != nil {
		return err
	}
	return s.send(env)
}

// sendCandidate forwards one local ICE candidate, already JSON encoded.
func (s *Session) sendCandidate(candidate string) {
	if err := s.send(signaling.Envelope{Type: signaling.TypeCandidate, Message: candidate}); err != nil {
		s.log.Warnf("failed to send ICE candidate: %v", err)
	}
}

func (s *Session) send(env signaling.Envelope) error {
	client := s.client.Load()
	if client == nil {
		return fmt.Errorf("cannot send %s: socket not open", env.Type)
	}
	return client.Send(env)
}

// ---------------------------------------------------------------------------
// Media
// ---------------------------------------------------------------------------

func (s *Session) routeTrack(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
	var out *media.Output
	switch track.Kind() {
	case webrtc.RTPCodecTypeVideo:
		out = s.display
	case webrtc.RTPCodecTypeAudio:
		out = s.audio
	default:
		s.log.Warnf("ignoring track %s of unknown kind", track.ID())
		return
	}

	if !out.Attach(track) {
		s.log.Debugf("track %s not attached: %s output already bound", track.ID(), track.Kind())
	}
}

func (s *Session) requestKeyframe(ssrc webrtc.SSRC) {
	if err := s.peer.RequestKeyframe(ssrc); err != nil {
		s.log.Warnf("failed to request keyframe: %v", err)
	}
}

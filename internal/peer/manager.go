// Package peer owns the single WebRTC PeerConnection of a call: its
// configuration, the offer/answer exchange, remote ICE candidates, and the
// routing of local candidates and remote tracks to the caller.
package peer

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peercall/internal/util"
)

var (
	ErrNotConfigured     = errors.New("peer connection not configured")
	ErrAlreadyConfigured = errors.New("peer connection already configured")
	ErrNoPendingOffer    = errors.New("answer received but no offer was sent")
)

// State is the lifecycle stage of the Manager.
type State int

const (
	StateUninitialized State = iota
	StateConfiguring
	StateOfferSent
	StateAnswered
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConfiguring:
		return "configuring"
	case StateOfferSent:
		return "offer-sent"
	case StateAnswered:
		return "answered"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Config configures a Manager.
type Config struct {
	// STUNServer is the only ICE server. Empty means host candidates only.
	STUNServer string
}

// TrackHandler receives every remote track.
type TrackHandler func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)

// Manager wraps one PeerConnection. Its lifecycle is
// uninitialized → configuring → offer-sent (or answered) → connected, with
// candidate exchange allowed at any point after Configure.
type Manager struct {
	cfg Config
	log util.Scope

	mu          sync.Mutex
	pc          *webrtc.PeerConnection
	state       State
	onCandidate func(string)
	onTrack     TrackHandler

	connected     chan struct{}
	connectedOnce sync.Once
}

// New returns an unconfigured Manager.
func New(cfg Config, log util.Scope) *Manager {
	return &Manager{
		cfg:       cfg,
		log:       log,
		state:     StateUninitialized,
		connected: make(chan struct{}),
	}
}

// OnLocalCandidate registers the callback that receives the JSON form of
// each locally gathered ICE candidate. The end-of-gathering signal is not
// forwarded.
func (m *Manager) OnLocalCandidate(fn func(candidate string)) {
	m.mu.Lock()
	m.onCandidate = fn
	m.mu.Unlock()
}

// OnTrack registers the callback for incoming remote tracks.
func (m *Manager) OnTrack(fn TrackHandler) {
	m.mu.Lock()
	m.onTrack = fn
	m.mu.Unlock()
}

// Configure creates the PeerConnection. It may succeed only once.
func (m *Manager) Configure() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pc != nil || m.state != StateUninitialized {
		return ErrAlreadyConfigured
	}
	m.state = StateConfiguring

	pc, err := newPeerConnection(m.cfg.STUNServer)
	if err != nil {
		m.state = StateUninitialized
		return err
	}

	pc.OnICECandidate(m.handleLocalCandidate)
	pc.OnTrack(m.handleTrack)
	pc.OnConnectionStateChange(m.handleConnectionState)

	m.pc = pc
	return nil
}

// newPeerConnection builds the PeerConnection with its receive transceivers.
// A variable so tests can simulate setup failures.
var newPeerConnection = func(stunServer string) (*webrtc.PeerConnection, error) {
	api, err := newAPI()
	if err != nil {
		return nil, fmt.Errorf("failed to build WebRTC API: %w", err)
	}

	pc, err := api.NewPeerConnection(configuration(stunServer))
	if err != nil {
		return nil, fmt.Errorf("failed to create PeerConnection: %w", err)
	}

	if err := addRecvOnlyTransceivers(pc); err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to add transceivers: %w", err)
	}
	return pc, nil
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an offer, applies it as the local description and
// returns it.
func (m *Manager) CreateOffer() (webrtc.SessionDescription, error) {
	pc, err := m.peer()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("CreateOffer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("SetLocalDescription: %w", err)
	}

	m.setState(StateOfferSent)
	return offer, nil
}

// HandleOffer applies a remote offer and returns the local answer, already
// applied as the local description.
func (m *Manager) HandleOffer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	pc, err := m.peer()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	if err := pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("SetRemoteDescription: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("CreateAnswer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("SetLocalDescription: %w", err)
	}

	m.setState(StateAnswered)
	return answer, nil
}

// HandleAnswer applies the remote answer to our offer. An answer that
// arrives before any offer was sent is rejected with ErrNoPendingOffer.
func (m *Manager) HandleAnswer(answer webrtc.SessionDescription) error {
	pc, err := m.peer()
	if err != nil {
		return err
	}

	if pc.SignalingState() != webrtc.SignalingStateHaveLocalOffer {
		return fmt.Errorf("%w (signaling state %s)", ErrNoPendingOffer, pc.SignalingState())
	}

	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("SetRemoteDescription: %w", err)
	}
	return nil
}

// HandleCandidate adds a remote ICE candidate.
func (m *Manager) HandleCandidate(candidate webrtc.ICECandidateInit) error {
	pc, err := m.peer()
	if err != nil {
		return err
	}

	if err := pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("AddICECandidate: %w", err)
	}
	return nil
}

// RequestKeyframe asks the sender of ssrc for a new keyframe (RTCP PLI).
func (m *Manager) RequestKeyframe(ssrc webrtc.SSRC) error {
	pc, err := m.peer()
	if err != nil {
		return err
	}

	return pc.WriteRTCP([]rtcp.Packet{
		&rtcp.PictureLossIndication{MediaSSRC: uint32(ssrc)},
	})
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected returns a channel closed once the PeerConnection reports
// connected.
func (m *Manager) Connected() <-chan struct{} {
	return m.connected
}

// SignalingState reports the PeerConnection signaling state, or "unknown"
// before Configure.
func (m *Manager) SignalingState() webrtc.SignalingState {
	pc, err := m.peer()
	if err != nil {
		return webrtc.SignalingStateUnknown
	}
	return pc.SignalingState()
}

// Close shuts down the PeerConnection. Closing an unconfigured Manager is a
// no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	pc := m.pc
	m.state = StateClosed
	m.mu.Unlock()

	if pc == nil {
		return nil
	}
	return pc.Close()
}

func (m *Manager) peer() (*webrtc.PeerConnection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pc == nil {
		return nil, ErrNotConfigured
	}
	return m.pc, nil
}

// setState records s unless the connection already reached connected or
// closed; those are only left through Close.
func (m *Manager) setState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateConnected || m.state == StateClosed {
		return
	}
	m.state = s
}

// ---------------------------------------------------------------------------
// PeerConnection callbacks
// ---------------------------------------------------------------------------

func (m *Manager) handleLocalCandidate(c *webrtc.ICECandidate) {
	if c == nil {
		return
	}

	data, err := json.Marshal(c.ToJSON())
	if err != nil {
		m.log.Errorf("failed to encode local ICE candidate: %v", err)
		return
	}

	m.mu.Lock()
	fn := m.onCandidate
	m.mu.Unlock()

	if fn != nil {
		fn(string(data))
	}
}

func (m *Manager) handleTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	m.log.Infof("remote track: kind=%s codec=%s id=%s", track.Kind(), track.Codec().MimeType, track.ID())

	m.mu.Lock()
	fn := m.onTrack
	m.mu.Unlock()

	if fn != nil {
		fn(track, receiver)
	}
}

func (m *Manager) handleConnectionState(state webrtc.PeerConnectionState) {
	m.log.Infof("PeerConnection state: %s", state.String())

	switch state {
	case webrtc.PeerConnectionStateConnected:
		m.mu.Lock()
		if m.state != StateClosed {
			m.state = StateConnected
		}
		m.mu.Unlock()
		m.connectedOnce.Do(func() { close(m.connected) })
	case webrtc.PeerConnectionStateFailed:
		m.log.Warnf("PeerConnection failed; no reconnect is attempted")
	}
}

package signaling

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/peercall/internal/util"
)

// maxPending bounds the frames held for a partner that has not joined yet.
const maxPending = 256

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// frame is one WebSocket message as received, forwarded verbatim.
type frame struct {
	kind int
	data []byte
}

// relayPeer is one connected client. Writes are serialized by mu.
type relayPeer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *relayPeer) write(f frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteMessage(f.kind, f.data)
}

// Relay pairs two WebSocket clients and forwards every frame from one to the
// other. Frames sent before the partner joins are queued and flushed when it
// arrives. A third concurrent client is refused.
type Relay struct {
	mu      sync.Mutex
	peers   [2]*relayPeer
	pending [2][]frame // pending[i] holds frames waiting for peers[i]

	srv *http.Server
	log util.Scope
}

// NewRelay creates an idle relay. Use it as an http.Handler or call Start.
func NewRelay() *Relay {
	return &Relay{log: util.NewScope("relay")}
}

// Start begins listening on addr (":0" picks a free port) and serves every
// path. Returns the bound address.
func (r *Relay) Start(addr string) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start relay: %w", err)
	}

	r.mu.Lock()
	r.srv = &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	srv := r.srv
	r.mu.Unlock()

	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Errorf("relay stopped: %v", err)
		}
	}()

	return listener.Addr(), nil
}

// ServeHTTP upgrades the request and relays its frames until it disconnects.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}

	// Hold the write lock until the backlog is flushed so frames forwarded
	// after join cannot overtake queued ones.
	conn.SetReadLimit(MaxFrameSize)

	p := &relayPeer{conn: conn}
	p.mu.Lock()
	slot, backlog, ok := r.join(p)
	if !ok {
		p.mu.Unlock()
		if err := conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "call already has two peers")); err != nil {
			r.log.Debugf("failed to send refusal to %s: %v", req.RemoteAddr, err)
		}
		conn.Close()
		r.log.Warnf("refused %s: relay full", req.RemoteAddr)
		return
	}
	defer r.leave(slot, p)

	r.log.Infof("peer %d joined from %s", slot, req.RemoteAddr)

	for _, f := range backlog {
		if err := conn.WriteMessage(f.kind, f.data); err != nil {
			p.mu.Unlock()
			r.log.Warnf("peer %d: failed to flush queued frame: %v", slot, err)
			return
		}
	}
	p.mu.Unlock()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			r.log.Infof("peer %d left: %v", slot, err)
			return
		}
		r.forward(slot, frame{kind: kind, data: data})
	}
}

// join claims a free slot and returns the frames queued for it.
func (r *Relay) join(p *relayPeer) (int, []frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.peers {
		if r.peers[i] == nil {
			r.peers[i] = p
			backlog := r.pending[i]
			r.pending[i] = nil
			return i, backlog, true
		}
	}
	return 0, nil, false
}

// leave frees the slot if p still owns it, dropping both the frames queued
// for p and the frames p queued for a partner that never arrived.
func (r *Relay) leave(slot int, p *relayPeer) {
	r.mu.Lock()
	if r.peers[slot] == p {
		r.peers[slot] = nil
		r.pending[slot] = nil
		r.pending[1-slot] = nil
	}
	r.mu.Unlock()
	p.conn.Close()
}

// forward sends f from slot to its partner, or queues it while the partner
// slot is empty.
func (r *Relay) forward(from int, f frame) {
	to := 1 - from

	r.mu.Lock()
	partner := r.peers[to]
	if partner == nil {
		if len(r.pending[to]) < maxPending {
			r.pending[to] = append(r.pending[to], f)
		} else {
			r.log.Warnf("peer %d: queue full, dropping frame", to)
		}
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	if err := partner.write(f); err != nil {
		r.log.Warnf("peer %d: forward failed: %v", to, err)
	}
}

// Close stops the listener and disconnects both peers.
func (r *Relay) Close() error {
	r.mu.Lock()
	srv := r.srv
	peers := r.peers
	r.peers = [2]*relayPeer{}
	r.pending = [2][]frame{}
	r.mu.Unlock()

	for _, p := range peers {
		if p != nil {
			p.conn.Close()
		}
	}

	if srv != nil {
		return srv.Close()
	}
	return nil
}

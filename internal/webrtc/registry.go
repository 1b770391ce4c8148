package webrtc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"

	"huddle/client/internal/domain"
)

// peerLink is the slice of Conn the registry drives. Tests substitute a
// recording fake through the link factory.
type peerLink interface {
	AddOutboundTracks(video, audio pion.TrackLocal) error
	CreateOffer() (pion.SessionDescription, error)
	CreateAnswer() (pion.SessionDescription, error)
	SetLocalDescription(desc pion.SessionDescription) error
	SetRemoteDescription(desc pion.SessionDescription) error
	AddICECandidate(init pion.ICECandidateInit) error
	ReplaceVideoTrack(track pion.TrackLocal) error
	OnICECandidate(f func(*pion.ICECandidate))
	OnTrack(f func(*pion.TrackRemote))
	OnConnectionStateChange(f func(pion.PeerConnectionState))
	Close() error
}

// entry is one ParticipantConnection: the negotiated link plus the
// negotiation bookkeeping that must survive across its lifetime.
type entry struct {
	id   string
	link peerLink
	role domain.Role

	// pending buffers remote ICE candidates that arrived before the remote
	// description. Never dropped; drained in arrival order once the remote
	// description is set.
	pending      []pion.ICECandidateInit
	remoteSet    bool
	offerPending bool

	state domain.ConnState
	media domain.MediaState
}

// RegistryConfig wires the registry to its collaborators.
type RegistryConfig struct {
	// SelfID is the local participant identifier; it decides the
	// simultaneous-offer tie-break.
	SelfID     string
	ICEServers []domain.ICEServer
	Media      domain.MediaSource
	Channel    domain.Channel
	Events     domain.SessionEvents

	// LoggerFactory is the factory for creating loggers. If nil, a default
	// factory is used.
	LoggerFactory logging.LoggerFactory
}

// Registry owns one negotiated connection per remote participant, keyed by
// participant identity. It implements domain.ConnRegistry.
type Registry struct {
	cfg     RegistryConfig
	log     logging.LeveledLogger
	newLink func() (peerLink, error)

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	lf := cfg.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	r := &Registry{
		cfg:     cfg,
		log:     lf.NewLogger("huddle-registry"),
		entries: make(map[string]*entry),
	}
	r.newLink = func() (peerLink, error) {
		return NewConn(cfg.ICEServers, cfg.LoggerFactory)
	}
	return r
}

// Ensure returns after the participant has a connection entry, creating one
// with the current outbound tracks if needed. Idempotent per participant.
func (r *Registry) Ensure(id string) error {
	r.mu.Lock()
	if _, ok := r.entries[id]; ok {
		r.mu.Unlock()
		return nil
	}
	_, err := r.createEntryLocked(id)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("create connection for %s: %w", id, err)
	}
	return nil
}

// InitiateOffer generates a local offer for an existing connection and emits
// it via the signaling channel. Failures are reported as NegotiationError
// and never retried automatically; the caller may invoke again.
func (r *Registry) InitiateOffer(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return &domain.NegotiationError{Participant: id, Err: errors.New("no connection")}
	}
	if e.role == domain.RoleUnset {
		e.role = domain.RoleOfferer
	}
	link := e.link
	r.mu.Unlock()

	offer, err := link.CreateOffer()
	if err != nil {
		return &domain.NegotiationError{Participant: id, Err: fmt.Errorf("create offer: %w", err)}
	}
	if err := link.SetLocalDescription(offer); err != nil {
		return &domain.NegotiationError{Participant: id, Err: fmt.Errorf("set local description: %w", err)}
	}

	r.mu.Lock()
	e.offerPending = true
	if e.state == domain.ConnNew {
		e.state = domain.ConnConnecting
	}
	r.mu.Unlock()

	r.cfg.Channel.SendSignal(id, domain.SignalPayload{Kind: domain.SignalOffer, SDP: offer.SDP})
	r.log.Infof("sent offer to %s", id)
	return nil
}

// HandleRemoteSignal dispatches one inbound signaling payload.
func (r *Registry) HandleRemoteSignal(from string, payload domain.SignalPayload) {
	switch payload.Kind {
	case domain.SignalOffer:
		r.handleOffer(from, payload)
	case domain.SignalAnswer:
		r.handleAnswer(from, payload)
	case domain.SignalCandidate:
		r.handleCandidate(from, payload)
	default:
		r.log.Warnf("unknown signal kind %q from %s", payload.Kind, from)
	}
}

func (r *Registry) handleOffer(from string, payload domain.SignalPayload) {
	r.mu.Lock()
	e, ok := r.entries[from]
	if !ok {
		var err error
		e, err = r.createEntryLocked(from)
		if err != nil {
			r.mu.Unlock()
			r.log.Errorf("create connection for %s: %v", from, err)
			return
		}
	}

	var stale peerLink
	if e.offerPending && !e.remoteSet {
		// Simultaneous offers: the lexicographically smaller participant ID
		// stays offerer, the other discards its pending offer and answers.
		if r.cfg.SelfID < from {
			r.mu.Unlock()
			r.log.Infof("offer glare with %s: keeping local offer", from)
			return
		}
		fresh, err := r.createLinkLocked(from)
		if err != nil {
			delete(r.entries, from)
			stale = e.link
			r.mu.Unlock()
			if stale != nil {
				_ = stale.Close()
			}
			r.log.Errorf("recreate connection for %s: %v", from, err)
			return
		}
		stale = e.link
		e.link = fresh
		e.offerPending = false
		e.role = domain.RoleAnswerer
		r.log.Infof("offer glare with %s: yielding to smaller id", from)
	}
	if e.role == domain.RoleUnset {
		e.role = domain.RoleAnswerer
	}
	link := e.link
	r.mu.Unlock()

	if stale != nil {
		_ = stale.Close()
	}

	if err := link.SetRemoteDescription(pion.SessionDescription{
		Type: pion.SDPTypeOffer, SDP: payload.SDP,
	}); err != nil {
		r.log.Errorf("%v", &domain.NegotiationError{Participant: from, Err: fmt.Errorf("set remote offer: %w", err)})
		return
	}
	answer, err := link.CreateAnswer()
	if err != nil {
		r.log.Errorf("%v", &domain.NegotiationError{Participant: from, Err: fmt.Errorf("create answer: %w", err)})
		return
	}
	if err := link.SetLocalDescription(answer); err != nil {
		r.log.Errorf("%v", &domain.NegotiationError{Participant: from, Err: fmt.Errorf("set local answer: %w", err)})
		return
	}

	r.mu.Lock()
	e.remoteSet = true
	if e.state == domain.ConnNew {
		e.state = domain.ConnConnecting
	}
	pending := e.pending
	e.pending = nil
	r.mu.Unlock()

	r.cfg.Channel.SendSignal(from, domain.SignalPayload{Kind: domain.SignalAnswer, SDP: answer.SDP})
	r.drain(from, link, pending)
	r.log.Infof("answered offer from %s", from)
}

func (r *Registry) handleAnswer(from string, payload domain.SignalPayload) {
	r.mu.Lock()
	e, ok := r.entries[from]
	if !ok || !e.offerPending {
		r.mu.Unlock()
		r.log.Warnf("unexpected answer from %s", from)
		return
	}
	link := e.link
	r.mu.Unlock()

	if err := link.SetRemoteDescription(pion.SessionDescription{
		Type: pion.SDPTypeAnswer, SDP: payload.SDP,
	}); err != nil {
		r.log.Errorf("%v", &domain.NegotiationError{Participant: from, Err: fmt.Errorf("set remote answer: %w", err)})
		return
	}

	r.mu.Lock()
	e.remoteSet = true
	e.offerPending = false
	pending := e.pending
	e.pending = nil
	r.mu.Unlock()

	r.drain(from, link, pending)
}

func (r *Registry) handleCandidate(from string, payload domain.SignalPayload) {
	if payload.Candidate == nil {
		return
	}
	mid := payload.Candidate.SDPMid
	idx := payload.Candidate.SDPMLineIndex
	init := pion.ICECandidateInit{
		Candidate:     payload.Candidate.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &idx,
	}

	r.mu.Lock()
	e, ok := r.entries[from]
	if !ok {
		var err error
		e, err = r.createEntryLocked(from)
		if err != nil {
			r.mu.Unlock()
			r.log.Errorf("create connection for %s: %v", from, err)
			return
		}
	}
	if !e.remoteSet {
		// ICE can arrive before SDP completes; buffer until then.
		e.pending = append(e.pending, init)
		r.mu.Unlock()
		return
	}
	link := e.link
	r.mu.Unlock()

	if err := link.AddICECandidate(init); err != nil {
		r.log.Warnf("add candidate from %s: %v", from, err)
	}
}

// drain applies buffered candidates in arrival order, each exactly once.
func (r *Registry) drain(id string, link peerLink, pending []pion.ICECandidateInit) {
	for _, init := range pending {
		if err := link.AddICECandidate(init); err != nil {
			r.log.Warnf("apply buffered candidate from %s: %v", id, err)
		}
	}
	if len(pending) > 0 {
		r.log.Debugf("applied %d buffered candidates from %s", len(pending), id)
	}
}

// ReplaceOutboundVideoTrack substitutes the outbound video track on every
// active connection in place; no renegotiation is emitted.
func (r *Registry) ReplaceOutboundVideoTrack(track pion.TrackLocal) {
	r.mu.Lock()
	links := make(map[string]peerLink, len(r.entries))
	for id, e := range r.entries {
		links[id] = e.link
	}
	r.mu.Unlock()

	for id, link := range links {
		if err := link.ReplaceVideoTrack(track); err != nil {
			r.log.Warnf("replace video track for %s: %v", id, err)
		}
	}
}

// UpdateMediaState records the last announced media state for a participant.
func (r *Registry) UpdateMediaState(id string, state domain.MediaState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.media = state
	}
}

// Close terminates the participant's connection, discards any buffered
// candidates, and removes the entry.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.entries, id)
	e.pending = nil
	link := e.link
	r.mu.Unlock()

	_ = link.Close()
	if r.cfg.Events != nil {
		r.cfg.Events.ConnectionState(id, domain.ConnClosed)
	}
	r.log.Infof("closed connection to %s", id)
}

// CloseAll closes every entry; used on session teardown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	links := make(map[string]peerLink, len(r.entries))
	for id, e := range r.entries {
		links[id] = e.link
	}
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for id, link := range links {
		_ = link.Close()
		if r.cfg.Events != nil {
			r.cfg.Events.ConnectionState(id, domain.ConnClosed)
		}
	}
}

func (r *Registry) createEntryLocked(id string) (*entry, error) {
	link, err := r.createLinkLocked(id)
	if err != nil {
		return nil, err
	}
	e := &entry{id: id, link: link, state: domain.ConnNew}
	r.entries[id] = e
	r.log.Infof("created connection for %s", id)
	return e, nil
}

// createLinkLocked builds a link with the current outbound tracks attached
// and its callbacks bound. The screen track, when active, substitutes for
// the camera track.
func (r *Registry) createLinkLocked(id string) (peerLink, error) {
	link, err := r.newLink()
	if err != nil {
		return nil, err
	}

	video := r.cfg.Media.ScreenTrack()
	if video == nil {
		video = r.cfg.Media.VideoTrack()
	}
	if err := link.AddOutboundTracks(video, r.cfg.Media.AudioTrack()); err != nil {
		_ = link.Close()
		return nil, err
	}

	link.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil {
			return
		}
		// Emit immediately, addressed to this participant; no batching.
		j := c.ToJSON()
		cand := domain.ICECandidate{Candidate: j.Candidate}
		if j.SDPMid != nil {
			cand.SDPMid = *j.SDPMid
		}
		if j.SDPMLineIndex != nil {
			cand.SDPMLineIndex = *j.SDPMLineIndex
		}
		r.cfg.Channel.SendSignal(id, domain.SignalPayload{
			Kind: domain.SignalCandidate, Candidate: &cand,
		})
	})
	link.OnTrack(func(t *pion.TrackRemote) {
		if r.cfg.Events != nil {
			r.cfg.Events.RemoteTrack(id, t)
		}
	})
	link.OnConnectionStateChange(func(s pion.PeerConnectionState) {
		r.onLinkState(id, link, s)
	})
	return link, nil
}

// onLinkState tracks transport-reported state. A stale link (replaced during
// glare, or already closed) no longer matches the entry and is ignored.
func (r *Registry) onLinkState(id string, from peerLink, s pion.PeerConnectionState) {
	state := mapConnState(s)

	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || e.link != from {
		r.mu.Unlock()
		return
	}
	e.state = state
	r.mu.Unlock()

	if r.cfg.Events != nil {
		r.cfg.Events.ConnectionState(id, state)
	}

	switch state {
	case domain.ConnFailed, domain.ConnClosed:
		// Terminal; DISCONNECTED is transient and keeps the entry.
		r.Close(id)
	}
}

func mapConnState(s pion.PeerConnectionState) domain.ConnState {
	switch s {
	case pion.PeerConnectionStateNew:
		return domain.ConnNew
	case pion.PeerConnectionStateConnecting:
		return domain.ConnConnecting
	case pion.PeerConnectionStateConnected:
		return domain.ConnConnected
	case pion.PeerConnectionStateDisconnected:
		return domain.ConnDisconnected
	case pion.PeerConnectionStateFailed:
		return domain.ConnFailed
	default:
		return domain.ConnClosed
	}
}

package webrtc

import (
	"context"
	"errors"
	"sync"
	"testing"

	pion "github.com/pion/webrtc/v4"

	"huddle/client/internal/domain"
)

// fakeLink records the operations the registry drives.
type fakeLink struct {
	mu          sync.Mutex
	video       pion.TrackLocal
	audio       pion.TrackLocal
	localDescs  []pion.SessionDescription
	remoteDescs []pion.SessionDescription
	candidates  []pion.ICECandidateInit
	replaced    []pion.TrackLocal
	closed      bool
	onICE       func(*pion.ICECandidate)
	onState     func(pion.PeerConnectionState)
}

func (l *fakeLink) AddOutboundTracks(video, audio pion.TrackLocal) error {
	l.video, l.audio = video, audio
	return nil
}

func (l *fakeLink) CreateOffer() (pion.SessionDescription, error) {
	return pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: "v=0\r\noffer-sdp"}, nil
}

func (l *fakeLink) CreateAnswer() (pion.SessionDescription, error) {
	return pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: "v=0\r\nanswer-sdp"}, nil
}

func (l *fakeLink) SetLocalDescription(desc pion.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.localDescs = append(l.localDescs, desc)
	return nil
}

func (l *fakeLink) SetRemoteDescription(desc pion.SessionDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remoteDescs = append(l.remoteDescs, desc)
	return nil
}

func (l *fakeLink) AddICECandidate(init pion.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.candidates = append(l.candidates, init)
	return nil
}

func (l *fakeLink) ReplaceVideoTrack(track pion.TrackLocal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.replaced = append(l.replaced, track)
	return nil
}

func (l *fakeLink) OnICECandidate(f func(*pion.ICECandidate))           { l.onICE = f }
func (l *fakeLink) OnTrack(f func(*pion.TrackRemote))                   {}
func (l *fakeLink) OnConnectionStateChange(f func(pion.PeerConnectionState)) { l.onState = f }

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// fakeChannel records outbound signals.
type fakeChannel struct {
	mu      sync.Mutex
	signals []sentSignal
}

type sentSignal struct {
	to      string
	payload domain.SignalPayload
}

func (c *fakeChannel) Connect(context.Context) error { return nil }

func (c *fakeChannel) SendSignal(to string, payload domain.SignalPayload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.signals = append(c.signals, sentSignal{to: to, payload: payload})
}

func (c *fakeChannel) SendMediaState(domain.MediaState) {}
func (c *fakeChannel) SendChat(domain.ChatMessage)      {}
func (c *fakeChannel) Disconnect()                      {}

func (c *fakeChannel) sent() []sentSignal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentSignal(nil), c.signals...)
}

// fakeEvents records surfaced connection states.
type fakeEvents struct {
	mu     sync.Mutex
	states []stateEvent
}

type stateEvent struct {
	id    string
	state domain.ConnState
}

func (e *fakeEvents) RemoteTrack(string, *pion.TrackRemote) {}

func (e *fakeEvents) ConnectionState(id string, state domain.ConnState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states = append(e.states, stateEvent{id: id, state: state})
}

func (e *fakeEvents) ParticipantMedia(string, domain.MediaState) {}
func (e *fakeEvents) Chat(domain.ChatMessage)                    {}
func (e *fakeEvents) Terminated(error)                           {}

// fakeMedia hands out fixed outbound tracks.
type fakeMedia struct {
	video  pion.TrackLocal
	audio  pion.TrackLocal
	screen pion.TrackLocal
}

func (m *fakeMedia) AcquireCamera(bool, bool) error                  { return nil }
func (m *fakeMedia) AcquireScreen(func()) (pion.TrackLocal, error)   { return m.screen, nil }
func (m *fakeMedia) StopScreen()                                     {}
func (m *fakeMedia) VideoTrack() pion.TrackLocal                     { return m.video }
func (m *fakeMedia) AudioTrack() pion.TrackLocal                     { return m.audio }
func (m *fakeMedia) ScreenTrack() pion.TrackLocal                    { return m.screen }
func (m *fakeMedia) SetTrackEnabled(domain.TrackKind, bool)          {}
func (m *fakeMedia) State() domain.MediaState                        { return domain.MediaState{} }
func (m *fakeMedia) Release()                                        {}

type linkFactory struct {
	links []*fakeLink
}

func (f *linkFactory) new() (peerLink, error) {
	l := &fakeLink{}
	f.links = append(f.links, l)
	return l, nil
}

func newTestRegistry(selfID string) (*Registry, *fakeChannel, *fakeEvents, *linkFactory) {
	ch := &fakeChannel{}
	ev := &fakeEvents{}
	f := &linkFactory{}
	r := NewRegistry(RegistryConfig{
		SelfID:  selfID,
		Media:   &fakeMedia{},
		Channel: ch,
		Events:  ev,
	})
	r.newLink = f.new
	return r, ch, ev, f
}

func testVideoTrack(t *testing.T, id string) pion.TrackLocal {
	t.Helper()
	track, err := pion.NewTrackLocalStaticRTP(pion.RTPCodecCapability{
		MimeType: pion.MimeTypeVP8, ClockRate: 90000,
	}, "video", id)
	if err != nil {
		t.Fatalf("create test track: %v", err)
	}
	return track
}

func candidatePayload(c string) domain.SignalPayload {
	return domain.SignalPayload{
		Kind:      domain.SignalCandidate,
		Candidate: &domain.ICECandidate{Candidate: c, SDPMid: "0"},
	}
}

func TestEnsureIsIdempotent(t *testing.T) {
	r, _, _, f := newTestRegistry("a1")

	if err := r.Ensure("b2"); err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	if err := r.Ensure("b2"); err != nil {
		t.Fatalf("second Ensure: %v", err)
	}

	if len(r.entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(r.entries))
	}
	if len(f.links) != 1 {
		t.Errorf("expected 1 link created, got %d", len(f.links))
	}
}

func TestCandidatesBufferedUntilRemoteOffer(t *testing.T) {
	r, ch, _, f := newTestRegistry("a1")

	for _, c := range []string{"candidate:1", "candidate:2", "candidate:3"} {
		r.HandleRemoteSignal("b2", candidatePayload(c))
	}

	link := f.links[0]
	if len(link.candidates) != 0 {
		t.Fatalf("candidates applied before remote description: %d", len(link.candidates))
	}
	if got := len(r.entries["b2"].pending); got != 3 {
		t.Fatalf("expected 3 buffered candidates, got %d", got)
	}

	r.HandleRemoteSignal("b2", domain.SignalPayload{Kind: domain.SignalOffer, SDP: "v=0\r\nremote-offer"})

	if got := len(link.candidates); got != 3 {
		t.Fatalf("expected 3 applied candidates, got %d", got)
	}
	for i, want := range []string{"candidate:1", "candidate:2", "candidate:3"} {
		if link.candidates[i].Candidate != want {
			t.Errorf("candidate %d: got %q, want %q", i, link.candidates[i].Candidate, want)
		}
	}
	if r.entries["b2"].pending != nil {
		t.Error("buffer not cleared after drain")
	}

	sent := ch.sent()
	if len(sent) != 1 || sent[0].payload.Kind != domain.SignalAnswer || sent[0].to != "b2" {
		t.Fatalf("expected one answer to b2, got %+v", sent)
	}
	if len(link.remoteDescs) != 1 || link.remoteDescs[0].Type != pion.SDPTypeOffer {
		t.Errorf("remote offer not set: %+v", link.remoteDescs)
	}
	if len(link.localDescs) != 1 || link.localDescs[0].Type != pion.SDPTypeAnswer {
		t.Errorf("local answer not set: %+v", link.localDescs)
	}
}

func TestAnswerDrainsBufferInOrder(t *testing.T) {
	r, ch, _, f := newTestRegistry("a1")

	if err := r.Ensure("b2"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := r.InitiateOffer("b2"); err != nil {
		t.Fatalf("InitiateOffer: %v", err)
	}

	sent := ch.sent()
	if len(sent) != 1 || sent[0].payload.Kind != domain.SignalOffer {
		t.Fatalf("expected one offer sent, got %+v", sent)
	}

	r.HandleRemoteSignal("b2", candidatePayload("candidate:early-1"))
	r.HandleRemoteSignal("b2", candidatePayload("candidate:early-2"))

	link := f.links[0]
	if len(link.candidates) != 0 {
		t.Fatal("candidates applied before answer arrived")
	}

	r.HandleRemoteSignal("b2", domain.SignalPayload{Kind: domain.SignalAnswer, SDP: "v=0\r\nremote-answer"})

	if len(link.remoteDescs) != 1 || link.remoteDescs[0].Type != pion.SDPTypeAnswer {
		t.Fatalf("remote answer not set: %+v", link.remoteDescs)
	}
	if len(link.candidates) != 2 ||
		link.candidates[0].Candidate != "candidate:early-1" ||
		link.candidates[1].Candidate != "candidate:early-2" {
		t.Errorf("buffered candidates not applied in order: %+v", link.candidates)
	}

	// A candidate after the answer applies immediately.
	r.HandleRemoteSignal("b2", candidatePayload("candidate:late"))
	if len(link.candidates) != 3 || link.candidates[2].Candidate != "candidate:late" {
		t.Errorf("late candidate not applied directly: %+v", link.candidates)
	}
}

func TestGlareSmallerIDKeepsLocalOffer(t *testing.T) {
	r, ch, _, f := newTestRegistry("a1")

	if err := r.Ensure("b2"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := r.InitiateOffer("b2"); err != nil {
		t.Fatalf("InitiateOffer: %v", err)
	}

	r.HandleRemoteSignal("b2", domain.SignalPayload{Kind: domain.SignalOffer, SDP: "v=0\r\ntheir-offer"})

	if len(f.links) != 1 {
		t.Errorf("connection recreated despite winning the tie-break")
	}
	if len(f.links[0].remoteDescs) != 0 {
		t.Error("inbound offer applied despite winning the tie-break")
	}
	for _, s := range ch.sent() {
		if s.payload.Kind == domain.SignalAnswer {
			t.Error("answered the discarded offer")
		}
	}
	if role := r.entries["b2"].role; role != domain.RoleOfferer {
		t.Errorf("role = %s, want offerer", role)
	}
}

func TestGlareLargerIDYieldsAndAnswers(t *testing.T) {
	r, ch, _, f := newTestRegistry("b2")

	if err := r.Ensure("a1"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if err := r.InitiateOffer("a1"); err != nil {
		t.Fatalf("InitiateOffer: %v", err)
	}

	r.HandleRemoteSignal("a1", domain.SignalPayload{Kind: domain.SignalOffer, SDP: "v=0\r\ntheir-offer"})

	if len(f.links) != 2 {
		t.Fatalf("expected a fresh connection after yielding, got %d links", len(f.links))
	}
	if !f.links[0].closed {
		t.Error("stale connection not closed")
	}
	fresh := f.links[1]
	if len(fresh.remoteDescs) != 1 || fresh.remoteDescs[0].Type != pion.SDPTypeOffer {
		t.Fatalf("inbound offer not applied to fresh connection: %+v", fresh.remoteDescs)
	}

	var answered bool
	for _, s := range ch.sent() {
		if s.payload.Kind == domain.SignalAnswer && s.to == "a1" {
			answered = true
		}
	}
	if !answered {
		t.Error("no answer sent after yielding")
	}
	if role := r.entries["a1"].role; role != domain.RoleAnswerer {
		t.Errorf("role = %s, want answerer", role)
	}
}

func TestCloseDiscardsBufferedCandidates(t *testing.T) {
	r, _, ev, f := newTestRegistry("a1")

	for _, c := range []string{"candidate:1", "candidate:2", "candidate:3"} {
		r.HandleRemoteSignal("b2", candidatePayload(c))
	}
	if got := len(r.entries["b2"].pending); got != 3 {
		t.Fatalf("expected 3 buffered candidates, got %d", got)
	}

	r.Close("b2")

	if len(r.entries) != 0 {
		t.Errorf("entry not removed: %d remaining", len(r.entries))
	}
	if !f.links[0].closed {
		t.Error("link not closed")
	}
	if len(f.links[0].candidates) != 0 {
		t.Error("buffered candidates applied during close")
	}

	ev.mu.Lock()
	defer ev.mu.Unlock()
	if len(ev.states) != 1 || ev.states[0].state != domain.ConnClosed {
		t.Errorf("expected one closed event, got %+v", ev.states)
	}

	// Idempotent.
	r.Close("b2")
}

func TestEntryCountTracksPresence(t *testing.T) {
	r, _, _, f := newTestRegistry("a1")

	for _, id := range []string{"b2", "c3", "d4"} {
		if err := r.Ensure(id); err != nil {
			t.Fatalf("Ensure %s: %v", id, err)
		}
	}
	if len(r.entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(r.entries))
	}

	r.Close("c3")
	if len(r.entries) != 2 {
		t.Fatalf("expected 2 entries after leave, got %d", len(r.entries))
	}

	r.CloseAll()
	if len(r.entries) != 0 {
		t.Errorf("expected 0 entries after CloseAll, got %d", len(r.entries))
	}
	for i, l := range f.links {
		if !l.closed {
			t.Errorf("link %d not closed", i)
		}
	}
}

func TestReplaceVideoTrackWithoutRenegotiation(t *testing.T) {
	r, ch, _, f := newTestRegistry("a1")

	for _, id := range []string{"b2", "c3"} {
		if err := r.Ensure(id); err != nil {
			t.Fatalf("Ensure %s: %v", id, err)
		}
	}

	screen := testVideoTrack(t, "screen")
	r.ReplaceOutboundVideoTrack(screen)

	for i, l := range f.links {
		if len(l.replaced) != 1 || l.replaced[0] != screen {
			t.Errorf("link %d: track not replaced: %+v", i, l.replaced)
		}
		if len(l.localDescs) != 0 {
			t.Errorf("link %d: renegotiation emitted on track replacement", i)
		}
	}
	if len(ch.sent()) != 0 {
		t.Errorf("signals emitted on track replacement: %+v", ch.sent())
	}
}

func TestFailedConnectionIsRemovedDisconnectedIsKept(t *testing.T) {
	r, _, _, f := newTestRegistry("a1")

	if err := r.Ensure("b2"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	f.links[0].onState(pion.PeerConnectionStateDisconnected)
	if len(r.entries) != 1 {
		t.Fatal("entry removed on transient disconnect")
	}
	if r.entries["b2"].state != domain.ConnDisconnected {
		t.Errorf("state = %s, want disconnected", r.entries["b2"].state)
	}

	f.links[0].onState(pion.PeerConnectionStateFailed)
	if len(r.entries) != 0 {
		t.Error("entry not removed on failure")
	}
	if !f.links[0].closed {
		t.Error("failed link not closed")
	}

	// Isolation: a second participant is unaffected by the first failing.
	if err := r.Ensure("c3"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	f.links[1].onState(pion.PeerConnectionStateFailed)
	if len(r.entries) != 0 {
		t.Error("failure leaked across participants")
	}
}

func TestLocalCandidatesEmittedPerParticipant(t *testing.T) {
	r, _, _, f := newTestRegistry("a1")

	if err := r.Ensure("b2"); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	// Gathering completion (nil) must not emit anything.
	f.links[0].onICE(nil)

	if got := len(r.cfg.Channel.(*fakeChannel).sent()); got != 0 {
		t.Errorf("expected no signals for nil candidate, got %d", got)
	}
}

func TestInitiateOfferRequiresConnection(t *testing.T) {
	r, _, _, _ := newTestRegistry("a1")

	err := r.InitiateOffer("ghost")
	if err == nil {
		t.Fatal("expected error for unknown participant")
	}
	var negErr *domain.NegotiationError
	if !errors.As(err, &negErr) || negErr.Participant != "ghost" {
		t.Errorf("expected NegotiationError for ghost, got %v", err)
	}
}

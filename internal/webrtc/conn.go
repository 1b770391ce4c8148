// Package webrtc owns the per-participant peer connections and drives their
// SDP/ICE exchange.
package webrtc

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"

	"huddle/client/internal/domain"
)

// Conn wraps a Pion PeerConnection for one remote participant.
type Conn struct {
	pc          *pion.PeerConnection
	videoSender *pion.RTPSender
	audioSender *pion.RTPSender
	log         logging.LeveledLogger
}

// NewConn creates a PeerConnection configured with the session's ICE servers,
// the default codecs and interceptors, and the shared logger factory.
func NewConn(iceServers []domain.ICEServer, lf logging.LoggerFactory) (*Conn, error) {
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}

	m := &pion.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	s := pion.SettingEngine{LoggerFactory: lf}

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
		pion.WithSettingEngine(s),
	)

	var servers []pion.ICEServer
	for _, srv := range iceServers {
		servers = append(servers, pion.ICEServer{
			URLs:       srv.URLs,
			Username:   srv.Username,
			Credential: srv.Credential,
		})
	}

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	return &Conn{pc: pc, log: lf.NewLogger("huddle-webrtc")}, nil
}

// AddOutboundTracks attaches the local video and audio tracks. Either may be
// nil (audio-only and video-only sessions are valid). Each sender's RTCP
// stream is drained in the background.
func (c *Conn) AddOutboundTracks(video, audio pion.TrackLocal) error {
	if video != nil {
		sender, err := c.pc.AddTrack(video)
		if err != nil {
			return fmt.Errorf("add video track: %w", err)
		}
		c.videoSender = sender
		go c.drainRTCP(sender)
	}
	if audio != nil {
		sender, err := c.pc.AddTrack(audio)
		if err != nil {
			return fmt.Errorf("add audio track: %w", err)
		}
		c.audioSender = sender
		go c.drainRTCP(sender)
	}
	return nil
}

func (c *Conn) drainRTCP(sender *pion.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *Conn) CreateOffer() (pion.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *Conn) CreateAnswer() (pion.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *Conn) SetLocalDescription(desc pion.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *Conn) SetRemoteDescription(desc pion.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *Conn) AddICECandidate(init pion.ICECandidateInit) error {
	return c.pc.AddICECandidate(init)
}

// ReplaceVideoTrack substitutes the outbound video track in place. The
// remote side needs no new offer/answer cycle.
func (c *Conn) ReplaceVideoTrack(track pion.TrackLocal) error {
	if c.videoSender == nil {
		return fmt.Errorf("no outbound video sender")
	}
	return c.videoSender.ReplaceTrack(track)
}

// OnICECandidate registers the trickle callback. Pion passes nil when
// gathering completes.
func (c *Conn) OnICECandidate(f func(*pion.ICECandidate)) {
	c.pc.OnICECandidate(f)
}

func (c *Conn) OnTrack(f func(*pion.TrackRemote)) {
	c.pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		f(track)
	})
}

func (c *Conn) OnConnectionStateChange(f func(pion.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(f)
}

// Close shuts down the PeerConnection.
func (c *Conn) Close() error {
	return c.pc.Close()
}

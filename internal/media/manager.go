// Package media acquires and owns the local capture tracks: camera,
// microphone, and screen. Peer connections reference the outbound tracks it
// exposes but never own them.
package media

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // registers the camera adapter
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // registers the microphone adapter
	_ "github.com/pion/mediadevices/pkg/driver/screen"     // registers the screen adapter
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"huddle/client/internal/domain"
)

// Config configures the media manager.
type Config struct {
	// LoggerFactory is the factory for creating loggers. If nil, a default
	// factory is used.
	LoggerFactory logging.LoggerFactory
}

// Manager implements domain.MediaSource on top of the OS capture drivers.
type Manager struct {
	log logging.LeveledLogger

	videoEnabled  atomic.Bool
	audioEnabled  atomic.Bool
	screenEnabled atomic.Bool

	mu        sync.Mutex
	camera    mediadevices.MediaStream
	screen    mediadevices.MediaStream
	videoOut  *webrtc.TrackLocalStaticRTP
	audioOut  *webrtc.TrackLocalStaticRTP
	screenOut *webrtc.TrackLocalStaticRTP
	pumps     []*pump
	screenPmp *pump
}

// NewManager creates a manager with no active capture.
func NewManager(cfg Config) *Manager {
	lf := cfg.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &Manager{log: lf.NewLogger("huddle-media")}
}

func newCodecSelector() (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 500_000
	vpxParams.KeyFrameInterval = 30

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	opusParams.BitRate = 32_000
	opusParams.Latency = opus.Latency20ms

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

// AcquireCamera requests camera and microphone access with the given initial
// enablement. A failure is fatal to joining and is classified, not retried.
func (m *Manager) AcquireCamera(videoEnabled, audioEnabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.camera != nil {
		return nil
	}

	selector, err := newCodecSelector()
	if err != nil {
		return &domain.MediaError{Kind: domain.MediaAborted, Err: err}
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.Int(640)
			c.Height = prop.Int(480)
			c.FrameRate = prop.Float(30)
		},
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(48000)
			c.ChannelCount = prop.Int(1)
			c.Latency = prop.Duration(20 * time.Millisecond)
		},
		Codec: selector,
	})
	if err != nil {
		return classify(err)
	}

	m.camera = stream
	m.videoEnabled.Store(videoEnabled)
	m.audioEnabled.Store(audioEnabled)

	if tracks := stream.GetVideoTracks(); len(tracks) > 0 {
		out, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
			MimeType: webrtc.MimeTypeVP8, ClockRate: 90000,
		}, "video", "huddle-camera")
		if err != nil {
			m.releaseLocked()
			return &domain.MediaError{Kind: domain.MediaAborted, Err: err}
		}
		m.videoOut = out
		p := newPump(tracks[0], out, &m.videoEnabled, m.log)
		m.pumps = append(m.pumps, p)
		go p.run()
	}

	if tracks := stream.GetAudioTracks(); len(tracks) > 0 {
		out, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
			MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		}, "audio", "huddle-mic")
		if err != nil {
			m.releaseLocked()
			return &domain.MediaError{Kind: domain.MediaAborted, Err: err}
		}
		m.audioOut = out
		p := newPump(tracks[0], out, &m.audioEnabled, m.log)
		m.pumps = append(m.pumps, p)
		go p.run()
	}

	m.log.Infof("camera acquired (video=%t audio=%t)", videoEnabled, audioEnabled)
	return nil
}

// AcquireScreen requests screen capture. The capture driver signals
// end-of-share through the track, which forwards to onEnded so the caller
// can revert to the camera. Screen capture audio is never requested;
// microphone audio always wins.
func (m *Manager) AcquireScreen(onEnded func()) (webrtc.TrackLocal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.screenOut != nil {
		return m.screenOut, nil
	}

	selector, err := newCodecSelector()
	if err != nil {
		return nil, &domain.MediaError{Kind: domain.MediaAborted, Err: err}
	}

	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.FrameRate = prop.Float(15)
		},
		Codec: selector,
	})
	if err != nil {
		return nil, classify(err)
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		for _, t := range stream.GetTracks() {
			t.Close()
		}
		return nil, &domain.MediaError{Kind: domain.MediaAborted, Err: errors.New("screen capture produced no video track")}
	}

	out, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{
		MimeType: webrtc.MimeTypeVP8, ClockRate: 90000,
	}, "video", "huddle-screen")
	if err != nil {
		for _, t := range stream.GetTracks() {
			t.Close()
		}
		return nil, &domain.MediaError{Kind: domain.MediaAborted, Err: err}
	}

	src := tracks[0]
	if onEnded != nil {
		src.OnEnded(func(error) { onEnded() })
	}

	m.screen = stream
	m.screenOut = out
	m.screenEnabled.Store(true)
	m.screenPmp = newPump(src, out, &m.screenEnabled, m.log)
	go m.screenPmp.run()

	m.log.Infof("screen capture started")
	return out, nil
}

// StopScreen ends screen capture. Safe to call when none is active.
func (m *Manager) StopScreen() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.screen == nil {
		return
	}
	m.screenPmp.stop()
	for _, t := range m.screen.GetTracks() {
		t.Close()
	}
	m.screen = nil
	m.screenOut = nil
	m.screenPmp = nil
	m.screenEnabled.Store(false)
	m.log.Infof("screen capture stopped")
}

// SetTrackEnabled toggles an existing track without renegotiating: the
// capture and the sender stay up, the pump just stops forwarding.
func (m *Manager) SetTrackEnabled(kind domain.TrackKind, enabled bool) {
	switch kind {
	case domain.TrackVideo:
		m.videoEnabled.Store(enabled)
	case domain.TrackAudio:
		m.audioEnabled.Store(enabled)
	}
	m.log.Infof("%s enabled=%t", kind, enabled)
}

// VideoTrack returns the outbound camera track, or nil before acquisition.
func (m *Manager) VideoTrack() webrtc.TrackLocal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.videoOut == nil {
		return nil
	}
	return m.videoOut
}

// AudioTrack returns the outbound microphone track, or nil before
// acquisition.
func (m *Manager) AudioTrack() webrtc.TrackLocal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.audioOut == nil {
		return nil
	}
	return m.audioOut
}

// ScreenTrack returns the outbound screen track while sharing, else nil.
func (m *Manager) ScreenTrack() webrtc.TrackLocal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.screenOut == nil {
		return nil
	}
	return m.screenOut
}

// State returns the current local enablement snapshot.
func (m *Manager) State() domain.MediaState {
	m.mu.Lock()
	sharing := m.screenOut != nil
	m.mu.Unlock()
	return domain.MediaState{
		Video:  m.videoEnabled.Load(),
		Audio:  m.audioEnabled.Load(),
		Screen: sharing,
	}
}

// Release stops and releases every owned track. Safe to call multiple times.
func (m *Manager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseLocked()
}

func (m *Manager) releaseLocked() {
	for _, p := range m.pumps {
		p.stop()
	}
	m.pumps = nil
	if m.screenPmp != nil {
		m.screenPmp.stop()
		m.screenPmp = nil
	}
	if m.camera != nil {
		for _, t := range m.camera.GetTracks() {
			t.Close()
		}
		m.camera = nil
	}
	if m.screen != nil {
		for _, t := range m.screen.GetTracks() {
			t.Close()
		}
		m.screen = nil
	}
	m.videoOut = nil
	m.audioOut = nil
	m.screenOut = nil
	m.screenEnabled.Store(false)
}

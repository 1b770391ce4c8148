// Package session glues the signaling channel, the media manager, and the
// connection registry into one meeting-session lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"huddle/client/internal/domain"
)

// Config wires the coordinator to its collaborators.
type Config struct {
	Meeting  *domain.Meeting
	Channel  domain.Channel
	Media    domain.MediaSource
	Registry domain.ConnRegistry
	Events   domain.SessionEvents

	// InitialVideo/InitialAudio set the camera enablement requested at join.
	InitialVideo bool
	InitialAudio bool

	// LoggerFactory is the factory for creating loggers. If nil, a default
	// factory is used.
	LoggerFactory logging.LoggerFactory
}

// Coordinator implements domain.ChannelHandler and drives the session. All
// channel events arrive on one dispatch goroutine, so ordering per
// participant is the binding contract, not locking.
type Coordinator struct {
	cfg Config
	log logging.LeveledLogger

	mu     sync.Mutex
	active bool
}

// New creates a coordinator. Register it as the channel's handler before
// calling Start.
func New(cfg Config) *Coordinator {
	lf := cfg.LoggerFactory
	if lf == nil {
		lf = logging.NewDefaultLoggerFactory()
	}
	return &Coordinator{
		cfg: cfg,
		log: lf.NewLogger("huddle-session"),
	}
}

// Start brings the session up: connect signaling, acquire local media, then
// create (but do not offer on) a connection for every participant already
// present; they are expected to offer to us. Any step failing releases
// whatever earlier steps acquired.
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.cfg.Channel.Connect(ctx); err != nil {
		return fmt.Errorf("connect signaling: %w", err)
	}

	if err := c.cfg.Media.AcquireCamera(c.cfg.InitialVideo, c.cfg.InitialAudio); err != nil {
		c.cfg.Channel.Disconnect()
		// Surfaced verbatim so the shell can show kind-specific remediation.
		return err
	}

	for _, p := range c.cfg.Meeting.Participants {
		if p.ID == c.cfg.Meeting.SelfID {
			continue
		}
		if err := c.cfg.Registry.Ensure(p.ID); err != nil {
			c.cfg.Registry.CloseAll()
			c.cfg.Media.Release()
			c.cfg.Channel.Disconnect()
			return fmt.Errorf("prepare connection for %s: %w", p.ID, err)
		}
		c.cfg.Registry.UpdateMediaState(p.ID, p.Media)
	}

	c.mu.Lock()
	c.active = true
	c.mu.Unlock()

	c.cfg.Channel.SendMediaState(c.cfg.Media.State())
	c.log.Infof("session started in meeting %s as %s", c.cfg.Meeting.ID, c.cfg.Meeting.SelfID)
	return nil
}

// End tears the session down: close every connection, release media,
// disconnect signaling. Safe to call from any state, repeatedly.
func (c *Coordinator) End() {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
	c.teardown()
}

func (c *Coordinator) teardown() {
	c.cfg.Registry.CloseAll()
	c.cfg.Media.Release()
	c.cfg.Channel.Disconnect()
}

// terminate handles a forced session end. Late events after teardown are
// no-ops thanks to the active flag.
func (c *Coordinator) terminate(reason error) {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.mu.Unlock()

	c.log.Warnf("session terminated: %v", reason)
	c.teardown()
	if c.cfg.Events != nil {
		c.cfg.Events.Terminated(reason)
	}
}

func (c *Coordinator) isActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// ParticipantJoined creates the connection and offers to the newcomer; the
// side already in the meeting is the one that initiates.
func (c *Coordinator) ParticipantJoined(id string) {
	if !c.isActive() || id == c.cfg.Meeting.SelfID {
		return
	}
	if err := c.cfg.Registry.Ensure(id); err != nil {
		c.log.Errorf("connection for joining %s: %v", id, err)
		return
	}
	if err := c.cfg.Registry.InitiateOffer(id); err != nil {
		// Isolated per-participant failure; a later offer may succeed.
		c.log.Errorf("%v", err)
	}
}

func (c *Coordinator) ParticipantLeft(id string) {
	if !c.isActive() {
		return
	}
	c.cfg.Registry.Close(id)
}

func (c *Coordinator) Signal(from string, payload domain.SignalPayload) {
	if !c.isActive() {
		return
	}
	c.cfg.Registry.HandleRemoteSignal(from, payload)
}

func (c *Coordinator) MediaStateChanged(from string, state domain.MediaState) {
	if !c.isActive() {
		return
	}
	c.cfg.Registry.UpdateMediaState(from, state)
	if c.cfg.Events != nil {
		c.cfg.Events.ParticipantMedia(from, state)
	}
}

func (c *Coordinator) ChatReceived(msg domain.ChatMessage) {
	if !c.isActive() {
		return
	}
	if c.cfg.Events != nil {
		c.cfg.Events.Chat(msg)
	}
}

func (c *Coordinator) MeetingEnded() {
	c.terminate(domain.ErrMeetingEnded)
}

func (c *Coordinator) ConnectionLost() {
	c.terminate(domain.ErrConnectionLost)
}

// SetVideoEnabled toggles the camera track and then broadcasts the new
// state; peers mirror the latest announcement.
func (c *Coordinator) SetVideoEnabled(enabled bool) {
	if !c.isActive() {
		return
	}
	c.cfg.Media.SetTrackEnabled(domain.TrackVideo, enabled)
	c.cfg.Channel.SendMediaState(c.cfg.Media.State())
}

// SetAudioEnabled toggles the microphone track and then broadcasts.
func (c *Coordinator) SetAudioEnabled(enabled bool) {
	if !c.isActive() {
		return
	}
	c.cfg.Media.SetTrackEnabled(domain.TrackAudio, enabled)
	c.cfg.Channel.SendMediaState(c.cfg.Media.State())
}

// StartScreenShare acquires screen capture and substitutes it for the camera
// track on every active connection, in place. The capture's own end-of-share
// signal reverts automatically.
func (c *Coordinator) StartScreenShare() error {
	if !c.isActive() {
		return errors.New("session not active")
	}
	track, err := c.cfg.Media.AcquireScreen(c.StopScreenShare)
	if err != nil {
		return err
	}
	c.cfg.Registry.ReplaceOutboundVideoTrack(track)
	c.cfg.Channel.SendMediaState(c.cfg.Media.State())
	return nil
}

// StopScreenShare reverts every connection to the camera track. No-op when
// no share is active.
func (c *Coordinator) StopScreenShare() {
	if !c.isActive() || c.cfg.Media.ScreenTrack() == nil {
		return
	}
	c.cfg.Media.StopScreen()
	c.cfg.Registry.ReplaceOutboundVideoTrack(c.cfg.Media.VideoTrack())
	c.cfg.Channel.SendMediaState(c.cfg.Media.State())
}

// SendChat broadcasts a chat message to the meeting.
func (c *Coordinator) SendChat(text string) {
	if !c.isActive() {
		return
	}
	c.cfg.Channel.SendChat(domain.ChatMessage{
		ID:   uuid.NewString(),
		From: c.cfg.Meeting.SelfID,
		Text: text,
		Sent: time.Now().UnixMilli(),
	})
}

package domain

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Channel is the signaling transport to the meeting endpoint. Sends are
// best-effort: when the transport is down they log and drop, never queue.
type Channel interface {
	Connect(ctx context.Context) error
	SendSignal(to string, payload SignalPayload)
	SendMediaState(state MediaState)
	SendChat(msg ChatMessage)
	Disconnect()
}

// ChannelHandler receives signaling events, in arrival order.
type ChannelHandler interface {
	ParticipantJoined(id string)
	ParticipantLeft(id string)
	MeetingEnded()
	Signal(from string, payload SignalPayload)
	MediaStateChanged(from string, state MediaState)
	ChatReceived(msg ChatMessage)
	ConnectionLost()
}

// MediaSource owns the local capture tracks. Track getters return nil while
// the corresponding capture is not active; the returned tracks are referenced
// by peer connections but owned here.
type MediaSource interface {
	AcquireCamera(videoEnabled, audioEnabled bool) error
	AcquireScreen(onEnded func()) (webrtc.TrackLocal, error)
	StopScreen()
	VideoTrack() webrtc.TrackLocal
	AudioTrack() webrtc.TrackLocal
	ScreenTrack() webrtc.TrackLocal
	SetTrackEnabled(kind TrackKind, enabled bool)
	State() MediaState
	Release()
}

// ConnRegistry owns one negotiated connection per remote participant and
// drives its SDP/ICE exchange.
type ConnRegistry interface {
	Ensure(id string) error
	InitiateOffer(id string) error
	HandleRemoteSignal(from string, payload SignalPayload)
	ReplaceOutboundVideoTrack(track webrtc.TrackLocal)
	UpdateMediaState(id string, state MediaState)
	Close(id string)
	CloseAll()
}

// SessionEvents is what the coordinator surfaces to the UI shell.
type SessionEvents interface {
	RemoteTrack(participantID string, track *webrtc.TrackRemote)
	ConnectionState(participantID string, state ConnState)
	ParticipantMedia(participantID string, state MediaState)
	Chat(msg ChatMessage)
	Terminated(reason error)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/pion/logging"
	pion "github.com/pion/webrtc/v4"
	"github.com/pterm/pterm"

	"huddle/client/internal/api"
	"huddle/client/internal/config"
	"huddle/client/internal/domain"
	"huddle/client/internal/media"
	"huddle/client/internal/session"
	"huddle/client/internal/signal"
	"huddle/client/internal/webrtc"
)

const helpText = `huddle - join a meeting from the terminal

Connects to a meeting over WebRTC: camera and microphone are captured
locally, one peer connection is negotiated per remote participant, and
presence/signaling runs over the meeting's WebSocket endpoint.

Environment Variables (required):
  HUDDLE_API_BASE     REST backend base URL
  HUDDLE_SIGNAL_BASE  Signaling WebSocket base URL
  HUDDLE_TOKEN        Session token
  HUDDLE_MEETING      Meeting ID to join

Environment Variables (optional):
  HUDDLE_NAME         Display name (default "guest")
  HUDDLE_GUEST        Set to 1 to join through the guest flow

Options:
  -h, --help  Show this help message
`

// consoleEvents prints session events; it implements domain.SessionEvents.
type consoleEvents struct {
	cancel context.CancelFunc
}

func (e *consoleEvents) RemoteTrack(participantID string, track *pion.TrackRemote) {
	pterm.Info.Printfln("receiving %s from %s (%s)", track.Kind(), participantID, track.Codec().MimeType)
}

func (e *consoleEvents) ConnectionState(participantID string, state domain.ConnState) {
	pterm.Debug.Printfln("%s: %s", participantID, state)
	if state == domain.ConnConnected {
		pterm.Success.Printfln("connected to %s", participantID)
	}
}

func (e *consoleEvents) ParticipantMedia(participantID string, state domain.MediaState) {
	pterm.Info.Printfln("%s: video=%t audio=%t screen=%t",
		participantID, state.Video, state.Audio, state.Screen)
}

func (e *consoleEvents) Chat(msg domain.ChatMessage) {
	pterm.Info.Printfln("[%s] %s", msg.From, msg.Text)
}

func (e *consoleEvents) Terminated(reason error) {
	pterm.Warning.Printfln("session ended: %v", reason)
	e.cancel()
}

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Print(helpText)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		pterm.Error.Printfln("%v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		pterm.Info.Println("shutting down")
		cancel()
	}()

	apiClient := api.NewClient(cfg.APIBase, cfg.Token)

	var meeting *domain.Meeting
	if cfg.Guest {
		meeting, err = apiClient.JoinAsGuest(cfg.MeetingID, cfg.DisplayName)
	} else {
		meeting, err = apiClient.JoinMeeting(cfg.MeetingID, cfg.DisplayName)
	}
	if err != nil {
		pterm.Error.Printfln("join meeting: %v", err)
		os.Exit(1)
	}
	pterm.Success.Printfln("joined meeting %s as %s (%d already present)",
		meeting.ID, meeting.SelfID, len(meeting.Participants))

	lf := logging.NewDefaultLoggerFactory()
	events := &consoleEvents{cancel: cancel}

	mediaMgr := media.NewManager(media.Config{LoggerFactory: lf})
	channel := signal.NewChannel(signal.Config{
		BaseURL:       cfg.SignalBase,
		MeetingID:     cfg.MeetingID,
		Token:         cfg.Token,
		LoggerFactory: lf,
	})
	registry := webrtc.NewRegistry(webrtc.RegistryConfig{
		SelfID:        meeting.SelfID,
		ICEServers:    meeting.ICEServers,
		Media:         mediaMgr,
		Channel:       channel,
		Events:        events,
		LoggerFactory: lf,
	})
	coord := session.New(session.Config{
		Meeting:       meeting,
		Channel:       channel,
		Media:         mediaMgr,
		Registry:      registry,
		Events:        events,
		InitialVideo:  true,
		InitialAudio:  true,
		LoggerFactory: lf,
	})
	channel.SetHandler(coord)

	if err := coord.Start(ctx); err != nil {
		var mediaErr *domain.MediaError
		if errors.As(err, &mediaErr) {
			pterm.Error.Println(mediaErr.Remediation())
		} else {
			pterm.Error.Printfln("start session: %v", err)
		}
		_ = apiClient.LeaveMeeting(cfg.MeetingID)
		os.Exit(1)
	}
	pterm.Info.Println("in the meeting, press Ctrl+C to leave")

	<-ctx.Done()

	coord.End()
	_ = apiClient.LeaveMeeting(cfg.MeetingID)
	pterm.Info.Println("left the meeting")
}

package media

import (
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/mediadevices"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

const pumpMTU = 1200

// rtpWriter is what a pump feeds; satisfied by *webrtc.TrackLocalStaticRTP.
type rtpWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// pump copies RTP packets from a capture track into the outbound local
// track. While the gate is off it keeps reading but drops every packet, so
// the peer-connection sender stays up and mute needs no renegotiation.
type pump struct {
	log       logging.LeveledLogger
	src       mediadevices.Track
	dst       rtpWriter
	codecName string
	enabled   *atomic.Bool

	done     chan struct{}
	stopOnce sync.Once
}

func newPump(src mediadevices.Track, dst *webrtc.TrackLocalStaticRTP, enabled *atomic.Bool, log logging.LeveledLogger) *pump {
	// The RTP reader wants the codec name, which is the second part of the
	// MIME type.
	name := dst.Codec().MimeType
	if parts := strings.SplitN(name, "/", 2); len(parts) == 2 {
		name = parts[1]
	}
	return &pump{
		log:       log,
		src:       src,
		dst:       dst,
		codecName: name,
		enabled:   enabled,
		done:      make(chan struct{}),
	}
}

func (p *pump) run() {
	// The SSRC stamped here is rewritten per binding by the local track.
	reader, err := p.src.NewRTPReader(p.codecName, uuid.New().ID(), pumpMTU)
	if err != nil {
		p.log.Errorf("create RTP reader: %v", err)
		return
	}
	defer reader.Close()

	for {
		select {
		case <-p.done:
			return
		default:
		}

		pkts, release, err := reader.Read()
		if err != nil {
			if err != io.EOF {
				p.log.Warnf("capture read: %v", err)
			}
			return
		}
		p.deliver(pkts)
		if release != nil {
			release()
		}
	}
}

func (p *pump) deliver(pkts []*rtp.Packet) {
	if !p.enabled.Load() {
		return
	}
	for _, pkt := range pkts {
		if pkt == nil {
			continue
		}
		if err := p.dst.WriteRTP(pkt); err != nil {
			p.log.Warnf("write RTP: %v", err)
		}
	}
}

func (p *pump) stop() {
	p.stopOnce.Do(func() { close(p.done) })
}

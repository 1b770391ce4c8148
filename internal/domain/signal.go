package domain

// SignalKind discriminates the nested signaling payload.
type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "ice-candidate"
)

// SignalPayload is the opaque signaling payload relayed between two
// participants: an SDP offer/answer or a trickled ICE candidate.
type SignalPayload struct {
	Kind      SignalKind    `json:"kind"`
	SDP       string        `json:"sdp,omitempty"`
	Candidate *ICECandidate `json:"candidate,omitempty"`
}

// ICECandidate is the JSON structure for a trickled ICE candidate.
type ICECandidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// MediaState is the enablement snapshot a participant announces. The last
// received announcement is authoritative; missed ones are never replayed.
type MediaState struct {
	Video  bool `json:"videoEnabled"`
	Audio  bool `json:"audioEnabled"`
	Screen bool `json:"screenSharing"`
}

// ChatMessage is an in-meeting text message.
type ChatMessage struct {
	ID   string `json:"id"`
	From string `json:"from,omitempty"`
	Text string `json:"text"`
	Sent int64  `json:"sentAt,omitempty"`
}

// TrackKind selects a local capture track.
type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
)

// Role records which side of a participant pair initiates offer creation.
// It is set the first time an offer is created or received and only changes
// when the simultaneous-offer tie-break forces the larger ID to yield.
type Role int

const (
	RoleUnset Role = iota
	RoleOfferer
	RoleAnswerer
)

func (r Role) String() string {
	switch r {
	case RoleOfferer:
		return "offerer"
	case RoleAnswerer:
		return "answerer"
	default:
		return "unset"
	}
}

// ConnState is the lifecycle state of one participant connection.
type ConnState string

const (
	ConnNew          ConnState = "new"
	ConnConnecting   ConnState = "connecting"
	ConnConnected    ConnState = "connected"
	ConnDisconnected ConnState = "disconnected"
	ConnFailed       ConnState = "failed"
	ConnClosed       ConnState = "closed"
)

package domain

// Meeting holds the metadata the REST backend returns when joining: the
// caller's own participant identity, who is already present, and the ICE
// server list to dial them with. Everything beyond SelfID is treated as
// opaque configuration.
type Meeting struct {
	ID           string        `json:"id"`
	SelfID       string        `json:"selfId"`
	Participants []Participant `json:"participants"`
	ICEServers   []ICEServer   `json:"iceServers"`
}

// Participant is a remote meeting member as reported by the backend.
type Participant struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName,omitempty"`
	Media       MediaState `json:"media"`
}

// ICEServer holds STUN/TURN server configuration.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

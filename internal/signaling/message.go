package signaling

import "github.com/pion/webrtc/v4"

// Message represents every message exchanged with the relay. Fields that a
// given type does not use are left empty.
type Message struct {
	Type string `json:"type" msgpack:"type"`

	// authentication request
	Password string `json:"password,omitempty" msgpack:"password,omitempty"`
	UserID   string `json:"user_id,omitempty" msgpack:"user_id,omitempty"`
	Username string `json:"username,omitempty" msgpack:"username,omitempty"`

	// authentication reply
	Result bool          `json:"result,omitempty" msgpack:"result,omitempty"`
	Data   []Participant `json:"data,omitempty" msgpack:"data,omitempty"`

	Sender   string `json:"sender,omitempty" msgpack:"sender,omitempty"`
	Receiver string `json:"receiver,omitempty" msgpack:"receiver,omitempty"`

	SDP     string `json:"sdp,omitempty" msgpack:"sdp,omitempty"`
	SDPType string `json:"sdp_type,omitempty" msgpack:"sdp_type,omitempty"`

	Candidate *Candidate `json:"candidate,omitempty" msgpack:"candidate,omitempty"`

	Media  Media `json:"media,omitempty" msgpack:"media,omitempty"`
	Status bool  `json:"status,omitempty" msgpack:"status,omitempty"`
}

// Message type constants.
const (
	TypeAuthentication    = "authentication"
	TypeNotifyParticipant = "notifyparticipant"
	TypeUserDisconnected  = "userdisconnected"
	TypeSendSDP           = "sendsdp"
	TypeAnswerSDP         = "answersdp"
	TypeSendCandidate     = "sendcandidate"
	TypeStreamStatus      = "streamstatus"
)

var knownTypes = map[string]struct{}{
	TypeAuthentication:    {},
	TypeNotifyParticipant: {},
	TypeUserDisconnected:  {},
	TypeSendSDP:           {},
	TypeAnswerSDP:         {},
	TypeSendCandidate:     {},
	TypeStreamStatus:      {},
}

// Known reports whether t is a message type this protocol defines.
func Known(t string) bool {
	_, ok := knownTypes[t]
	return ok
}

// Media is the kind named in stream status notifications.
type Media string

const (
	MediaVideo Media = "video"
	MediaAudio Media = "audio"
)

func (m Media) Valid() bool {
	return m == MediaVideo || m == MediaAudio
}

// Participant is a roster entry as carried in the authentication reply.
type Participant struct {
	UserID   string `json:"user_id" msgpack:"user_id"`
	Username string `json:"username" msgpack:"username"`
	AudioOn  bool   `json:"audio_on" msgpack:"audio_on"`
	VideoOn  bool   `json:"video_on" msgpack:"video_on"`
}

// Candidate mirrors RTCIceCandidateInit.
type Candidate struct {
	Candidate        string  `json:"candidate" msgpack:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty" msgpack:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty" msgpack:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty" msgpack:"usernameFragment,omitempty"`
}

func CandidateFromPion(c webrtc.ICECandidateInit) *Candidate {
	return &Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func (c *Candidate) ToPion() webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

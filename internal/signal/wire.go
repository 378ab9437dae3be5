// Package signal implements the wire protocol and websocket transport
// between the orchestrator and the remote call service.
//
// Wire format: JSON text frames on a persistent websocket, shaped
// {type: string, ...payload}. The type set is closed; unknown or
// malformed frames are dropped by the reader, never fatal.
package signal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Message type discriminators on the wire.
const (
	TypeInit               = "init"
	TypeOffer              = "offer"
	TypeAnswer             = "answer"
	TypeCandidate          = "candidate"
	TypeConversationUpdate = "conversation-update"
	TypeFinalTranscript    = "final_transcript"
	TypeEndCall            = "end-call"
)

// ErrUnknownType reports a frame whose type is outside the closed set.
var ErrUnknownType = errors.New("unknown message type")

// HistoryEntry is one turn of the agent's conversation history.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Alternative is one hypothesis within a partial transcript frame.
type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Message is the closed tagged union carried on the signaling channel.
// Exactly one payload group is meaningful, selected by Type; the rest
// stay at their zero values and are omitted on the wire.
type Message struct {
	Type string `json:"type"`

	// init
	AgentID        string         `json:"agentId,omitempty"`
	InitialHistory []HistoryEntry `json:"initialHistory,omitempty"`

	// offer / answer
	SDP string `json:"sdp,omitempty"`

	// candidate
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`

	// conversation-update: authoritative, monotonically growing snapshot.
	MessagesHistory []HistoryEntry `json:"messagesHistory,omitempty"`

	// final_transcript: best-effort partial of the current user utterance.
	Channel      string        `json:"channel,omitempty"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
}

// Decode parses one wire frame. Frames with a missing or unknown type
// return an error so callers can log and drop them without tearing the
// channel down.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	switch m.Type {
	case TypeInit, TypeOffer, TypeAnswer, TypeCandidate,
		TypeConversationUpdate, TypeFinalTranscript, TypeEndCall:
		return m, nil
	case "":
		return Message{}, errors.New("frame missing type")
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
}

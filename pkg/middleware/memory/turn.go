// Package memory keeps per-session conversation transcripts.
//
// A transcript is an ordered list of turns. Turns are a tagged variant: a
// user turn holds the literal question, an assistant turn holds a Payload
// that is either text or an asset reference. The "User: " / "Chatbot: "
// string form exists only at the wire boundary (Turn.String).
package memory

import "fmt"

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PayloadKind distinguishes assistant answers.
type PayloadKind string

const (
	PayloadText  PayloadKind = "text"
	PayloadAsset PayloadKind = "asset"
)

// Wire prefixes consumed by the chat UI. The single space after the colon
// is part of the contract.
const (
	UserPrefix      = "User: "
	AssistantPrefix = "Chatbot: "

	// AssetMarker precedes an asset path in the legacy string form; the UI
	// renders an image when it sees it.
	AssetMarker = "회사 로고 파일 경로:"
)

// Payload is an assistant answer: Text for PayloadText, Path for PayloadAsset.
type Payload struct {
	Kind PayloadKind `json:"kind"`
	Text string      `json:"text,omitempty"`
	Path string      `json:"path,omitempty"`
}

// TextPayload returns a text answer.
func TextPayload(text string) Payload {
	return Payload{Kind: PayloadText, Text: text}
}

// AssetPayload returns an asset reference.
func AssetPayload(path string) Payload {
	return Payload{Kind: PayloadAsset, Path: path}
}

// String renders the payload in its legacy string form.
func (p Payload) String() string {
	if p.Kind == PayloadAsset {
		return AssetMarker + p.Path
	}
	return p.Text
}

// Turn is one entry of a transcript.
type Turn struct {
	Role    Role     `json:"role"`
	Text    string   `json:"text,omitempty"`
	Payload *Payload `json:"payload,omitempty"`
}

// UserTurn records a question verbatim.
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Text: text}
}

// AssistantTurn records an answer.
func AssistantTurn(p Payload) Turn {
	return Turn{Role: RoleAssistant, Payload: &p}
}

// String renders the turn as a history line: "User: ..." or "Chatbot: ...".
func (t Turn) String() string {
	switch t.Role {
	case RoleUser:
		return UserPrefix + t.Text
	case RoleAssistant:
		if t.Payload == nil {
			return AssistantPrefix
		}
		return AssistantPrefix + t.Payload.String()
	default:
		return fmt.Sprintf("%s: %s", t.Role, t.Text)
	}
}

// Transcript is the ordered turn history of one session.
type Transcript []Turn

// Lines renders every turn with Turn.String. An empty transcript yields an
// empty, non-nil slice so it encodes as [].
func (tr Transcript) Lines() []string {
	lines := make([]string, len(tr))
	for i, t := range tr {
		lines[i] = t.String()
	}
	return lines
}

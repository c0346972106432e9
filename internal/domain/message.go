package domain

type MessageType string

const (
	MessageStatus         MessageType = "STATUS"
	MessageSaveSession    MessageType = "SAVE_SESSION"
	MessageRestoreSession MessageType = "RESTORE_SESSION"
	MessageEditorsChanged MessageType = "EDITORS_CHANGED"
)

// Message is the envelope exchanged with the UI collaborator. For STATUS the
// payload is human-readable text; for SAVE_SESSION it is the optional note.
type Message struct {
	Type    MessageType `json:"type"`
	Payload string      `json:"payload,omitempty"`
}

func StatusMessage(payload string) Message {
	return Message{Type: MessageStatus, Payload: payload}
}

package chat

// Role identifies who authored a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Attachment carries a single inline media payload (base64 encoded).
type Attachment struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Message is one turn of a transcript. Timestamp is unix milliseconds.
type Message struct {
	ID         string      `json:"id"`
	Role       Role        `json:"role"`
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Timestamp  int64       `json:"timestamp"`
}

// Sendable reports whether the message carries text or an attachment.
func (m Message) Sendable() bool {
	return m.Text != "" || (m.Attachment != nil && m.Attachment.Data != "")
}

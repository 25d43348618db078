package chat

const (
	titleRunes   = 30
	previewRunes = 50

	// UntitledTitle is used when no user message carries text.
	UntitledTitle = "Untitled chat"
)

// Session is one persisted chat transcript with its metadata.
type Session struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	PersonaID    string    `json:"personaId"`
	Messages     []Message `json:"messages"`
	LastModified int64     `json:"lastModified"`
	Preview      string    `json:"preview"`
}

// Savable reports whether a transcript holds enough turns to be persisted.
// A lone greeting is not worth a history entry.
func Savable(messages []Message) bool {
	return len(messages) > 1
}

// DeriveTitle returns the first user message text cut to 30 runes with an
// ellipsis appended, or UntitledTitle.
func DeriveTitle(messages []Message) string {
	for _, m := range messages {
		if m.Role != RoleUser {
			continue
		}
		if m.Text == "" {
			break
		}
		return truncateRunes(m.Text, titleRunes) + "..."
	}
	return UntitledTitle
}

// DerivePreview returns the last message text cut to 50 runes.
func DerivePreview(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}
	return truncateRunes(messages[len(messages)-1].Text, previewRunes)
}

// NewSession builds a session record from a transcript snapshot.
func NewSession(id, personaID string, messages []Message, now int64) Session {
	return Session{
		ID:           id,
		Title:        DeriveTitle(messages),
		PersonaID:    personaID,
		Messages:     messages,
		LastModified: now,
		Preview:      DerivePreview(messages),
	}
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

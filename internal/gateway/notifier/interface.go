package notifier

import "context"

// TextNotifier defines a minimal text notification interface.
// Components depend on it without importing Telegram.
type TextNotifier interface {
	SendText(text string) error
}

// PhotoNotifier sends a PNG with a caption.
type PhotoNotifier interface {
	SendPhoto(caption string, png []byte) error
}

// Inbound is one operator message.
type Inbound struct {
	UpdateID int64
	ChatID   string
	Text     string
}

// CommandSource yields operator messages received since the last poll.
type CommandSource interface {
	Poll(ctx context.Context) ([]Inbound, error)
}

// Channel is the full operator channel: outbound text and photos plus inbound commands.
type Channel interface {
	TextNotifier
	PhotoNotifier
	CommandSource
}

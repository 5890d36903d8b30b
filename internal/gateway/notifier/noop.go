package notifier

import (
	"context"

	"griddca/internal/logger"
)

// Noop logs outbound messages and never yields commands.
type Noop struct{}

func (Noop) SendText(text string) error {
	logger.InfoBlock("[notify] " + text)
	return nil
}

func (Noop) SendPhoto(caption string, png []byte) error {
	logger.Infof("[notify] photo %q (%d bytes)", caption, len(png))
	return nil
}

func (Noop) Poll(ctx context.Context) ([]Inbound, error) {
	return nil, nil
}

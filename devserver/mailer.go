package devserver

import (
	"context"

	"github.com/rs/zerolog"
)

// Mailer lets the server hand off password reset messages
type Mailer interface {
	SendPasswordResetEmail(ctx context.Context, to, resetLink string) error
}

// ConsoleMailer is a development Mailer that logs messages instead of
// sending them
type ConsoleMailer struct {
	Logger zerolog.Logger
}

func (c *ConsoleMailer) SendPasswordResetEmail(_ context.Context, to, resetLink string) error {
	c.Logger.Info().
		Str("to", to).
		Str("subject", "Reset your password").
		Str("link", resetLink).
		Msg("password reset email")
	return nil
}

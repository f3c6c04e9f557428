package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/chaz8081/pacinglights/internal/command"
)

// Writer delivers a raw payload over the active session. *Manager
// implements it.
type Writer interface {
	Write(ctx context.Context, payload []byte) (uint64, error)
}

var _ Writer = (*Manager)(nil)

// Ack confirms that a command reached the controller.
type Ack struct {
	Session uint64
	Payload string
}

// Channel encodes commands and writes them over the active session.
type Channel struct {
	w   Writer
	log *zap.Logger
}

// NewChannel creates a Channel writing through w.
func NewChannel(w Writer, log *zap.Logger) *Channel {
	if log == nil {
		log = zap.NewNop()
	}
	return &Channel{w: w, log: log}
}

// Send validates cmd and writes its payload. An invalid command never
// reaches the radio.
func (c *Channel) Send(ctx context.Context, cmd command.Command) (Ack, error) {
	payload, err := cmd.Encode()
	if err != nil {
		return Ack{}, &SendError{Kind: ErrInvalidCommand, Err: err}
	}
	session, err := c.w.Write(ctx, []byte(payload))
	if err != nil {
		return Ack{}, err
	}
	c.log.Info("command sent", zap.String("payload", payload), zap.Uint64("session", session))
	return Ack{Session: session, Payload: payload}, nil
}

// Stop halts a running wave.
func (c *Channel) Stop(ctx context.Context) (Ack, error) {
	return c.Send(ctx, command.Stop)
}

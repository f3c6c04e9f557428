// Package permission obtains the host's consent to use the Bluetooth radio
// before any scan is attempted.
package permission

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrPermissionDenied is returned by Require when the user or the platform
// refuses radio access.
var ErrPermissionDenied = errors.New("permission: bluetooth access denied")

// Platform is the host-specific permission mechanism.
type Platform interface {
	// Check reports whether radio access is already granted.
	Check(ctx context.Context) (bool, error)
	// Prompt asks for access once and reports the outcome.
	Prompt(ctx context.Context) (bool, error)
}

// Gate caches a grant so later requests never prompt again.
type Gate struct {
	platform Platform
	log      *zap.Logger

	mu      sync.Mutex
	granted bool
}

// NewGate creates a Gate over platform.
func NewGate(platform Platform, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{platform: platform, log: log}
}

// Request checks for radio access and prompts when it is missing. Denial
// is reported as false with a nil error; an error means the platform
// could not answer.
func (g *Gate) Request(ctx context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.granted {
		return true, nil
	}

	ok, err := g.platform.Check(ctx)
	if err != nil {
		return false, fmt.Errorf("permission: check: %w", err)
	}
	if !ok {
		g.log.Info("permission: requesting bluetooth access")
		ok, err = g.platform.Prompt(ctx)
		if err != nil {
			return false, fmt.Errorf("permission: prompt: %w", err)
		}
	}
	if !ok {
		g.log.Warn("permission: bluetooth access denied")
		return false, nil
	}

	g.granted = true
	g.log.Debug("permission: bluetooth access granted")
	return true, nil
}

// Require is Request with denial reported as ErrPermissionDenied.
func (g *Gate) Require(ctx context.Context) error {
	ok, err := g.Request(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPermissionDenied
	}
	return nil
}

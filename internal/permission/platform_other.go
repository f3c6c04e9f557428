//go:build !linux

package permission

import (
	"context"

	"go.uber.org/zap"
)

// osPrompt defers to the operating system, which asks the user the first
// time the radio is used. Refusals surface as scan errors.
type osPrompt struct{}

// NewPlatform returns the platform for this OS. adapter is ignored.
func NewPlatform(adapter string, log *zap.Logger) Platform {
	return osPrompt{}
}

func (osPrompt) Check(context.Context) (bool, error)  { return true, nil }
func (osPrompt) Prompt(context.Context) (bool, error) { return true, nil }

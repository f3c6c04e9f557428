// Package command implements the pacing-lights wave command and its text
// wire payload: four comma-separated fields in the fixed order
// totalLaps, timePerLap, numLights, startingLight.
package command

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// MaxStartingLight is the highest node index the controller accepts.
// Node 0 is the first light.
const MaxStartingLight = 7

// ErrInvalid is wrapped by every validation and decode failure.
var ErrInvalid = errors.New("invalid command")

// Command is one wave request for the lights controller.
type Command struct {
	TotalLaps     int
	TimePerLap    float64 // seconds
	NumLights     int
	StartingLight int
}

// Stop is the all-zero sentinel that halts a running wave.
var Stop = Command{}

// StopPayload is the wire form of Stop.
const StopPayload = "0,0,0,0"

var (
	uintPattern    = regexp.MustCompile(`^\d+$`)
	decimalPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

// IsStop reports whether c is the stop sentinel.
func (c Command) IsStop() bool {
	return c == Stop
}

// Validate checks every field against its predicate.
func (c Command) Validate() error {
	var errs []error
	if c.TotalLaps < 0 {
		errs = append(errs, fieldErr("total laps", "must be a non-negative integer, got %d", c.TotalLaps))
	}
	if math.IsNaN(c.TimePerLap) || math.IsInf(c.TimePerLap, 0) || c.TimePerLap < 0 {
		errs = append(errs, fieldErr("time per lap", "must be a non-negative number, got %v", c.TimePerLap))
	}
	if c.NumLights < 0 {
		errs = append(errs, fieldErr("number of lights", "must be a non-negative integer, got %d", c.NumLights))
	}
	if c.StartingLight < 0 || c.StartingLight > MaxStartingLight {
		errs = append(errs, fieldErr("starting light", "must be an integer 0-%d, got %d", MaxStartingLight, c.StartingLight))
	}
	return errors.Join(errs...)
}

// Encode validates c and renders its wire payload, e.g. "10,45.5,8,0".
func (c Command) Encode() (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}
	return c.format(), nil
}

func (c Command) format() string {
	lapTime := c.TimePerLap
	if lapTime == 0 {
		lapTime = 0 // -0 would render as "-0"
	}
	return strings.Join([]string{
		strconv.Itoa(c.TotalLaps),
		strconv.FormatFloat(lapTime, 'f', -1, 64),
		strconv.Itoa(c.NumLights),
		strconv.Itoa(c.StartingLight),
	}, ",")
}

// String implements fmt.Stringer using the wire form.
func (c Command) String() string {
	return c.format()
}

// Decode parses a wire payload back into a Command. It is the exact inverse
// of Encode for every valid command.
func Decode(payload string) (Command, error) {
	fields := strings.Split(payload, ",")
	if len(fields) != 4 {
		return Command{}, fmt.Errorf("%w: payload %q has %d fields, want 4", ErrInvalid, payload, len(fields))
	}
	return parseFields(fields[0], fields[1], fields[2], fields[3])
}

// Parse builds a Command from raw form input. Surrounding whitespace is
// ignored; every failing field is reported.
func Parse(totalLaps, timePerLap, numLights, startingLight string) (Command, error) {
	return parseFields(
		strings.TrimSpace(totalLaps),
		strings.TrimSpace(timePerLap),
		strings.TrimSpace(numLights),
		strings.TrimSpace(startingLight),
	)
}

func parseFields(laps, lapTime, lights, start string) (Command, error) {
	var (
		c    Command
		errs []error
		err  error
	)
	if c.TotalLaps, err = parseUint("total laps", laps); err != nil {
		errs = append(errs, err)
	}
	if !decimalPattern.MatchString(lapTime) {
		errs = append(errs, fieldErr("time per lap", "enter a number, got %q", lapTime))
	} else if c.TimePerLap, err = strconv.ParseFloat(lapTime, 64); err != nil {
		errs = append(errs, fieldErr("time per lap", "%v", err))
	}
	if c.NumLights, err = parseUint("number of lights", lights); err != nil {
		errs = append(errs, err)
	}
	if c.StartingLight, err = parseUint("starting light", start); err != nil {
		errs = append(errs, err)
	} else if c.StartingLight > MaxStartingLight {
		errs = append(errs, fieldErr("starting light", "enter an integer 0-%d (0 is the first node), got %d", MaxStartingLight, c.StartingLight))
	}
	if len(errs) > 0 {
		return Command{}, errors.Join(errs...)
	}
	return c, nil
}

func parseUint(field, s string) (int, error) {
	if !uintPattern.MatchString(s) {
		return 0, fieldErr(field, "enter a valid integer, got %q", s)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fieldErr(field, "%v", err)
	}
	return n, nil
}

func fieldErr(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s %s", ErrInvalid, field, fmt.Sprintf(format, args...))
}

// Package cricket implements the rules of hand cricket: the toss, the
// ball-by-ball innings engine and the match that sequences them.
//
// Nothing in this package blocks or logs. Callers feed it picks and read back
// updates; the room hub and the single-player session are both built on the
// same Match.
package cricket

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidPick       = errors.New("pick must be between 1 and 6")
	ErrInvalidSettings   = errors.New("overs and wickets must each be 1, 3 or 5")
	ErrInvalidParity     = errors.New(`parity must be "odd" or "even"`)
	ErrInvalidRole       = errors.New(`role must be "bat" or "bowl"`)
	ErrWrongPhase        = errors.New("action not allowed in current phase")
	ErrNotYourTurn       = errors.New("not your turn to pick")
	ErrNoActiveInnings   = errors.New("no innings in progress")
	ErrAlreadySubmitted  = errors.New("number already submitted")
	ErrNotTossWinner     = errors.New("only the toss winner may choose to bat or bowl")
	ErrInvalidTransition = errors.New("invalid screen transition")
)

// MinPick and MaxPick bound every number a player may show.
const (
	MinPick = 1
	MaxPick = 6

	BallsPerOver = 6
)

// ValidPick reports whether n is a legal hand.
func ValidPick(n int) bool {
	return n >= MinPick && n <= MaxPick
}

// Side identifies one of the two teams. Local is the player whose perspective
// results are stated from (the human in single-player, the host in a room).
type Side int

const (
	Local Side = iota
	Opponent
)

func (s Side) Other() Side {
	if s == Local {
		return Opponent
	}
	return Local
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s Side) String() string {
	switch s {
	case Local:
		return "local"
	case Opponent:
		return "opponent"
	default:
		return "unknown"
	}
}

// Role is what the toss winner chooses to do first.
type Role int

const (
	Bat Role = iota
	Bowl
)

func (r Role) Opposite() Role {
	if r == Bat {
		return Bowl
	}
	return Bat
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r Role) String() string {
	if r == Bowl {
		return "bowl"
	}
	return "bat"
}

func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bat":
		return Bat, nil
	case "bowl":
		return Bowl, nil
	}
	return Bat, fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// Parity is the odd/even call made before the toss numbers are shown.
type Parity int

const (
	Odd Parity = iota
	Even
)

func (p Parity) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p Parity) String() string {
	if p == Even {
		return "even"
	}
	return "odd"
}

func ParseParity(s string) (Parity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "odd":
		return Odd, nil
	case "even":
		return Even, nil
	}
	return Odd, fmt.Errorf("%w: %q", ErrInvalidParity, s)
}

// ParityOf returns the parity of n.
func ParityOf(n int) Parity {
	if n%2 == 0 {
		return Even
	}
	return Odd
}

package cricket

import (
	"fmt"
	"strings"
)

type Screen int

const (
	ScreenIntro Screen = iota
	ScreenHome
	ScreenToss
	ScreenInnings
	ScreenResult
	ScreenLeaderboard
)

func (s Screen) String() string {
	switch s {
	case ScreenIntro:
		return "intro"
	case ScreenHome:
		return "home"
	case ScreenToss:
		return "toss"
	case ScreenInnings:
		return "innings"
	case ScreenResult:
		return "result"
	case ScreenLeaderboard:
		return "leaderboard"
	default:
		return "unknown"
	}
}

func (s Screen) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Event int

const (
	EventStart Event = iota
	EventPlay
	EventTossDone
	EventMatchOver
	EventLeaderboard
	EventBack
	EventHome
)

var eventNames = map[string]Event{
	"start":       EventStart,
	"play":        EventPlay,
	"toss_done":   EventTossDone,
	"match_over":  EventMatchOver,
	"leaderboard": EventLeaderboard,
	"back":        EventBack,
	"home":        EventHome,
}

func ParseEvent(s string) (Event, error) {
	e, ok := eventNames[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, s)
	}
	return e, nil
}

// transitions lists every legal move; Back and Home are handled separately.
var transitions = map[Screen]map[Event]Screen{
	ScreenIntro:   {EventStart: ScreenHome},
	ScreenHome:    {EventPlay: ScreenToss, EventLeaderboard: ScreenLeaderboard},
	ScreenToss:    {EventTossDone: ScreenInnings},
	ScreenInnings: {EventMatchOver: ScreenResult},
	ScreenResult:  {EventPlay: ScreenToss, EventLeaderboard: ScreenLeaderboard},
}

// Navigator is the top-level screen machine.
type Navigator struct {
	current   Screen
	hasResult bool
}

func NewNavigator(start Screen) *Navigator {
	return &Navigator{current: start}
}

func (n *Navigator) Current() Screen { return n.current }

// Fire applies e. Home is legal from anywhere and forgets the last result;
// Back leaves the leaderboard for the result it was opened from, or home.
func (n *Navigator) Fire(e Event) (Screen, error) {
	switch e {
	case EventHome:
		n.current = ScreenHome
		n.hasResult = false
		return n.current, nil
	case EventBack:
		if n.current != ScreenLeaderboard {
			return n.current, fmt.Errorf("%w: back from %s", ErrInvalidTransition, n.current)
		}
		if n.hasResult {
			n.current = ScreenResult
		} else {
			n.current = ScreenHome
		}
		return n.current, nil
	}

	next, ok := transitions[n.current][e]
	if !ok {
		return n.current, fmt.Errorf("%w: from %s", ErrInvalidTransition, n.current)
	}

	switch next {
	case ScreenResult:
		n.hasResult = true
	case ScreenToss:
		n.hasResult = false
	}
	n.current = next

	return n.current, nil
}

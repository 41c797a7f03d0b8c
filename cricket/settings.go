package cricket

import (
	"fmt"
	"slices"
)

var (
	AllowedOvers   = []int{1, 3, 5}
	AllowedWickets = []int{1, 3, 5}
)

// Settings are fixed once the toss is decided and never change for the match.
// BatOrBowl is stated from the Local side's perspective.
type Settings struct {
	Overs     int  `json:"overs"`
	Wickets   int  `json:"wickets"`
	BatOrBowl Role `json:"bat_or_bowl"`
}

func (s Settings) Validate() error {
	if !slices.Contains(AllowedOvers, s.Overs) || !slices.Contains(AllowedWickets, s.Wickets) {
		return fmt.Errorf("%w (got overs=%d, wickets=%d)", ErrInvalidSettings, s.Overs, s.Wickets)
	}
	return nil
}

// Balls is the per-innings ball budget.
func (s Settings) Balls() int {
	return s.Overs * BallsPerOver
}

// FirstBatting returns the side that bats in innings 1.
func (s Settings) FirstBatting() Side {
	if s.BatOrBowl == Bat {
		return Local
	}
	return Opponent
}

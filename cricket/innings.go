package cricket

import "fmt"

// BallOutcome is derived per ball and never mutated.
type BallOutcome struct {
	BatterPick int  `json:"batter_pick"`
	BowlerPick int  `json:"bowler_pick"`
	Out        bool `json:"out"`
	Runs       int  `json:"runs"`
}

// Innings tracks one side's turn to bat. Target is zero for the first
// innings and first-innings score + 1 for the second.
type Innings struct {
	Number         int           `json:"number"`
	Batting        Side          `json:"batting"`
	Runs           int           `json:"runs"`
	Wickets        int           `json:"wickets"`
	WicketsLimit   int           `json:"wickets_limit"`
	BallsRemaining int           `json:"balls_remaining"`
	Overs          int           `json:"overs"`
	Target         int           `json:"target,omitempty"`
	Balls          []BallOutcome `json:"balls"`
}

func newInnings(number int, batting Side, s Settings, target int) *Innings {
	return &Innings{
		Number:         number,
		Batting:        batting,
		WicketsLimit:   s.Wickets,
		BallsRemaining: s.Balls(),
		Overs:          s.Overs,
		Target:         target,
		Balls:          make([]BallOutcome, 0, s.Balls()),
	}
}

// ResolveBall applies one ball. Picks are validated by the caller.
func (in *Innings) ResolveBall(batterPick, bowlerPick int) BallOutcome {
	out := BallOutcome{
		BatterPick: batterPick,
		BowlerPick: bowlerPick,
		Out:        batterPick == bowlerPick,
	}

	if out.Out {
		in.Wickets++
	} else {
		out.Runs = batterPick
		in.Runs += out.Runs
	}
	in.BallsRemaining--
	in.Balls = append(in.Balls, out)

	return out
}

// ChaseComplete reports whether a second-innings target has been reached.
func (in *Innings) ChaseComplete() bool {
	return in.Target > 0 && in.Runs >= in.Target
}

// Over reports whether the innings has ended, checked after every ball.
func (in *Innings) Over() bool {
	return in.BallsRemaining <= 0 || in.Wickets >= in.WicketsLimit || in.ChaseComplete()
}

// OversBowled renders progress the way a scoreboard does, e.g. "0.2/1".
func (in *Innings) OversBowled() string {
	bowled := in.Overs*BallsPerOver - in.BallsRemaining
	return fmt.Sprintf("%d.%d/%d", bowled/BallsPerOver, bowled%BallsPerOver, in.Overs)
}

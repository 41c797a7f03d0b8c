package cricket

import "fmt"

type ResultType int

const (
	Victory ResultType = iota
	Lose
	Draw
)

func (r ResultType) String() string {
	switch r {
	case Victory:
		return "victory"
	case Lose:
		return "lose"
	default:
		return "draw"
	}
}

func (r ResultType) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Result is stated from the local side's perspective.
type Result struct {
	Type          ResultType `json:"result_type"`
	LocalScore    int        `json:"local_score"`
	OpponentScore int        `json:"opponent_score"`
	Margin        int        `json:"margin"`
}

// Finalize compares the two totals.
func Finalize(localScore, opponentScore int) Result {
	r := Result{
		LocalScore:    localScore,
		OpponentScore: opponentScore,
	}

	switch {
	case localScore > opponentScore:
		r.Type = Victory
		r.Margin = localScore - opponentScore
	case localScore < opponentScore:
		r.Type = Lose
		r.Margin = opponentScore - localScore
	default:
		r.Type = Draw
	}

	return r
}

func (r Result) Summary() string {
	switch r.Type {
	case Victory:
		return fmt.Sprintf("You Won by %d runs", r.Margin)
	case Lose:
		return fmt.Sprintf("You Lost by %d runs", r.Margin)
	default:
		return "Match Drawn"
	}
}

// Flip restates the result from the opponent's perspective.
func (r Result) Flip() Result {
	return Finalize(r.OpponentScore, r.LocalScore)
}

package cricket

import (
	"context"
	"fmt"
)

// Session plays a Match against a PickSource. The human is always Local; the
// source supplies every Opponent decision.
type Session struct {
	match    *Match
	opponent PickSource
}

func NewSession(m *Match, opponent PickSource) *Session {
	return &Session{match: m, opponent: opponent}
}

func (s *Session) Match() *Match { return s.match }

// SubmitTossNumber shows the human's number and draws the opponent's. The
// opponent's number is drawn first so a failed draw leaves the toss as it was.
func (s *Session) SubmitTossNumber(ctx context.Context, n int) error {
	if !ValidPick(n) {
		return ErrInvalidPick
	}
	if s.match.Phase() != PhaseToss {
		return fmt.Errorf("submit toss number: %w", ErrWrongPhase)
	}
	if s.match.Toss().Submitted(Local) {
		return ErrAlreadySubmitted
	}

	if !s.match.Toss().Submitted(Opponent) {
		pick, err := s.opponent.NextPick(ctx)
		if err != nil {
			return fmt.Errorf("opponent toss number: %w", err)
		}
		if err := s.match.SubmitTossNumber(Opponent, pick); err != nil {
			return err
		}
	}
	return s.match.SubmitTossNumber(Local, n)
}

// ProceedToss moves past the toss result. When the opponent won, it decides
// immediately and the first innings starts.
func (s *Session) ProceedToss(ctx context.Context) error {
	if s.match.Phase() != PhaseToss || s.match.Toss().Phase() != TossResolved {
		return fmt.Errorf("proceed toss: %w", ErrWrongPhase)
	}

	winner, _ := s.match.Toss().Winner()
	if winner == Local {
		return s.match.ProceedToss()
	}

	pick, err := s.opponent.NextPick(ctx)
	if err != nil {
		return fmt.Errorf("opponent bat or bowl: %w", err)
	}
	if err := s.match.ProceedToss(); err != nil {
		return err
	}
	return s.match.ChooseBatOrBowl(Opponent, roleFromPick(pick))
}

// Play resolves one ball from the human's number. There is no information
// to hide from a random opponent, so both numbers are settled together.
func (s *Session) Play(ctx context.Context, n int) (Update, error) {
	batting, ok := s.match.Batting()
	if !ok {
		return Update{}, ErrNoActiveInnings
	}
	if !ValidPick(n) {
		return Update{}, ErrInvalidPick
	}

	pick, err := s.opponent.NextPick(ctx)
	if err != nil {
		return Update{}, fmt.Errorf("opponent pick: %w", err)
	}

	if batting == Local {
		return s.match.PlayBall(n, pick)
	}
	return s.match.PlayBall(pick, n)
}

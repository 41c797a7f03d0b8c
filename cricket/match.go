package cricket

import "fmt"

type Phase int

const (
	PhaseSetup Phase = iota
	PhaseToss
	PhaseInnings
	PhaseInningsBreak
	PhaseComplete
)

func (p Phase) String() string {
	switch p {
	case PhaseSetup:
		return "setup"
	case PhaseToss:
		return "toss"
	case PhaseInnings:
		return "innings"
	case PhaseInningsBreak:
		return "innings_break"
	case PhaseComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Update describes what a pick did to the match.
type Update struct {
	Ball           *BallOutcome
	AwaitingBowler bool
	InningsOver    bool
	Innings        *Innings
	Result         *Result
}

// Match sequences setup, toss, two innings and the result. It is not safe for
// concurrent use; the room hub owns one per room and serialises access.
type Match struct {
	phase    Phase
	settings Settings
	toss     *Toss
	innings  []*Innings
	scores   [2]int
	target   int
	pending  int
	result   *Result
}

func NewMatch() *Match {
	return &Match{toss: NewToss()}
}

func (m *Match) Phase() Phase { return m.phase }

func (m *Match) Settings() Settings { return m.settings }

func (m *Match) Toss() *Toss { return m.toss }

func (m *Match) Target() int { return m.target }

func (m *Match) Score(side Side) int { return m.scores[side] }

func (m *Match) Result() (Result, bool) {
	if m.result == nil {
		return Result{}, false
	}
	return *m.result, true
}

// Current returns the active innings, or the last one played.
func (m *Match) Current() *Innings {
	if len(m.innings) == 0 {
		return nil
	}
	return m.innings[len(m.innings)-1]
}

func (m *Match) Innings() []*Innings {
	return m.innings
}

// Configure chooses overs and wickets. On error nothing changes and the
// caller is expected to re-prompt.
func (m *Match) Configure(overs, wickets int) error {
	if m.phase != PhaseSetup {
		return fmt.Errorf("configure: %w", ErrWrongPhase)
	}

	s := Settings{Overs: overs, Wickets: wickets}
	if err := s.Validate(); err != nil {
		return err
	}

	m.settings = s
	m.phase = PhaseToss

	return nil
}

func (m *Match) ChooseParity(p Parity) error {
	if m.phase != PhaseToss {
		return fmt.Errorf("choose parity: %w", ErrWrongPhase)
	}
	return m.toss.ChooseParity(p)
}

func (m *Match) SubmitTossNumber(side Side, n int) error {
	if m.phase != PhaseToss {
		return fmt.Errorf("submit toss number: %w", ErrWrongPhase)
	}
	return m.toss.SubmitNumber(side, n)
}

func (m *Match) ProceedToss() error {
	if m.phase != PhaseToss {
		return fmt.Errorf("proceed toss: %w", ErrWrongPhase)
	}
	return m.toss.Proceed()
}

// ChooseBatOrBowl records the toss winner's decision, fixes the settings and
// starts the first innings.
func (m *Match) ChooseBatOrBowl(side Side, r Role) error {
	if m.phase != PhaseToss {
		return fmt.Errorf("choose bat or bowl: %w", ErrWrongPhase)
	}
	if err := m.toss.ChooseBatOrBowl(side, r); err != nil {
		return err
	}

	m.settings.BatOrBowl, _ = m.toss.LocalRole()
	m.innings = append(m.innings, newInnings(1, m.settings.FirstBatting(), m.settings, 0))
	m.phase = PhaseInnings

	return nil
}

// Batting returns the side currently batting.
func (m *Match) Batting() (Side, bool) {
	if m.phase != PhaseInnings {
		return Local, false
	}
	return m.Current().Batting, true
}

// BatterWaiting reports whether the batter has picked and the bowler has not.
func (m *Match) BatterWaiting() bool {
	return m.pending != 0
}

// Pick takes one side's number for the current ball. The batter commits
// first; the ball resolves when the bowler follows.
func (m *Match) Pick(side Side, n int) (Update, error) {
	if m.phase != PhaseInnings {
		return Update{}, ErrNoActiveInnings
	}
	if !ValidPick(n) {
		return Update{}, ErrInvalidPick
	}

	batting := m.Current().Batting
	if m.pending == 0 {
		if side != batting {
			return Update{}, fmt.Errorf("%w: batter picks first", ErrNotYourTurn)
		}
		m.pending = n
		return Update{AwaitingBowler: true, Innings: m.Current()}, nil
	}

	if side == batting {
		return Update{}, fmt.Errorf("%w: waiting for bowler", ErrNotYourTurn)
	}

	batterPick := m.pending
	m.pending = 0

	return m.PlayBall(batterPick, n)
}

// PlayBall resolves a ball with both numbers known.
func (m *Match) PlayBall(batterPick, bowlerPick int) (Update, error) {
	if m.phase != PhaseInnings {
		return Update{}, ErrNoActiveInnings
	}
	if !ValidPick(batterPick) || !ValidPick(bowlerPick) {
		return Update{}, ErrInvalidPick
	}

	in := m.Current()
	ball := in.ResolveBall(batterPick, bowlerPick)
	m.scores[in.Batting] += ball.Runs

	u := Update{Ball: &ball, Innings: in}
	if in.Over() {
		u.InningsOver = true
		m.endInnings()
		u.Result = m.result
	}

	return u, nil
}

func (m *Match) endInnings() {
	m.pending = 0

	if len(m.innings) == 1 {
		m.target = m.Current().Runs + 1
		m.phase = PhaseInningsBreak
		return
	}

	r := Finalize(m.scores[Local], m.scores[Opponent])
	m.result = &r
	m.phase = PhaseComplete
}

// StartSecondInnings swaps sides. Settings, the first-innings score and the
// target carry over.
func (m *Match) StartSecondInnings() error {
	if m.phase != PhaseInningsBreak {
		return fmt.Errorf("start second innings: %w", ErrWrongPhase)
	}

	batting := m.Current().Batting.Other()
	m.innings = append(m.innings, newInnings(2, batting, m.settings, m.target))
	m.phase = PhaseInnings

	return nil
}

// Rematch returns a fresh match with the same overs and wickets, ready for
// the toss.
func (m *Match) Rematch() *Match {
	next := NewMatch()
	if m.phase != PhaseSetup {
		_ = next.Configure(m.settings.Overs, m.settings.Wickets)
	}
	return next
}

package cricket

import "fmt"

type TossPhase int

const (
	TossChoosingParity TossPhase = iota
	TossPickingNumber
	TossResolved
	TossChoosingBatOrBowl
	TossDone
)

func (p TossPhase) String() string {
	switch p {
	case TossChoosingParity:
		return "choosing_parity"
	case TossPickingNumber:
		return "picking_number"
	case TossResolved:
		return "resolved"
	case TossChoosingBatOrBowl:
		return "choosing_bat_or_bowl"
	case TossDone:
		return "done"
	default:
		return "unknown"
	}
}

// ResolveToss returns the toss winner for the given numbers and the parity
// called by the local side.
func ResolveToss(local, opponent int, called Parity) Side {
	if ParityOf(local+opponent) == called {
		return Local
	}
	return Opponent
}

// Toss runs the odd/even mini-game that decides who chooses to bat or bowl.
//
// Numbers may arrive before the parity call (a remote peer can be quicker
// than the local player); they are held until the call is made and the toss
// resolves only once both numbers and the call are present.
type Toss struct {
	phase   TossPhase
	called  Parity
	numbers [2]int
	winner  Side
	choice  Role
}

func NewToss() *Toss {
	return &Toss{}
}

func (t *Toss) Phase() TossPhase { return t.phase }

func (t *Toss) ChooseParity(p Parity) error {
	if t.phase != TossChoosingParity {
		return fmt.Errorf("choose parity: %w", ErrWrongPhase)
	}

	t.called = p
	t.phase = TossPickingNumber
	t.tryResolve()

	return nil
}

func (t *Toss) SubmitNumber(side Side, n int) error {
	if t.phase != TossChoosingParity && t.phase != TossPickingNumber {
		return fmt.Errorf("submit toss number: %w", ErrWrongPhase)
	}
	if !ValidPick(n) {
		return ErrInvalidPick
	}
	if t.numbers[side] != 0 {
		return ErrAlreadySubmitted
	}

	t.numbers[side] = n
	t.tryResolve()

	return nil
}

// Submitted reports whether side has already shown its number.
func (t *Toss) Submitted(side Side) bool {
	return t.numbers[side] != 0
}

func (t *Toss) tryResolve() {
	if t.phase != TossPickingNumber || t.numbers[Local] == 0 || t.numbers[Opponent] == 0 {
		return
	}

	t.winner = ResolveToss(t.numbers[Local], t.numbers[Opponent], t.called)
	t.phase = TossResolved
}

// Proceed moves from the revealed result to the bat/bowl decision.
func (t *Toss) Proceed() error {
	if t.phase != TossResolved {
		return fmt.Errorf("proceed toss: %w", ErrWrongPhase)
	}
	t.phase = TossChoosingBatOrBowl
	return nil
}

func (t *Toss) ChooseBatOrBowl(side Side, r Role) error {
	if t.phase != TossChoosingBatOrBowl {
		return fmt.Errorf("choose bat or bowl: %w", ErrWrongPhase)
	}
	if side != t.winner {
		return ErrNotTossWinner
	}

	t.choice = r
	t.phase = TossDone

	return nil
}

// Winner is only meaningful once the toss has resolved.
func (t *Toss) Winner() (Side, bool) {
	return t.winner, t.phase >= TossResolved
}

func (t *Toss) Called() (Parity, bool) {
	return t.called, t.phase >= TossPickingNumber
}

// Numbers returns the shown numbers once the toss has resolved. Before that
// they are hidden so neither side can react to the other's hand.
func (t *Toss) Numbers() (local, opponent int, ok bool) {
	if t.phase < TossResolved {
		return 0, 0, false
	}
	return t.numbers[Local], t.numbers[Opponent], true
}

// LocalRole states the winner's choice from the local side's perspective.
func (t *Toss) LocalRole() (Role, bool) {
	if t.phase != TossDone {
		return Bat, false
	}
	if t.winner == Local {
		return t.choice, true
	}
	return t.choice.Opposite(), true
}

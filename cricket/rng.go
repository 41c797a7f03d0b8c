package cricket

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sync"
)

// PickSource supplies the opponent's next number. The computer opponent is a
// Random; any other source (a scripted test opponent, a remote peer) only
// needs to honour the same contract.
type PickSource interface {
	NextPick(ctx context.Context) (int, error)
}

// NewSeed generates a seed using crypto/rand.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}

	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// Random picks uniformly from 1..6. It is deterministic for a given seed and
// safe for concurrent use.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandom(seed int64) *Random {
	return &Random{rng: rand.New(rand.NewSource(seed))}
}

func (r *Random) Pick() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.rng.Intn(MaxPick) + MinPick
}

func (r *Random) NextPick(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return r.Pick(), nil
}

// roleFromPick turns a pick into a fair bat/bowl decision.
func roleFromPick(n int) Role {
	if n <= MaxPick/2 {
		return Bat
	}
	return Bowl
}

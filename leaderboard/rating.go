package leaderboard

import "math"

const (
	// StartingRating is given to every new player and is the computer's
	// fixed rating.
	StartingRating = 1000

	eloK = 32
)

// expected is the Elo win expectancy of a rated a against b.
func expected(a, b int) float64 {
	return 1 / (1 + math.Pow(10, float64(b-a)/400))
}

// adjust returns a's new rating after scoring score (1 win, 0.5 draw, 0
// loss) against b.
func adjust(a, b int, score float64) int {
	return a + int(math.Round(eloK*(score-expected(a, b))))
}

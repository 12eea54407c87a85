package timer

import "time"

// ShouldPersist decides whether an unforced write is due while running: every 10s,
// every 5s in the final minute and every second in the final 10s.
func ShouldPersist(remaining int, sinceLastWrite time.Duration) bool {
	switch {
	case remaining <= 10:
		return sinceLastWrite >= time.Second
	case remaining <= 60:
		return sinceLastWrite >= 5*time.Second
	default:
		return sinceLastWrite >= 10*time.Second
	}
}

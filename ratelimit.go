package hornetlock

import "time"

// errorInterval is the minimum time between repeated error logs from a hot
// loop
const errorInterval = 15 * time.Second

// logLimiter suppresses repeated log lines, counting what it dropped
type logLimiter struct {
	last       time.Time
	suppressed int
}

// allow reports whether a line may be logged at now and returns how many
// were suppressed since the last one
func (l *logLimiter) allow(now time.Time) (bool, int) {

	if !l.last.IsZero() && now.Sub(l.last) < errorInterval {
		l.suppressed++
		return false, 0
	}

	n := l.suppressed
	l.last = now
	l.suppressed = 0

	return true, n
}

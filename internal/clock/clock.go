package clock

import "time"

// Clock abstracts the wall clock so settlement claims and ledger postings can
// be tested with fixed time.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

package dispatch

import "sync"

// TripLocks hands out one mutex per trip id. Entries are dropped once no
// caller holds or waits on them, so the map stays proportional to the
// number of trips with work in flight.
type TripLocks struct {
	mu    sync.Mutex
	locks map[uint]*tripLock
}

type tripLock struct {
	sync.Mutex
	refs int
}

func NewTripLocks() *TripLocks {
	return &TripLocks{locks: make(map[uint]*tripLock)}
}

// Lock blocks until the caller owns tripID and returns the matching unlock
func (l *TripLocks) Lock(tripID uint) func() {
	l.mu.Lock()
	lock, ok := l.locks[tripID]
	if !ok {
		lock = &tripLock{}
		l.locks[tripID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.Lock()
	return func() {
		lock.Unlock()

		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, tripID)
		}
		l.mu.Unlock()
	}
}

func (l *TripLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

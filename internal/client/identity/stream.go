package identity

import "sync"

// AuthState is one auth-state-changed event. A nil User means signed out.
type AuthState struct {
	User *User
}

// SignedIn reports whether a user is present.
func (s AuthState) SignedIn() bool { return s.User != nil }

// Stream fans auth-state events out to subscribers. Each subscriber holds
// at most one pending event: a slow reader only ever sees the latest state.
type Stream struct {
	mu      sync.Mutex
	current AuthState
	subs    map[int]chan AuthState
	nextID  int
	closed  bool
}

// NewStream returns a Stream whose current state is initial.
func NewStream(initial AuthState) *Stream {
	return &Stream{current: initial, subs: make(map[int]chan AuthState)}
}

// Current returns the latest published state.
func (s *Stream) Current() AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Publish records st and delivers it to every subscriber, replacing any
// event they have not consumed yet.
func (s *Stream) Publish(st AuthState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.current = st
	for _, ch := range s.subs {
		deliver(ch, st)
	}
}

func deliver(ch chan AuthState, st AuthState) {
	select {
	case <-ch:
	default:
	}
	ch <- st
}

// Subscribe returns a channel that immediately carries the current state and
// then every later one, plus a function that unsubscribes and closes the
// channel. The function may be called more than once.
func (s *Stream) Subscribe() (<-chan AuthState, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan AuthState, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	ch <- s.current

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if _, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(ch)
			}
		})
	}
}

// Close ends the stream and closes every subscriber channel.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}

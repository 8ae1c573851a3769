package session

import (
	"container/list"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/courier/internal/clock"
)

const (
	DefaultRetentionCeiling = 20
	DefaultRetentionKeep    = 10
	DefaultMaxSessions      = 10000
	DefaultIdleTTL          = 24 * time.Hour
)

// Options configures a Store. Zero values fall back to the defaults above.
type Options struct {
	DefaultModel     Model
	DefaultStreaming bool
	RetentionCeiling int
	RetentionKeep    int
	MaxSessions      int
	IdleTTL          time.Duration
	Clock            clock.Clock
}

// Store maps conversation ids to sessions. It is bounded: the least recently
// used session is evicted once MaxSessions is reached, and sessions idle for
// longer than IdleTTL are dropped by CleanupExpired.
type Store struct {
	opts Options

	mu      sync.Mutex
	entries map[int64]*list.Element
	lru     *list.List // front = most recently used
}

type entry struct {
	chatID       int64
	session      Session
	lastActivity time.Time
	pins         int
}

func NewStore(opts Options) *Store {
	if opts.DefaultModel == "" {
		opts.DefaultModel = DefaultModel
	}
	if opts.RetentionCeiling <= 0 {
		opts.RetentionCeiling = DefaultRetentionCeiling
	}
	if opts.RetentionKeep <= 0 {
		opts.RetentionKeep = DefaultRetentionKeep
	}
	if opts.RetentionKeep > opts.RetentionCeiling {
		opts.RetentionKeep = opts.RetentionCeiling
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = DefaultMaxSessions
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Store{
		opts:    opts,
		entries: make(map[int64]*list.Element),
		lru:     list.New(),
	}
}

func (s *Store) defaultSession() Session {
	return Session{
		History:   []Turn{},
		Model:     s.opts.DefaultModel,
		Streaming: s.opts.DefaultStreaming,
	}
}

// Get returns the session for chatID if one exists.
func (s *Store) Get(chatID int64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[chatID]
	if !ok {
		return Session{}, false
	}
	s.touchLocked(el)
	return el.Value.(*entry).session.clone(), true
}

// GetOrCreate returns the existing session for chatID, installing a default
// one first if there is none.
func (s *Store) GetOrCreate(chatID int64) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entryLocked(chatID).session.clone()
}

// Set shallow-merges u into the session for chatID, creating the default
// session first if needed. History is never touched.
func (s *Store) Set(chatID int64, u Update) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(chatID)
	if u.Model != nil {
		e.session.Model = *u.Model
	}
	if u.Streaming != nil {
		e.session.Streaming = *u.Streaming
	}
	return e.session.clone()
}

// Append adds turns to the end of the history for chatID.
func (s *Store) Append(chatID int64, turns ...Turn) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(chatID)
	e.session.History = append(e.session.History, turns...)
	return e.session.clone()
}

// Trim applies the retention window to the history for chatID and returns
// how many turns were dropped from the front.
func (s *Store) Trim(chatID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[chatID]
	if !ok {
		return 0
	}
	e := el.Value.(*entry)
	before := len(e.session.History)
	e.session.History = TrimHistory(e.session.History, s.opts.RetentionCeiling, s.opts.RetentionKeep)
	return before - len(e.session.History)
}

// Context returns the newest window turns of the history for chatID.
func (s *Store) Context(chatID int64, window int) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[chatID]
	if !ok {
		return nil
	}
	last := LastTurns(el.Value.(*entry).session.History, window)
	out := make([]Turn, len(last))
	copy(out, last)
	return out
}

// Reset clears the history for chatID, keeping model and delivery mode.
func (s *Store) Reset(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[chatID]; ok {
		el.Value.(*entry).session.History = []Turn{}
		s.touchLocked(el)
	}
}

// Pin marks the session for chatID as in use, creating it if needed, and
// returns the matching unpin func. A pinned session is neither evicted nor
// expired, so the store may briefly hold more than MaxSessions.
func (s *Store) Pin(chatID int64) func() {
	s.mu.Lock()
	e := s.entryLocked(chatID)
	e.pins++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			e.pins--
			if el, ok := s.entries[chatID]; ok && el.Value.(*entry) == e {
				s.touchLocked(el)
			}
		})
	}
}

// Len reports the number of sessions currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// CleanupExpired removes sessions idle for longer than the configured TTL.
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Clock.Now()
	removed := 0
	// Oldest entries sit at the back; stop at the first one still fresh.
	for el := s.lru.Back(); el != nil; {
		e := el.Value.(*entry)
		if now.Sub(e.lastActivity) <= s.opts.IdleTTL {
			break
		}
		prev := el.Prev()
		if e.pins > 0 {
			el = prev
			continue
		}
		s.lru.Remove(el)
		delete(s.entries, e.chatID)
		removed++
		el = prev
	}
	return removed
}

func (s *Store) entryLocked(chatID int64) *entry {
	if el, ok := s.entries[chatID]; ok {
		s.touchLocked(el)
		return el.Value.(*entry)
	}

	for len(s.entries) >= s.opts.MaxSessions {
		victim := s.evictableLocked()
		if victim == nil {
			break
		}
		s.lru.Remove(victim)
		delete(s.entries, victim.Value.(*entry).chatID)
	}

	e := &entry{
		chatID:       chatID,
		session:      s.defaultSession(),
		lastActivity: s.opts.Clock.Now(),
	}
	s.entries[chatID] = s.lru.PushFront(e)
	return e
}

// evictableLocked returns the least recently used unpinned session.
func (s *Store) evictableLocked() *list.Element {
	for el := s.lru.Back(); el != nil; el = el.Prev() {
		if el.Value.(*entry).pins == 0 {
			return el
		}
	}
	return nil
}

func (s *Store) touchLocked(el *list.Element) {
	el.Value.(*entry).lastActivity = s.opts.Clock.Now()
	s.lru.MoveToFront(el)
}

// Package session implements payprocd's in-memory session and alias store:
// a two-level bucket index keyed by the first two zbase32 characters of
// the session id, TTL refreshed on every access and capped by an absolute
// lifetime, mirroring the daemon's original session.c semantics.
package session

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/gnupg/payproc/internal/keyvalue"
	"github.com/gnupg/payproc/internal/perr"
	"github.com/gnupg/payproc/internal/zbase32"
)

const (
	// DefaultTTL is used when a caller requests ttl <= 0.
	DefaultTTL = 30 * time.Minute
	// MaxLifetime bounds a session's total age regardless of activity,
	// so payproc can't be used as a free storage service.
	MaxLifetime = 6 * time.Hour
	// MaxSessions caps the number of concurrently live sessions.
	MaxSessions = 65536
	// MaxAliasesPerSession caps the number of aliases bound to one session.
	MaxAliasesPerSession = 3
	// sessidRawLen is the number of random bytes making up a session id
	// before zbase32 encoding (20 bytes -> 32 zbase32 characters).
	sessidRawLen = 20
)

type alias struct {
	id      string
	sessID  string
}

type session struct {
	id       string
	ttl      time.Duration
	created  time.Time
	accessed time.Time
	dict     *keyvalue.Dict
	aliases  []string
}

// Store is the concurrency-safe session and alias table.
type Store struct {
	mu sync.Mutex

	sessions [32][32]map[string]*session
	aliases  [32][32]map[string]*alias
	count    int
}

// New creates an empty session store.
func New() *Store {
	s := &Store{}
	for a := 0; a < 32; a++ {
		for b := 0; b < 32; b++ {
			s.sessions[a][b] = make(map[string]*session)
			s.aliases[a][b] = make(map[string]*alias)
		}
	}
	return s
}

func bucketIndex(id string) (int, int, bool) {
	if len(id) < 2 {
		return 0, 0, false
	}
	a := zbase32.Index(id[0])
	b := zbase32.Index(id[1])
	if a < 0 || b < 0 {
		return 0, 0, false
	}
	return a, b, true
}

func newID() (string, error) {
	nonce := make([]byte, sessidRawLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	return zbase32.Encode(nonce), nil
}

// Create allocates a new session, optionally seeded with dict, and returns
// its id. ttl <= 0 uses DefaultTTL; ttl is capped at MaxLifetime.
func (s *Store) Create(ttl time.Duration, dict *keyvalue.Dict) (string, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if ttl > MaxLifetime {
		ttl = MaxLifetime
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count >= MaxSessions {
		return "", perr.LimitReached
	}

	id, err := newID()
	if err != nil {
		return "", err
	}
	a, b, ok := bucketIndex(id)
	if !ok {
		return "", perr.InternalError
	}

	now := time.Now()
	sess := &session{
		id:       id,
		ttl:      ttl,
		created:  now,
		accessed: now,
		dict:     keyvalue.New(),
	}
	if dict != nil {
		for _, p := range dict.Pairs() {
			if p.Name == "" {
				continue
			}
			sess.dict.Put(p.Name, p.Value)
		}
	}

	s.sessions[a][b][id] = sess
	s.count++
	return id, nil
}

func (s *Store) expired(sess *session, now time.Time) bool {
	if sess.ttl > 0 && sess.accessed.Add(sess.ttl).Before(now) {
		return true
	}
	if sess.created.Add(MaxLifetime).Before(now) {
		return true
	}
	return false
}

// get returns the live session for id, refreshing its access time, or
// an error. Caller must hold s.mu.
func (s *Store) get(id string) (*session, error) {
	a, b, ok := bucketIndex(id)
	if !ok || len(id) != zbase32.EncodedLen(sessidRawLen) {
		return nil, perr.InvName
	}
	sess, ok := s.sessions[a][b][id]
	if !ok {
		return nil, perr.NotFound
	}
	now := time.Now()
	if s.expired(sess, now) {
		s.destroyLocked(id)
		return nil, perr.NotFound
	}
	sess.accessed = now
	return sess, nil
}

// Destroy removes a session and all of its aliases.
func (s *Store) Destroy(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyLocked(id)
}

func (s *Store) destroyLocked(id string) error {
	a, b, ok := bucketIndex(id)
	if !ok {
		return perr.InvName
	}
	sess, ok := s.sessions[a][b][id]
	if !ok {
		return perr.NotFound
	}
	aliases := append([]string(nil), sess.aliases...)
	for _, aliasID := range aliases {
		s.destroyAliasLocked(aliasID)
	}
	delete(s.sessions[a][b], id)
	s.count--
	return nil
}

// Put merges dict into the session's data. An empty value deletes the key.
func (s *Store) Put(id string, dict *keyvalue.Dict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.get(id)
	if err != nil {
		return err
	}
	for _, p := range dict.Pairs() {
		if p.Name == "" {
			continue
		}
		sess.dict.Put(p.Name, p.Value)
	}
	return nil
}

// Get returns a copy of the session's stored dictionary.
func (s *Store) Get(id string) (*keyvalue.Dict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return sess.dict.Clone(), nil
}

// CreateAlias mints a new alias id bound to sessid. Fails with
// LimitReached once MaxAliasesPerSession is reached.
func (s *Store) CreateAlias(sessid string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.get(sessid)
	if err != nil {
		return "", err
	}
	if len(sess.aliases) >= MaxAliasesPerSession {
		return "", perr.LimitReached
	}

	id, err := newID()
	if err != nil {
		return "", err
	}
	a, b, ok := bucketIndex(id)
	if !ok {
		return "", perr.InternalError
	}

	s.aliases[a][b][id] = &alias{id: id, sessID: sessid}
	sess.aliases = append(sess.aliases, id)
	return id, nil
}

// DestroyAlias removes an alias without touching its session.
func (s *Store) DestroyAlias(aliasid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyAliasLocked(aliasid)
}

func (s *Store) destroyAliasLocked(aliasid string) error {
	a, b, ok := bucketIndex(aliasid)
	if !ok {
		return perr.InvName
	}
	al, ok := s.aliases[a][b][aliasid]
	if !ok {
		return perr.NotFound
	}
	delete(s.aliases[a][b], aliasid)

	if sess, sessOK := s.lookupSessionLocked(al.sessID); sessOK {
		for i, id := range sess.aliases {
			if id == aliasid {
				sess.aliases = append(sess.aliases[:i], sess.aliases[i+1:]...)
				break
			}
		}
	}
	return nil
}

func (s *Store) lookupSessionLocked(id string) (*session, bool) {
	a, b, ok := bucketIndex(id)
	if !ok {
		return nil, false
	}
	sess, ok := s.sessions[a][b][id]
	return sess, ok
}

// SessID resolves an alias to its session id.
func (s *Store) SessID(aliasid string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, b, ok := bucketIndex(aliasid)
	if !ok {
		return "", perr.InvName
	}
	al, ok := s.aliases[a][b][aliasid]
	if !ok {
		return "", perr.NotFound
	}
	if _, sessOK := s.lookupSessionLocked(al.sessID); !sessOK {
		return "", perr.NotFound
	}
	return al.sessID, nil
}

// Housekeeping sweeps all buckets and removes expired sessions. It should
// be called periodically (e.g. every 30s) by the daemon's main loop.
func (s *Store) Housekeeping() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for a := 0; a < 32; a++ {
		for b := 0; b < 32; b++ {
			for id, sess := range s.sessions[a][b] {
				if s.expired(sess, now) {
					s.destroyLocked(id)
					removed++
				}
			}
		}
	}
	return removed
}

// Stats returns the current number of live sessions and aliases.
func (s *Store) Stats() (sessions int, aliases int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions = s.count
	for a := 0; a < 32; a++ {
		for b := 0; b < 32; b++ {
			aliases += len(s.aliases[a][b])
		}
	}
	return sessions, aliases
}

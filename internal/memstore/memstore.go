// Package memstore is an in-memory implementation of every repository interface. It backs
// STORE_DRIVER=memory and the component tests.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-livepoll/backend/internal/apperr"
	"github.com/aura-livepoll/backend/internal/models"
)

var errNotFound = errors.New("memstore: not found")

type participantKey struct {
	session uuid.UUID
	user    uuid.UUID
}

type voteKey struct {
	poll uuid.UUID
	user uuid.UUID
}

// Store keeps all records in maps guarded by one mutex.
type Store struct {
	mu           sync.RWMutex
	users        map[uuid.UUID]models.Identity
	sessions     map[uuid.UUID]models.Session
	participants map[participantKey]models.Participant
	polls        map[uuid.UUID]models.Poll
	votes        map[voteKey]models.Vote
	messages     map[uuid.UUID]models.ChatMessage
	fail         error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:        make(map[uuid.UUID]models.Identity),
		sessions:     make(map[uuid.UUID]models.Session),
		participants: make(map[participantKey]models.Participant),
		polls:        make(map[uuid.UUID]models.Poll),
		votes:        make(map[voteKey]models.Vote),
		messages:     make(map[uuid.UUID]models.ChatMessage),
	}
}

// SetFailure makes every write return err until cleared with nil.
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

// CreateUser implements auth.Store.
func (s *Store) CreateUser(_ context.Context, id models.Identity, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.users[id.UserID] = id
	return nil
}

// GetUser implements auth.Store.
func (s *Store) GetUser(_ context.Context, userID uuid.UUID) (*models.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.users[userID]
	if !ok {
		return nil, errNotFound
	}
	return &id, nil
}

// CreateSession implements sessions.Store.
func (s *Store) CreateSession(_ context.Context, sess *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.sessions[sess.ID] = *sess
	return nil
}

// CodeInUse implements sessions.Store.
func (s *Store) CodeInUse(_ context.Context, code string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sess := range s.sessions {
		if sess.Code == code && sess.IsActive() {
			return true, nil
		}
	}
	return false, nil
}

// GetSession returns a session by id.
func (s *Store) GetSession(_ context.Context, id uuid.UUID) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, apperr.ErrSessionNotFound
	}
	return &sess, nil
}

// DeleteSession implements sessions.Store. Participants go with the session.
func (s *Store) DeleteSession(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	for k := range s.participants {
		if k.session == id {
			delete(s.participants, k)
		}
	}
	return nil
}

// EndSession implements sessions.Store.
func (s *Store) EndSession(_ context.Context, id uuid.UUID, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	sess, ok := s.sessions[id]
	if !ok {
		return errNotFound
	}
	sess.Status = models.SessionEnded
	sess.EndedAt = &endedAt
	s.sessions[id] = sess
	return nil
}

// ListActiveSessions implements sessions.Store.
func (s *Store) ListActiveSessions(_ context.Context) ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []models.Session
	for _, sess := range s.sessions {
		if sess.IsActive() {
			list = append(list, sess)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

// ListSessionsByOwner implements sessions.Store.
func (s *Store) ListSessionsByOwner(_ context.Context, ownerID uuid.UUID, limit int) ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []models.Session
	for _, sess := range s.sessions {
		if sess.OwnerID == ownerID {
			list = append(list, sess)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// UpsertParticipant implements sessions.Store.
func (s *Store) UpsertParticipant(_ context.Context, p *models.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.participants[participantKey{p.SessionID, p.UserID}] = *p
	return nil
}

// ListParticipants implements sessions.Store.
func (s *Store) ListParticipants(_ context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []models.Participant
	for k, p := range s.participants {
		if k.session == sessionID {
			list = append(list, p)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].JoinedAt.Before(list[j].JoinedAt) })
	return list, nil
}

// TouchParticipant implements sessions.Store.
func (s *Store) TouchParticipant(_ context.Context, sessionID, userID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := participantKey{sessionID, userID}
	p, ok := s.participants[k]
	if !ok {
		return nil
	}
	p.LastSeen = at
	s.participants[k] = p
	return nil
}

// Participant returns one stored membership record.
func (s *Store) Participant(sessionID, userID uuid.UUID) (models.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[participantKey{sessionID, userID}]
	return p, ok
}

// CreatePoll implements polls.Store.
func (s *Store) CreatePoll(_ context.Context, p *models.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	for _, existing := range s.polls {
		if existing.SessionID == p.SessionID && existing.Status == models.PollOpen {
			return errors.New("memstore: session already has an open poll")
		}
	}
	cp := *p
	cp.Options = append([]models.PollOption(nil), p.Options...)
	s.polls[p.ID] = cp
	return nil
}

// RecordVote implements polls.Store.
func (s *Store) RecordVote(_ context.Context, v *models.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.votes[voteKey{v.PollID, v.UserID}] = *v
	return nil
}

// ClosePoll implements polls.Store.
func (s *Store) ClosePoll(_ context.Context, pollID uuid.UUID, closedAt time.Time, results []models.OptionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	p, ok := s.polls[pollID]
	if !ok {
		return errNotFound
	}
	p.Status = models.PollClosed
	p.ClosedAt = &closedAt
	p.Results = append([]models.OptionResult(nil), results...)
	s.polls[pollID] = p
	return nil
}

// ListOpenPolls implements polls.Store.
func (s *Store) ListOpenPolls(_ context.Context) ([]models.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []models.Poll
	for _, p := range s.polls {
		if p.Status == models.PollOpen {
			list = append(list, p)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

// ListVotes implements polls.Store.
func (s *Store) ListVotes(_ context.Context, pollID uuid.UUID) ([]models.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []models.Vote
	for k, v := range s.votes {
		if k.poll == pollID {
			list = append(list, v)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].VotedAt.Before(list[j].VotedAt) })
	return list, nil
}

// ListClosedBySession implements polls.Store.
func (s *Store) ListClosedBySession(_ context.Context, sessionID uuid.UUID, limit int) ([]models.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []models.Poll
	for _, p := range s.polls {
		if p.SessionID == sessionID && p.Status == models.PollClosed {
			list = append(list, p)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// CreateMessage implements chat.Store.
func (s *Store) CreateMessage(_ context.Context, m *models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.messages[m.ID] = *m
	return nil
}

// GetMessage implements chat.Store.
func (s *Store) GetMessage(_ context.Context, id uuid.UUID) (*models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, apperr.ErrMessageNotFound
	}
	return &m, nil
}

// DeleteMessage implements chat.Store.
func (s *Store) DeleteMessage(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	delete(s.messages, id)
	return nil
}

// ListMessages implements chat.Store.
func (s *Store) ListMessages(_ context.Context, sessionID uuid.UUID, before *time.Time, limit int) ([]models.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []models.ChatMessage
	for _, m := range s.messages {
		if m.SessionID != sessionID {
			continue
		}
		if before != nil && !m.CreatedAt.Before(*before) {
			continue
		}
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list, nil
}

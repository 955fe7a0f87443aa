package sessions

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-livepoll/backend/internal/apperr"
	"github.com/aura-livepoll/backend/internal/events"
	"github.com/aura-livepoll/backend/internal/models"
)

// Store is the durable persistence the manager writes through.
type Store interface {
	CreateSession(ctx context.Context, s *models.Session) error
	CodeInUse(ctx context.Context, code string) (bool, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
	EndSession(ctx context.Context, id uuid.UUID, endedAt time.Time) error
	ListActiveSessions(ctx context.Context) ([]models.Session, error)
	ListSessionsByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]models.Session, error)
	UpsertParticipant(ctx context.Context, p *models.Participant) error
	ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error)
	TouchParticipant(ctx context.Context, sessionID, userID uuid.UUID, at time.Time) error
}

// PollCloser closes a session's open poll while the caller holds the room lock.
// The poll engine implements it; EndSession uses it.
type PollCloser interface {
	CloseOpenPoll(ctx context.Context, r *Room, reason string) ([]events.Notification, error)
}

// Archiver schedules archival of an ended session.
type Archiver interface {
	EnqueueSessionArchive(ctx context.Context, sessionID uuid.UUID) error
}

// Options tune the manager. Zero values fall back to defaults.
type Options struct {
	KickCooldown           time.Duration
	CodeLength             int
	CodeRetries            int
	DefaultMaxParticipants int
	Now                    func() time.Time
	NewCode                func() string
}

// Manager owns session lifecycle and membership, and the per-session exclusion
// shared with the poll engine and chat relay.
type Manager struct {
	store  Store
	logger *zap.Logger
	opts   Options

	mu      sync.RWMutex
	rooms   map[uuid.UUID]*Room
	codes   map[string]uuid.UUID // active code -> session id
	members map[uuid.UUID]uuid.UUID

	sink     events.Sink
	closer   PollCloser
	archiver Archiver
}

// NewManager creates a session manager.
func NewManager(store Store, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.KickCooldown <= 0 {
		opts.KickCooldown = 5 * time.Minute
	}
	if opts.CodeLength <= 0 {
		opts.CodeLength = 6
	}
	if opts.CodeRetries <= 0 {
		opts.CodeRetries = 10
	}
	if opts.DefaultMaxParticipants <= 0 {
		opts.DefaultMaxParticipants = 100
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewCode == nil {
		n := opts.CodeLength
		opts.NewCode = func() string { return RandomCode(n) }
	}
	return &Manager{
		store:   store,
		logger:  logger,
		opts:    opts,
		rooms:   make(map[uuid.UUID]*Room),
		codes:   make(map[string]uuid.UUID),
		members: make(map[uuid.UUID]uuid.UUID),
	}
}

// SetSink sets where queued notifications are delivered.
func (m *Manager) SetSink(s events.Sink) { m.sink = s }

// SetPollCloser registers the poll engine for EndSession.
func (m *Manager) SetPollCloser(c PollCloser) { m.closer = c }

// SetArchiver registers the archive job producer.
func (m *Manager) SetArchiver(a Archiver) { m.archiver = a }

// KickCooldown returns the configured rejoin cooldown.
func (m *Manager) KickCooldown() time.Duration { return m.opts.KickCooldown }

// Now returns the manager clock.
func (m *Manager) Now() time.Time { return m.opts.Now() }

// Exec runs fn under the session's exclusion. Notifications returned by a successful fn
// are queued in decision order and delivered after the lock is released.
func (m *Manager) Exec(ctx context.Context, sessionID uuid.UUID, fn func(r *Room) ([]events.Notification, error)) ([]events.Notification, error) {
	r := m.room(sessionID)
	if r == nil {
		return nil, apperr.ErrSessionNotFound
	}
	r.mu.Lock()
	if !r.session.IsActive() {
		r.mu.Unlock()
		return nil, apperr.ErrSessionEnded
	}
	notes, err := fn(r)
	if err == nil {
		r.enqueue(notes)
	}
	r.mu.Unlock()
	m.flush(ctx, r)
	return notes, err
}

// View runs fn under the session's exclusion without producing notifications.
func (m *Manager) View(sessionID uuid.UUID, fn func(r *Room) error) error {
	r := m.room(sessionID)
	if r == nil {
		return apperr.ErrSessionNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r)
}

func (m *Manager) flush(ctx context.Context, r *Room) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()
	r.mu.Lock()
	batch := r.outbox
	r.outbox = nil
	r.mu.Unlock()
	if len(batch) == 0 || m.sink == nil {
		return
	}
	m.sink.Deliver(context.WithoutCancel(ctx), r.session.ID, batch)
}

func (m *Manager) room(id uuid.UUID) *Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[id]
}

// SessionOf returns the session the identity is currently an active member of.
func (m *Manager) SessionOf(userID uuid.UUID) (uuid.UUID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.members[userID]
	return id, ok
}

// setMember points userID at sessionID and returns the previous session, if different.
func (m *Manager) setMember(userID, sessionID uuid.UUID) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.members[userID]
	m.members[userID] = sessionID
	if prev == sessionID {
		return uuid.Nil
	}
	return prev
}

// clearMember removes userID's membership if it still points at sessionID.
func (m *Manager) clearMember(userID, sessionID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[userID] == sessionID {
		delete(m.members, userID)
	}
}

// CreateSession creates an ACTIVE session owned by the teacher and registers the owner
// as its first participant.
func (m *Manager) CreateSession(ctx context.Context, owner models.Identity, name string, cfg models.SessionConfig) (*models.Session, error) {
	if owner.Role != models.RoleTeacher {
		return nil, apperr.Forbidden("only teachers can create sessions")
	}
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 100 {
		return nil, apperr.Invalid("session name must be 1-100 characters")
	}
	if cfg.MaxParticipants <= 0 {
		cfg.MaxParticipants = m.opts.DefaultMaxParticipants
	}

	now := m.opts.Now()
	s := models.Session{
		ID:        uuid.New(),
		Name:      name,
		OwnerID:   owner.UserID,
		Config:    cfg,
		Status:    models.SessionActive,
		CreatedAt: now,
	}
	code, err := m.reserveCode(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	s.Code = code
	if err := m.store.CreateSession(ctx, &s); err != nil {
		m.releaseCode(code, s.ID)
		return nil, apperr.Unexpected(err)
	}
	owner.Name = strings.TrimSpace(owner.Name)
	p := &models.Participant{
		SessionID: s.ID,
		UserID:    owner.UserID,
		Name:      owner.Name,
		Role:      models.RoleTeacher,
		Status:    models.MemberActive,
		JoinedAt:  now,
		LastSeen:  now,
	}
	if err := m.store.UpsertParticipant(ctx, p); err != nil {
		// An ACTIVE row without its teacher would come back on Restore.
		if delErr := m.store.DeleteSession(ctx, s.ID); delErr != nil {
			m.logger.Error("delete half-created session", zap.String("session_id", s.ID.String()), zap.Error(delErr))
		}
		m.releaseCode(code, s.ID)
		return nil, apperr.Unexpected(err)
	}

	r := newRoom(s)
	r.participants[p.UserID] = p
	m.mu.Lock()
	m.rooms[s.ID] = r
	m.mu.Unlock()

	if prev := m.setMember(owner.UserID, s.ID); prev != uuid.Nil {
		m.evict(ctx, prev, owner.UserID)
	}
	m.logger.Info("session created", zap.String("session_id", s.ID.String()), zap.String("code", s.Code), zap.String("owner_id", owner.UserID.String()))
	return &s, nil
}

// reserveCode picks a code distinct from every ACTIVE session's code.
func (m *Manager) reserveCode(ctx context.Context, sessionID uuid.UUID) (string, error) {
	for attempt := 0; attempt < m.opts.CodeRetries; attempt++ {
		code := NormalizeCode(m.opts.NewCode())
		m.mu.Lock()
		_, taken := m.codes[code]
		if !taken {
			m.codes[code] = sessionID
		}
		m.mu.Unlock()
		if taken {
			continue
		}
		inUse, err := m.store.CodeInUse(ctx, code)
		if err != nil {
			m.releaseCode(code, sessionID)
			return "", apperr.Unexpected(err)
		}
		if inUse {
			m.releaseCode(code, sessionID)
			continue
		}
		return code, nil
	}
	m.logger.Error("join code retries exhausted", zap.Int("retries", m.opts.CodeRetries))
	return "", apperr.ErrDuplicateCode
}

func (m *Manager) releaseCode(code string, sessionID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes[code] == sessionID {
		delete(m.codes, code)
	}
}

// Join adds the identity to the ACTIVE session with the given code, or reactivates it.
// Joining while active elsewhere leaves the other session.
func (m *Manager) Join(ctx context.Context, id models.Identity, code string) (*models.Participant, error) {
	code = NormalizeCode(code)
	m.mu.RLock()
	sessionID, ok := m.codes[code]
	m.mu.RUnlock()
	if !ok {
		return nil, apperr.ErrSessionNotFound
	}

	var joined models.Participant
	var displaced uuid.UUID
	_, err := m.Exec(ctx, sessionID, func(r *Room) ([]events.Notification, error) {
		now := m.opts.Now()
		existing, found := r.participants[id.UserID]
		if found && existing.IsActive() {
			joined = *existing
			displaced = m.setMember(id.UserID, sessionID)
			return nil, nil
		}
		if id.Role == models.RoleTeacher && !r.IsTeacher(id.UserID) {
			return nil, apperr.Forbidden("teachers can only join their own sessions")
		}
		if found && existing.Status == models.MemberKicked && !existing.CanRejoin(now, m.opts.KickCooldown) {
			wait := existing.RetryAfter(now, m.opts.KickCooldown)
			return nil, apperr.ErrKickedCooldown.WithDetail("retryAfterSeconds", int((wait+time.Second-1)/time.Second))
		}
		if len(r.ActiveIDs()) >= r.session.Config.MaxParticipants {
			return nil, apperr.ErrRoomFull
		}

		p := models.Participant{
			SessionID: sessionID,
			UserID:    id.UserID,
			Name:      strings.TrimSpace(id.Name),
			Role:      id.Role,
			Status:    models.MemberActive,
			JoinedAt:  now,
			LastSeen:  now,
		}
		if r.IsTeacher(id.UserID) {
			p.Role = models.RoleTeacher
		}
		if err := m.store.UpsertParticipant(ctx, &p); err != nil {
			return nil, apperr.Unexpected(err)
		}
		r.participants[p.UserID] = &p
		joined = p
		displaced = m.setMember(id.UserID, sessionID)
		return []events.Notification{r.participantsUpdate(r.ActiveIDs())}, nil
	})
	if err != nil {
		if errors.Is(err, apperr.ErrSessionEnded) {
			return nil, apperr.ErrSessionNotFound
		}
		return nil, err
	}
	if displaced != uuid.Nil {
		m.evict(ctx, displaced, id.UserID)
	}
	m.logger.Info("participant joined", zap.String("session_id", sessionID.String()), zap.String("user_id", id.UserID.String()), zap.String("role", string(joined.Role)))
	return &joined, nil
}

// evict removes userID from a session it was implicitly displaced from.
func (m *Manager) evict(ctx context.Context, sessionID, userID uuid.UUID) {
	_, err := m.Exec(ctx, sessionID, func(r *Room) ([]events.Notification, error) {
		if cur, ok := m.SessionOf(userID); ok && cur == sessionID {
			return nil, nil
		}
		return m.markLeft(ctx, r, userID)
	})
	if err != nil && apperr.KindOf(err) == apperr.KindUnexpected {
		m.logger.Error("evict from previous session", zap.String("session_id", sessionID.String()), zap.String("user_id", userID.String()), zap.Error(err))
	}
}

func (m *Manager) markLeft(ctx context.Context, r *Room, userID uuid.UUID) ([]events.Notification, error) {
	p, ok := r.participants[userID]
	if !ok || !p.IsActive() {
		return nil, nil
	}
	left := *p
	left.Status = models.MemberLeft
	left.LastSeen = m.opts.Now()
	if err := m.store.UpsertParticipant(ctx, &left); err != nil {
		return nil, apperr.Unexpected(err)
	}
	*p = left
	return []events.Notification{r.participantsUpdate(r.ActiveIDs())}, nil
}

// Leave ends the identity's current membership. Vote and chat history stay attributed.
func (m *Manager) Leave(ctx context.Context, userID uuid.UUID) error {
	sessionID, ok := m.SessionOf(userID)
	if !ok {
		return apperr.ErrNotAParticipant
	}
	_, err := m.Exec(ctx, sessionID, func(r *Room) ([]events.Notification, error) {
		notes, err := m.markLeft(ctx, r, userID)
		if err != nil {
			return nil, err
		}
		m.clearMember(userID, sessionID)
		return notes, nil
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			m.clearMember(userID, sessionID)
		}
		return err
	}
	m.logger.Info("participant left", zap.String("session_id", sessionID.String()), zap.String("user_id", userID.String()))
	return nil
}

// Kick removes an ACTIVE student from the actor's session and starts the rejoin cooldown.
func (m *Manager) Kick(ctx context.Context, actor models.Identity, targetID uuid.UUID) error {
	sessionID, ok := m.SessionOf(actor.UserID)
	if !ok {
		return apperr.ErrForbidden
	}
	_, err := m.Exec(ctx, sessionID, func(r *Room) ([]events.Notification, error) {
		if !r.IsTeacher(actor.UserID) {
			return nil, apperr.Forbidden("only the session teacher can remove participants")
		}
		if r.IsTeacher(targetID) {
			return nil, apperr.Forbidden("the session teacher cannot be removed")
		}
		p, ok := r.participants[targetID]
		if !ok || !p.IsActive() {
			return nil, apperr.ErrNotAParticipant
		}
		now := m.opts.Now()
		kicked := *p
		kicked.Status = models.MemberKicked
		kicked.KickedAt = &now
		if err := m.store.UpsertParticipant(ctx, &kicked); err != nil {
			return nil, apperr.Unexpected(err)
		}
		*p = kicked
		m.clearMember(targetID, sessionID)

		return []events.Notification{
			events.To(events.UserKicked, map[string]interface{}{"userId": targetID, "sessionId": sessionID}, targetID),
			events.To(events.KickedOut, map[string]interface{}{
				"sessionId":         sessionID,
				"reason":            "removed by teacher",
				"retryAfterSeconds": int(m.opts.KickCooldown / time.Second),
			}, targetID),
			r.participantsUpdate(r.ActiveIDs()),
		}, nil
	})
	if err != nil {
		return err
	}
	m.logger.Info("participant kicked", zap.String("session_id", sessionID.String()), zap.String("user_id", targetID.String()), zap.String("actor_id", actor.UserID.String()))
	return nil
}

// EndSession ends the session, closing its open poll first. Further joins fail with SessionNotFound.
func (m *Manager) EndSession(ctx context.Context, actor models.Identity, sessionID uuid.UUID) error {
	r := m.room(sessionID)
	if r == nil {
		return apperr.ErrSessionNotFound
	}
	r.mu.Lock()
	if !r.session.IsActive() {
		r.mu.Unlock()
		return apperr.ErrSessionEnded
	}
	if !r.IsTeacher(actor.UserID) {
		r.mu.Unlock()
		return apperr.Forbidden("only the session teacher can end the session")
	}
	var notes []events.Notification
	if m.closer != nil {
		closed, err := m.closer.CloseOpenPoll(ctx, r, "session_ended")
		if err != nil {
			r.mu.Unlock()
			return err
		}
		notes = append(notes, closed...)
	}
	now := m.opts.Now()
	if err := m.store.EndSession(ctx, sessionID, now); err != nil {
		r.mu.Unlock()
		return apperr.Unexpected(err)
	}
	r.session.Status = models.SessionEnded
	r.session.EndedAt = &now
	members := r.ActiveIDs()
	notes = append(notes, events.To(events.SessionEnded, map[string]interface{}{"sessionId": sessionID}, members...))
	r.enqueue(notes)

	m.mu.Lock()
	delete(m.codes, r.session.Code)
	delete(m.rooms, sessionID)
	for _, uid := range members {
		if m.members[uid] == sessionID {
			delete(m.members, uid)
		}
	}
	m.mu.Unlock()
	r.mu.Unlock()
	m.flush(ctx, r)

	m.logger.Info("session ended", zap.String("session_id", sessionID.String()))
	if m.archiver != nil {
		if err := m.archiver.EnqueueSessionArchive(ctx, sessionID); err != nil {
			m.logger.Error("enqueue session archive", zap.String("session_id", sessionID.String()), zap.Error(err))
		}
	}
	return nil
}

// CurrentView is the caller's membership snapshot, used for reconnect resync.
type CurrentView struct {
	Session      models.Session       `json:"session"`
	Participant  models.Participant   `json:"participant"`
	Participants []models.Participant `json:"participants"`
}

// Current returns the identity's active session and roster.
func (m *Manager) Current(userID uuid.UUID) (*CurrentView, error) {
	sessionID, ok := m.SessionOf(userID)
	if !ok {
		return nil, apperr.ErrSessionNotFound
	}
	var v CurrentView
	err := m.View(sessionID, func(r *Room) error {
		p, ok := r.Participant(userID)
		if !ok || !p.IsActive() {
			return apperr.ErrNotAParticipant
		}
		v = CurrentView{Session: r.Session(), Participant: p, Participants: r.Active()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// Participants lists the ACTIVE participants of a session the actor belongs to.
func (m *Manager) Participants(actorID, sessionID uuid.UUID) ([]models.Participant, error) {
	var list []models.Participant
	err := m.View(sessionID, func(r *Room) error {
		if !r.IsTeacher(actorID) && !r.IsActiveMember(actorID) {
			return apperr.ErrNotAParticipant
		}
		list = r.Active()
		return nil
	})
	return list, err
}

// Authorize checks that userID may read a session's polls and chat. A live session needs
// its teacher or an ACTIVE member; an ended one is checked against the stored records,
// where any participant that was not kicked keeps read access.
func (m *Manager) Authorize(ctx context.Context, userID, sessionID uuid.UUID) error {
	err := m.View(sessionID, func(r *Room) error {
		if !r.IsTeacher(userID) && !r.IsActiveMember(userID) {
			return apperr.ErrNotAParticipant
		}
		return nil
	})
	if !errors.Is(err, apperr.ErrSessionNotFound) {
		return err
	}
	s, err := m.store.GetSession(ctx, sessionID)
	if errors.Is(err, apperr.ErrSessionNotFound) {
		return err
	}
	if err != nil {
		return apperr.Unexpected(err)
	}
	if s.OwnerID == userID {
		return nil
	}
	parts, err := m.store.ListParticipants(ctx, sessionID)
	if err != nil {
		return apperr.Unexpected(err)
	}
	for _, p := range parts {
		if p.UserID == userID && p.Status != models.MemberKicked {
			return nil
		}
	}
	return apperr.ErrNotAParticipant
}

// Stats summarizes the actor's session. connected reports whether a user has a live connection.
func (m *Manager) Stats(actorID, sessionID uuid.UUID, connected func(uuid.UUID) bool) (*models.SessionStats, error) {
	var st models.SessionStats
	err := m.View(sessionID, func(r *Room) error {
		if !r.IsTeacher(actorID) {
			return apperr.Forbidden("only the session teacher can view stats")
		}
		st.SessionID = sessionID
		st.PollsAsked = r.PollsAsked()
		for _, p := range r.participants {
			if p.Role != models.RoleStudent {
				continue
			}
			switch p.Status {
			case models.MemberActive:
				st.ActiveStudents++
			case models.MemberKicked:
				st.KickedStudents++
			}
		}
		if connected != nil {
			for _, uid := range r.ActiveIDs() {
				if connected(uid) {
					st.ConnectedUsers++
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ActiveMembers returns the ACTIVE participant ids of a live session.
func (m *Manager) ActiveMembers(sessionID uuid.UUID) []uuid.UUID {
	var ids []uuid.UUID
	_ = m.View(sessionID, func(r *Room) error {
		ids = r.ActiveIDs()
		return nil
	})
	return ids
}

// History lists the owner's sessions, newest first.
func (m *Manager) History(ctx context.Context, ownerID uuid.UUID, limit int) ([]models.Session, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	list, err := m.store.ListSessionsByOwner(ctx, ownerID, limit)
	if err != nil {
		return nil, apperr.Unexpected(err)
	}
	return list, nil
}

// Touch records last-seen for a user whose final connection closed. Membership is unchanged.
func (m *Manager) Touch(ctx context.Context, userID uuid.UUID) {
	sessionID, ok := m.SessionOf(userID)
	if !ok {
		return
	}
	now := m.opts.Now()
	err := m.View(sessionID, func(r *Room) error {
		if p, ok := r.participants[userID]; ok {
			p.LastSeen = now
		}
		return nil
	})
	if err != nil {
		return
	}
	if err := m.store.TouchParticipant(ctx, sessionID, userID, now); err != nil {
		m.logger.Warn("touch participant", zap.String("user_id", userID.String()), zap.Error(err))
	}
}

// Restore loads ACTIVE sessions and their participants from the store.
func (m *Manager) Restore(ctx context.Context) error {
	sessions, err := m.store.ListActiveSessions(ctx)
	if err != nil {
		return apperr.Unexpected(err)
	}
	latest := make(map[uuid.UUID]time.Time)
	for _, s := range sessions {
		parts, err := m.store.ListParticipants(ctx, s.ID)
		if err != nil {
			return apperr.Unexpected(err)
		}
		r := newRoom(s)
		m.mu.Lock()
		for i := range parts {
			p := parts[i]
			r.participants[p.UserID] = &p
			if p.IsActive() && p.JoinedAt.After(latest[p.UserID]) {
				latest[p.UserID] = p.JoinedAt
				m.members[p.UserID] = s.ID
			}
		}
		m.rooms[s.ID] = r
		m.codes[s.Code] = s.ID
		m.mu.Unlock()
	}
	m.logger.Info("sessions restored", zap.Int("count", len(sessions)))
	return nil
}

package sessions

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/aura-livepoll/backend/internal/events"
	"github.com/aura-livepoll/backend/internal/models"
)

// Room is the in-memory aggregate of one session. All mutation happens while mu is held,
// which Manager.Exec does for callers. Methods below assume the lock is held.
type Room struct {
	mu           sync.Mutex
	session      models.Session
	participants map[uuid.UUID]*models.Participant
	currentPoll  *uuid.UUID
	pollsAsked   int

	seq    uint64
	outbox []events.Notification
	// flushMu keeps outbox batches leaving in the order they were queued.
	flushMu sync.Mutex
}

func newRoom(s models.Session) *Room {
	return &Room{session: s, participants: make(map[uuid.UUID]*models.Participant)}
}

// ID returns the session id.
func (r *Room) ID() uuid.UUID { return r.session.ID }

// Session returns a copy of the session record.
func (r *Room) Session() models.Session { return r.session }

// IsTeacher reports whether userID owns the session.
func (r *Room) IsTeacher(userID uuid.UUID) bool { return r.session.OwnerID == userID }

// Participant returns a copy of the participant record for userID.
func (r *Room) Participant(userID uuid.UUID) (models.Participant, bool) {
	p, ok := r.participants[userID]
	if !ok {
		return models.Participant{}, false
	}
	return *p, true
}

// IsActiveStudent reports whether userID is an ACTIVE student of the session.
func (r *Room) IsActiveStudent(userID uuid.UUID) bool {
	p, ok := r.participants[userID]
	return ok && p.IsActive() && p.Role == models.RoleStudent
}

// IsActiveMember reports whether userID is an ACTIVE participant of any role.
func (r *Room) IsActiveMember(userID uuid.UUID) bool {
	p, ok := r.participants[userID]
	return ok && p.IsActive()
}

// Active returns the ACTIVE participants ordered by join time.
func (r *Room) Active() []models.Participant {
	out := make([]models.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		if p.IsActive() {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].UserID.String() < out[j].UserID.String()
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// ActiveIDs returns the ids of all ACTIVE participants.
func (r *Room) ActiveIDs() []uuid.UUID {
	return r.activeIDs(func(*models.Participant) bool { return true })
}

// ActiveStudentIDs returns the ids of ACTIVE students.
func (r *Room) ActiveStudentIDs() []uuid.UUID {
	return r.activeIDs(func(p *models.Participant) bool { return p.Role == models.RoleStudent })
}

// TeacherIDs returns the ids of ACTIVE teachers.
func (r *Room) TeacherIDs() []uuid.UUID {
	return r.activeIDs(func(p *models.Participant) bool { return p.Role == models.RoleTeacher })
}

func (r *Room) activeIDs(keep func(*models.Participant) bool) []uuid.UUID {
	var ids []uuid.UUID
	for _, p := range r.Active() {
		p := p
		if keep(&p) {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

// CurrentPoll returns the open poll id, if any.
func (r *Room) CurrentPoll() (uuid.UUID, bool) {
	if r.currentPoll == nil {
		return uuid.Nil, false
	}
	return *r.currentPoll, true
}

// SetCurrentPoll replaces the open poll pointer. Only the poll engine calls this.
func (r *Room) SetCurrentPoll(id *uuid.UUID) {
	if id != nil {
		cp := *id
		r.currentPoll = &cp
		r.pollsAsked++
		return
	}
	r.currentPoll = nil
}

// PollsAsked returns how many polls were opened in this process for the session.
func (r *Room) PollsAsked() int { return r.pollsAsked }

func (r *Room) enqueue(notes []events.Notification) {
	for _, n := range notes {
		if len(n.Recipients) == 0 {
			continue
		}
		r.seq++
		n.Seq = r.seq
		r.outbox = append(r.outbox, n)
	}
}

func (r *Room) participantsUpdate(recipients []uuid.UUID) events.Notification {
	return events.To(events.ParticipantsUpdate, map[string]interface{}{
		"sessionId":    r.session.ID,
		"participants": r.Active(),
	}, recipients...)
}

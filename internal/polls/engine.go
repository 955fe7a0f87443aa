package polls

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-livepoll/backend/internal/apperr"
	"github.com/aura-livepoll/backend/internal/events"
	"github.com/aura-livepoll/backend/internal/metrics"
	"github.com/aura-livepoll/backend/internal/models"
	"github.com/aura-livepoll/backend/internal/sessions"
)

// Close reasons.
const (
	ReasonEnded        = "ended"
	ReasonTimeout      = "timeout"
	ReasonAllVoted     = "all_voted"
	ReasonSessionEnded = "session_ended"
)

// RevotePolicy decides what a repeat vote on an open poll does.
type RevotePolicy string

const (
	RevoteOverwrite RevotePolicy = "overwrite"
	RevoteReject    RevotePolicy = "reject"
)

// Store persists polls and votes.
type Store interface {
	CreatePoll(ctx context.Context, p *models.Poll) error
	RecordVote(ctx context.Context, v *models.Vote) error
	ClosePoll(ctx context.Context, pollID uuid.UUID, closedAt time.Time, results []models.OptionResult) error
	ListOpenPolls(ctx context.Context) ([]models.Poll, error)
	ListVotes(ctx context.Context, pollID uuid.UUID) ([]models.Vote, error)
	ListClosedBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.Poll, error)
}

// Sessions is the part of the session manager the engine needs.
type Sessions interface {
	Exec(ctx context.Context, sessionID uuid.UUID, fn func(r *sessions.Room) ([]events.Notification, error)) ([]events.Notification, error)
	View(sessionID uuid.UUID, fn func(r *sessions.Room) error) error
	Authorize(ctx context.Context, userID, sessionID uuid.UUID) error
}

// Timer is a pending auto-end.
type Timer interface {
	Stop() bool
}

// Options tune the engine.
type Options struct {
	DefaultDuration int // seconds
	MaxDuration     int // seconds
	MaxOptions      int
	RevotePolicy    RevotePolicy
	Now             func() time.Time
	AfterFunc       func(d time.Duration, f func()) Timer
}

type openPoll struct {
	poll   models.Poll
	votes  map[uuid.UUID]int
	timer  Timer
	closed bool
}

// Engine owns polls and votes. Every state change runs under the session's exclusion.
type Engine struct {
	sessions Sessions
	store    Store
	logger   *zap.Logger
	opts     Options

	mu   sync.RWMutex
	open map[uuid.UUID]*openPoll
}

// NewEngine creates a poll engine.
func NewEngine(s Sessions, store Store, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = 30
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 600
	}
	if opts.MaxOptions <= 0 {
		opts.MaxOptions = 10
	}
	if opts.RevotePolicy == "" {
		opts.RevotePolicy = RevoteOverwrite
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	return &Engine{sessions: s, store: store, logger: logger, opts: opts, open: make(map[uuid.UUID]*openPoll)}
}

func (e *Engine) lookup(pollID uuid.UUID) *openPoll {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.open[pollID]
}

// CreatePoll opens a poll in the actor's session and schedules its auto-end.
// A second poll while one is open fails with PollAlreadyOpen.
func (e *Engine) CreatePoll(ctx context.Context, actor models.Identity, sessionID uuid.UUID, question string, options []string, duration int) (*models.Poll, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperr.Invalid("question is required")
	}
	if len(options) < 2 {
		return nil, apperr.ErrInvalidOptions
	}
	if len(options) > e.opts.MaxOptions {
		return nil, apperr.ErrInvalidOptions.WithDetail("maxOptions", e.opts.MaxOptions)
	}
	opts := make([]models.PollOption, len(options))
	for i, text := range options {
		text = strings.TrimSpace(text)
		if text == "" {
			return nil, apperr.ErrInvalidOptions
		}
		opts[i] = models.PollOption{Index: i, Text: text}
	}
	if duration <= 0 {
		duration = e.opts.DefaultDuration
	}
	if duration > e.opts.MaxDuration {
		duration = e.opts.MaxDuration
	}

	var created models.Poll
	_, err := e.sessions.Exec(ctx, sessionID, func(r *sessions.Room) ([]events.Notification, error) {
		if !r.IsTeacher(actor.UserID) {
			return nil, apperr.Forbidden("only the session teacher can create polls")
		}
		if _, open := r.CurrentPoll(); open {
			return nil, apperr.ErrPollAlreadyOpen
		}
		p := models.Poll{
			ID:        uuid.New(),
			SessionID: sessionID,
			Question:  question,
			Options:   opts,
			Duration:  duration,
			Status:    models.PollOpen,
			CreatedAt: e.opts.Now(),
		}
		if err := e.store.CreatePoll(ctx, &p); err != nil {
			return nil, apperr.Unexpected(err)
		}
		op := &openPoll{poll: p, votes: make(map[uuid.UUID]int)}
		e.track(r, op)
		created = p

		view := e.view(op, uuid.Nil)
		return []events.Notification{
			events.To(events.NewPoll, view, r.ActiveStudentIDs()...),
			events.To(events.PollStarted, view, r.TeacherIDs()...),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("poll created", zap.String("session_id", sessionID.String()), zap.String("poll_id", created.ID.String()), zap.Int("duration", created.Duration))
	return &created, nil
}

// track registers op as the room's open poll and schedules the auto-end. Room lock held.
func (e *Engine) track(r *sessions.Room, op *openPoll) {
	id := op.poll.ID
	sessionID := op.poll.SessionID
	r.SetCurrentPoll(&id)
	e.mu.Lock()
	e.open[id] = op
	e.mu.Unlock()
	wait := op.poll.Deadline().Sub(e.opts.Now())
	op.timer = e.opts.AfterFunc(wait, func() { e.autoEnd(sessionID, id) })
}

func (e *Engine) autoEnd(sessionID, pollID uuid.UUID) {
	ctx := context.Background()
	_, err := e.sessions.Exec(ctx, sessionID, func(r *sessions.Room) ([]events.Notification, error) {
		op := e.lookup(pollID)
		if op == nil || op.closed {
			return nil, nil
		}
		return e.close(ctx, r, op, ReasonTimeout)
	})
	if err != nil && apperr.KindOf(err) == apperr.KindUnexpected {
		e.logger.Error("auto-end poll", zap.String("poll_id", pollID.String()), zap.Error(err))
	}
}

// close performs the single OPEN -> CLOSED transition. Room lock held.
func (e *Engine) close(ctx context.Context, r *sessions.Room, op *openPoll, reason string) ([]events.Notification, error) {
	if op.closed {
		return nil, nil
	}
	now := e.opts.Now()
	results := e.results(r, op, !r.Session().Config.AllowAnonymousVoting)
	if err := e.store.ClosePoll(ctx, op.poll.ID, now, results); err != nil {
		return nil, apperr.Unexpected(err)
	}
	if op.timer != nil {
		op.timer.Stop()
	}
	op.closed = true
	op.poll.Status = models.PollClosed
	op.poll.ClosedAt = &now
	op.poll.Results = results
	if cur, ok := r.CurrentPoll(); ok && cur == op.poll.ID {
		r.SetCurrentPoll(nil)
	}
	e.mu.Lock()
	delete(e.open, op.poll.ID)
	e.mu.Unlock()
	metrics.PollsClosed.WithLabelValues(reason).Inc()
	e.logger.Info("poll closed", zap.String("session_id", op.poll.SessionID.String()), zap.String("poll_id", op.poll.ID.String()), zap.String("reason", reason))

	payload := map[string]interface{}{
		"pollId":     op.poll.ID,
		"question":   op.poll.Question,
		"results":    results,
		"tally":      tally(results),
		"totalVotes": len(op.votes),
		"reason":     reason,
	}
	return []events.Notification{events.To(events.PollEnded, payload, r.ActiveIDs()...)}, nil
}

// Vote records the identity's choice on an open poll.
func (e *Engine) Vote(ctx context.Context, voter models.Identity, pollID uuid.UUID, ref models.OptionRef) (*PollView, error) {
	op := e.lookup(pollID)
	if op == nil {
		return nil, apperr.ErrPollNotFound
	}
	var confirmed PollView
	_, err := e.sessions.Exec(ctx, op.poll.SessionID, func(r *sessions.Room) ([]events.Notification, error) {
		if cur, ok := r.CurrentPoll(); op.closed || !ok || cur != pollID {
			return nil, apperr.ErrPollNotFound
		}
		if !r.IsActiveStudent(voter.UserID) {
			return nil, apperr.ErrNotAParticipant
		}
		idx := ref.Resolve(op.poll.Options)
		if idx < 0 {
			return nil, apperr.ErrInvalidOption
		}
		if _, voted := op.votes[voter.UserID]; voted && e.opts.RevotePolicy == RevoteReject {
			return nil, apperr.ErrAlreadyVoted
		}
		v := models.Vote{PollID: pollID, UserID: voter.UserID, OptionIndex: idx, VotedAt: e.opts.Now()}
		if err := e.store.RecordVote(ctx, &v); err != nil {
			return nil, apperr.Unexpected(err)
		}
		op.votes[voter.UserID] = idx

		cfg := r.Session().Config
		teacherView := e.view(op, uuid.Nil)
		teacherView.Results = e.results(r, op, !cfg.AllowAnonymousVoting)
		teacherView.Tally = tally(teacherView.Results)
		confirmed = e.view(op, voter.UserID)
		if cfg.ShowLiveResults {
			confirmed.Results = e.results(r, op, false)
			confirmed.Tally = tally(confirmed.Results)
		}

		notes := []events.Notification{
			events.To(events.PollUpdate, teacherView, r.TeacherIDs()...),
			events.To(events.VoteConfirmed, confirmed, voter.UserID),
		}
		if cfg.AutoEndPolls && e.allVoted(r, op) {
			closed, err := e.close(ctx, r, op, ReasonAllVoted)
			if err != nil {
				e.logger.Error("early auto-end poll", zap.String("poll_id", pollID.String()), zap.Error(err))
				return notes, nil
			}
			notes = append(notes, closed...)
		}
		return notes, nil
	})
	if err != nil {
		return nil, err
	}
	return &confirmed, nil
}

func (e *Engine) allVoted(r *sessions.Room, op *openPoll) bool {
	students := r.ActiveStudentIDs()
	if len(students) == 0 {
		return false
	}
	for _, id := range students {
		if _, ok := op.votes[id]; !ok {
			return false
		}
	}
	return true
}

// EndPoll closes the session's open poll on the teacher's request.
func (e *Engine) EndPoll(ctx context.Context, actor models.Identity, sessionID uuid.UUID) (*models.Poll, error) {
	var ended models.Poll
	_, err := e.sessions.Exec(ctx, sessionID, func(r *sessions.Room) ([]events.Notification, error) {
		if !r.IsTeacher(actor.UserID) {
			return nil, apperr.Forbidden("only the session teacher can end polls")
		}
		cur, ok := r.CurrentPoll()
		if !ok {
			return nil, apperr.ErrNoOpenPoll
		}
		op := e.lookup(cur)
		if op == nil {
			r.SetCurrentPoll(nil)
			return nil, apperr.ErrNoOpenPoll
		}
		notes, err := e.close(ctx, r, op, ReasonEnded)
		if err != nil {
			return nil, err
		}
		ended = op.poll
		return notes, nil
	})
	if err != nil {
		return nil, err
	}
	return &ended, nil
}

// CloseOpenPoll closes whatever poll is open while the caller holds the room lock.
func (e *Engine) CloseOpenPoll(ctx context.Context, r *sessions.Room, reason string) ([]events.Notification, error) {
	cur, ok := r.CurrentPoll()
	if !ok {
		return nil, nil
	}
	op := e.lookup(cur)
	if op == nil {
		r.SetCurrentPoll(nil)
		return nil, nil
	}
	return e.close(ctx, r, op, reason)
}

// Current returns the open poll as seen by the caller.
func (e *Engine) Current(userID, sessionID uuid.UUID) (*PollView, error) {
	var v PollView
	err := e.sessions.View(sessionID, func(r *sessions.Room) error {
		if !r.IsTeacher(userID) && !r.IsActiveMember(userID) {
			return apperr.ErrNotAParticipant
		}
		cur, ok := r.CurrentPoll()
		if !ok {
			return apperr.ErrNoOpenPoll
		}
		op := e.lookup(cur)
		if op == nil {
			return apperr.ErrNoOpenPoll
		}
		v = e.view(op, userID)
		cfg := r.Session().Config
		switch {
		case r.IsTeacher(userID):
			v.Results = e.results(r, op, !cfg.AllowAnonymousVoting)
		case v.HasVoted && cfg.ShowLiveResults:
			v.Results = e.results(r, op, false)
		}
		if v.Results != nil {
			v.Tally = tally(v.Results)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// History lists the session's closed polls with final results, newest first.
// It stays readable after the session has ended.
func (e *Engine) History(ctx context.Context, userID, sessionID uuid.UUID, limit int) ([]models.Poll, error) {
	if err := e.sessions.Authorize(ctx, userID, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	list, err := e.store.ListClosedBySession(ctx, sessionID, limit)
	if err != nil {
		return nil, apperr.Unexpected(err)
	}
	return list, nil
}

// Restore reloads open polls, rescheduling their timers or closing the overdue ones.
func (e *Engine) Restore(ctx context.Context) error {
	open, err := e.store.ListOpenPolls(ctx)
	if err != nil {
		return apperr.Unexpected(err)
	}
	for _, p := range open {
		votes, err := e.store.ListVotes(ctx, p.ID)
		if err != nil {
			return apperr.Unexpected(err)
		}
		op := &openPoll{poll: p, votes: make(map[uuid.UUID]int, len(votes))}
		for _, v := range votes {
			op.votes[v.UserID] = v.OptionIndex
		}
		_, err = e.sessions.Exec(ctx, p.SessionID, func(r *sessions.Room) ([]events.Notification, error) {
			if cur, ok := r.CurrentPoll(); ok && cur != p.ID {
				// Only one poll may be open; keep the first one seen.
				return e.closeOrphan(ctx, op)
			}
			e.track(r, op)
			if !op.poll.Deadline().After(e.opts.Now()) {
				return e.close(ctx, r, op, ReasonTimeout)
			}
			return nil, nil
		})
		if err != nil {
			if apperr.KindOf(err) != apperr.KindNotFound {
				return err
			}
			if _, err := e.closeOrphan(ctx, op); err != nil {
				return err
			}
		}
	}
	e.logger.Info("polls restored", zap.Int("count", len(open)))
	return nil
}

// closeOrphan closes a stored open poll that has no live session to report to.
func (e *Engine) closeOrphan(ctx context.Context, op *openPoll) ([]events.Notification, error) {
	results := make([]models.OptionResult, len(op.poll.Options))
	for i, o := range op.poll.Options {
		results[i] = models.OptionResult{Index: o.Index, Text: o.Text}
	}
	for _, idx := range op.votes {
		if idx >= 0 && idx < len(results) {
			results[idx].Votes++
		}
	}
	if err := e.store.ClosePoll(ctx, op.poll.ID, e.opts.Now(), results); err != nil {
		return nil, apperr.Unexpected(err)
	}
	return nil, nil
}

// results aggregates per-option counts. withVoters adds display names.
func (e *Engine) results(r *sessions.Room, op *openPoll, withVoters bool) []models.OptionResult {
	out := make([]models.OptionResult, len(op.poll.Options))
	for i, o := range op.poll.Options {
		out[i] = models.OptionResult{Index: o.Index, Text: o.Text}
	}
	for uid, idx := range op.votes {
		if idx < 0 || idx >= len(out) {
			continue
		}
		out[idx].Votes++
		if withVoters {
			if p, ok := r.Participant(uid); ok {
				out[idx].Voters = append(out[idx].Voters, p.Name)
			}
		}
	}
	for i := range out {
		sort.Strings(out[i].Voters)
	}
	return out
}

func tally(results []models.OptionResult) map[string]int {
	t := make(map[string]int, len(results))
	for _, res := range results {
		t[res.Text] += res.Votes
	}
	return t
}

// Package archive snapshots ended sessions and uploads them to object storage.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-livepoll/backend/internal/models"
	"github.com/aura-livepoll/backend/pkg/queue"
	"github.com/aura-livepoll/backend/pkg/storage"
)

// SessionSource reads session records.
type SessionSource interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error)
}

// PollSource reads closed polls.
type PollSource interface {
	ListClosedBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]models.Poll, error)
}

// ChatSource reads chat history.
type ChatSource interface {
	ListMessages(ctx context.Context, sessionID uuid.UUID, before *time.Time, limit int) ([]models.ChatMessage, error)
}

// Uploader stores an archive object.
type Uploader interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader, contentLength int64) (string, error)
	ArchiveBucket() string
}

// Jobs is the queue the processor consumes.
type Jobs interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Snapshot is the archived form of one ended session.
type Snapshot struct {
	Session      models.Session       `json:"session"`
	Participants []models.Participant `json:"participants"`
	Polls        []models.Poll        `json:"polls"`
	Messages     []models.ChatMessage `json:"messages"`
	ArchivedAt   time.Time            `json:"archivedAt"`
}

const (
	maxArchivedPolls    = 1000
	maxArchivedMessages = 10000
)

// Processor builds and uploads session snapshots for archive jobs.
type Processor struct {
	sessions SessionSource
	polls    PollSource
	chat     ChatSource
	uploader Uploader
	jobs     Jobs
	logger   *zap.Logger
	backoff  time.Duration
}

// NewProcessor creates a session archive processor.
func NewProcessor(s SessionSource, p PollSource, c ChatSource, u Uploader, jobs Jobs, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{sessions: s, polls: p, chat: c, uploader: u, jobs: jobs, logger: logger, backoff: queue.RetryBackoff}
}

// Build assembles the snapshot of a session. Polls are returned oldest first.
func (p *Processor) Build(ctx context.Context, sessionID uuid.UUID) (*Snapshot, error) {
	s, err := p.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	parts, err := p.sessions.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	polls, err := p.polls.ListClosedBySession(ctx, sessionID, maxArchivedPolls)
	if err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	for i, j := 0, len(polls)-1; i < j; i, j = i+1, j-1 {
		polls[i], polls[j] = polls[j], polls[i]
	}
	msgs, err := p.chat.ListMessages(ctx, sessionID, nil, maxArchivedMessages)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return &Snapshot{
		Session:      *s,
		Participants: parts,
		Polls:        polls,
		Messages:     msgs,
		ArchivedAt:   time.Now().UTC(),
	}, nil
}

// Process executes one archive job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeSessionArchive {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.SessionArchivePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	snap, err := p.Build(ctx, payload.SessionID)
	if err != nil {
		return err
	}
	if snap.Session.IsActive() {
		p.logger.Warn("session still active, skipping archive", zap.String("session_id", payload.SessionID.String()))
		return nil
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	key := storage.ArchiveKey(payload.SessionID.String())
	url, err := p.uploader.Upload(ctx, p.uploader.ArchiveBucket(), key, "application/json", bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return fmt.Errorf("s3 upload: %w", err)
	}
	p.logger.Info("session archived", zap.String("session_id", payload.SessionID.String()), zap.String("s3_key", key), zap.String("url", url))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("archive worker stopping")
			return
		default:
		}

		job, err := p.jobs.Dequeue(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			sleep(ctx, p.backoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.jobs.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			sleep(ctx, p.backoff)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

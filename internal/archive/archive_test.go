package archive_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-livepoll/backend/internal/archive"
	"github.com/aura-livepoll/backend/internal/chat"
	"github.com/aura-livepoll/backend/internal/memstore"
	"github.com/aura-livepoll/backend/internal/models"
	"github.com/aura-livepoll/backend/internal/polls"
	"github.com/aura-livepoll/backend/internal/sessions"
	"github.com/aura-livepoll/backend/pkg/queue"
)

type upload struct {
	bucket, key, contentType string
	body                     []byte
}

type fakeUploader struct {
	mu      sync.Mutex
	uploads []upload
	err     error
}

func (u *fakeUploader) Upload(_ context.Context, bucket, key, contentType string, body io.Reader, _ int64) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.uploads = append(u.uploads, upload{bucket: bucket, key: key, contentType: contentType, body: b})
	return "https://example.invalid/" + key, nil
}

func (u *fakeUploader) ArchiveBucket() string { return "archives-test" }

type fakeJobs struct {
	mu      sync.Mutex
	pending []*queue.Job
	retried []*queue.Job
}

func (j *fakeJobs) EnqueueSessionArchive(_ context.Context, id uuid.UUID) error {
	body, _ := json.Marshal(queue.SessionArchivePayload{SessionID: id})
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pending = append(j.pending, &queue.Job{ID: uuid.NewString(), Type: queue.JobTypeSessionArchive, Payload: body})
	return nil
}

func (j *fakeJobs) Dequeue(ctx context.Context, _ time.Duration) (*queue.Job, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.pending) == 0 {
		return nil, nil
	}
	job := j.pending[0]
	j.pending = j.pending[1:]
	return job, nil
}

func (j *fakeJobs) Retry(_ context.Context, job *queue.Job) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.retried = append(j.retried, job)
	return nil
}

type noTimer struct{}

func (noTimer) Stop() bool { return true }

// endedSession runs a short class through the real components and returns its id.
func endedSession(t *testing.T, store *memstore.Store, jobs *fakeJobs) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	m := sessions.NewManager(store, sessions.Options{}, nil)
	e := polls.NewEngine(m, store, polls.Options{AfterFunc: func(time.Duration, func()) polls.Timer { return noTimer{} }}, nil)
	m.SetPollCloser(e)
	m.SetArchiver(jobs)
	relay := chat.NewRelay(m, store, 0, 0, nil)

	owner := models.Identity{UserID: uuid.New(), Name: "Ms. Rao", Role: models.RoleTeacher}
	s, err := m.CreateSession(ctx, owner, "Math Quiz", models.DefaultSessionConfig(30))
	require.NoError(t, err)
	rahul := models.Identity{UserID: uuid.New(), Name: "Rahul", Role: models.RoleStudent}
	_, err = m.Join(ctx, rahul, s.Code)
	require.NoError(t, err)
	_, err = relay.Send(ctx, rahul, s.ID, "hello", "")
	require.NoError(t, err)

	p, err := e.CreatePoll(ctx, owner, s.ID, "2+2?", []string{"3", "4", "5"}, 30)
	require.NoError(t, err)
	_, err = e.Vote(ctx, rahul, p.ID, models.OptionRef{Text: "4"})
	require.NoError(t, err)
	_, err = e.CreatePoll(ctx, owner, s.ID, "3+3?", []string{"6", "7"}, 30)
	require.NoError(t, err)

	require.NoError(t, m.EndSession(ctx, owner, s.ID))
	return s.ID
}

func TestProcessUploadsSnapshot(t *testing.T) {
	store := memstore.New()
	jobs := &fakeJobs{}
	sessionID := endedSession(t, store, jobs)
	require.Len(t, jobs.pending, 1)

	up := &fakeUploader{}
	p := archive.NewProcessor(store, store, store, up, jobs, nil)
	job, err := jobs.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.NoError(t, p.Process(context.Background(), job))

	require.Len(t, up.uploads, 1)
	u := up.uploads[0]
	assert.Equal(t, "archives-test", u.bucket)
	assert.Equal(t, "archives/"+sessionID.String()+".json", u.key)
	assert.Equal(t, "application/json", u.contentType)

	var snap archive.Snapshot
	require.NoError(t, json.Unmarshal(u.body, &snap))
	assert.Equal(t, models.SessionEnded, snap.Session.Status)
	assert.Len(t, snap.Participants, 2)
	require.Len(t, snap.Polls, 2)
	assert.Equal(t, "2+2?", snap.Polls[0].Question)
	assert.Equal(t, 1, snap.Polls[0].Results[1].Votes)
	assert.Equal(t, "3+3?", snap.Polls[1].Question)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "hello", snap.Messages[0].Content)
}

func TestProcessRejectsUnknownJob(t *testing.T) {
	p := archive.NewProcessor(memstore.New(), memstore.New(), memstore.New(), &fakeUploader{}, &fakeJobs{}, nil)
	err := p.Process(context.Background(), &queue.Job{ID: "1", Type: "other"})
	assert.Error(t, err)
}

func TestRunRetriesFailedJobs(t *testing.T) {
	store := memstore.New()
	jobs := &fakeJobs{}
	endedSession(t, store, jobs)

	up := &fakeUploader{err: errors.New("s3 unavailable")}
	p := archive.NewProcessor(store, store, store, up, jobs, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		jobs.mu.Lock()
		defer jobs.mu.Unlock()
		return len(jobs.retried) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done
}

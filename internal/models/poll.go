package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// PollStatus is the lifecycle state of a poll.
type PollStatus string

const (
	PollOpen   PollStatus = "open"
	PollClosed PollStatus = "closed"
)

// PollOption is one choice of a poll; Index is stable for the poll's lifetime.
type PollOption struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Poll is a multiple-choice question scoped to one session.
type Poll struct {
	ID        uuid.UUID    `json:"id"`
	SessionID uuid.UUID    `json:"sessionId"`
	Question  string       `json:"question"`
	Options   []PollOption `json:"options"`
	Duration  int          `json:"duration"` // seconds
	Status    PollStatus   `json:"status"`
	CreatedAt time.Time    `json:"createdAt"`
	ClosedAt  *time.Time   `json:"closedAt,omitempty"`
	// Results is populated once the poll is closed.
	Results []OptionResult `json:"results,omitempty"`
}

// Deadline returns when the poll auto-ends.
func (p *Poll) Deadline() time.Time {
	return p.CreatedAt.Add(time.Duration(p.Duration) * time.Second)
}

// TimeRemaining returns whole seconds left at now, never negative.
func (p *Poll) TimeRemaining(now time.Time) int {
	left := p.Deadline().Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + time.Second - 1) / time.Second)
}

// Vote is one participant's recorded choice for one poll.
type Vote struct {
	PollID      uuid.UUID `json:"pollId"`
	UserID      uuid.UUID `json:"userId"`
	OptionIndex int       `json:"optionIndex"`
	VotedAt     time.Time `json:"votedAt"`
}

// OptionResult is the aggregated count for one option.
type OptionResult struct {
	Index  int      `json:"index"`
	Text   string   `json:"text"`
	Votes  int      `json:"votes"`
	Voters []string `json:"voters,omitempty"` // display names; omitted for anonymous sessions
}

// OptionRef identifies an option either by index or by its text.
// The web client sends the option text; other clients send the index.
type OptionRef struct {
	Index *int
	Text  string
}

// UnmarshalJSON accepts a number (index), a numeric string, or an option text. null is rejected.
func (o *OptionRef) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return fmt.Errorf("selectedOption must not be null")
	}
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		o.Index = &n
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("selectedOption must be an index or option text")
	}
	o.Text = s
	return nil
}

// Resolve returns the option index this reference points to, or -1.
func (o OptionRef) Resolve(options []PollOption) int {
	if o.Index != nil {
		if *o.Index < 0 || *o.Index >= len(options) {
			return -1
		}
		return *o.Index
	}
	for _, opt := range options {
		if opt.Text == o.Text {
			return opt.Index
		}
	}
	if n, err := strconv.Atoi(strings.TrimSpace(o.Text)); err == nil && n >= 0 && n < len(options) {
		return n
	}
	return -1
}

// IndexRef is a convenience for building an OptionRef from an index.
func IndexRef(i int) OptionRef { return OptionRef{Index: &i} }

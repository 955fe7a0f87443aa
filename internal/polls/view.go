package polls

import (
	"github.com/google/uuid"

	"github.com/aura-livepoll/backend/internal/models"
)

// PollView is a poll as pushed to or fetched by one viewer.
type PollView struct {
	models.Poll
	TimeRemaining  int            `json:"timeRemaining"`
	TotalVotes     int            `json:"totalVotes"`
	HasVoted       bool           `json:"hasVoted"`
	SelectedOption *int           `json:"selectedOption,omitempty"`
	Tally          map[string]int `json:"tally,omitempty"`
}

// view builds the viewer-independent part of a poll view. Results are filled by callers
// depending on what the viewer may see.
func (e *Engine) view(op *openPoll, viewer uuid.UUID) PollView {
	p := op.poll
	p.Results = nil
	v := PollView{
		Poll:          p,
		TimeRemaining: p.TimeRemaining(e.opts.Now()),
		TotalVotes:    len(op.votes),
	}
	if viewer != uuid.Nil {
		if idx, ok := op.votes[viewer]; ok {
			v.HasVoted = true
			v.SelectedOption = &idx
		}
	}
	return v
}

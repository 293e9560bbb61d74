package model

import (
	"time"

	"github.com/google/uuid"
)

// Run is the persisted outcome of one training job.
type Run struct {
	ID           uuid.UUID  `json:"id"`
	Strategy     string     `json:"strategy"`
	DatasetHash  string     `json:"dataset_hash"`
	Trained      bool       `json:"trained"`
	Score        int64      `json:"score"`
	Location     string     `json:"location"`
	CreationTime time.Time  `json:"creation_time"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
}

// NewRun captures job's current outcome. location names where it ran:
// "local" or a remote server.
func NewRun(job *Job, location string) *Run {
	r := &Run{
		ID:           job.ID,
		Strategy:     job.Strategy,
		Trained:      job.Trained(),
		Score:        job.Score,
		Location:     location,
		CreationTime: job.CreationTime,
		StartTime:    job.StartTime,
		EndTime:      job.EndTime,
	}
	if job.Dataset != nil {
		r.DatasetHash = job.Dataset.Hash.String()
	}
	return r
}

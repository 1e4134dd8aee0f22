package job

import (
	"context"
)

type Refresher interface {
	Refresh(ctx context.Context) error
}

// IndexRefreshJob rebuilds the similarity index so chunks ingested by other
// processes become searchable.
type IndexRefreshJob struct {
	target Refresher
}

func NewIndexRefreshJob(target Refresher) *IndexRefreshJob {
	return &IndexRefreshJob{target: target}
}

func (j *IndexRefreshJob) Name() string {
	return "index_refresh"
}

func (j *IndexRefreshJob) Run(ctx context.Context) error {
	if j.target == nil {
		return nil
	}
	return j.target.Refresh(ctx)
}

package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/dvloznov/s1a-ledger/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_SaveGetCopies(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	job := &jobs.VoiceJob{JobID: "1", Target: "smart-add", Clip: []byte("audio"), Status: jobs.JobStatusPending}
	require.NoError(t, s.SaveJob(ctx, job))

	job.Status = jobs.JobStatusRunning
	got, err := s.GetJob(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusPending, got.Status)
	assert.Nil(t, got.Clip)

	got.Target = "changed"
	again, err := s.GetJob(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "smart-add", again.Target)

	assert.Error(t, s.SaveJob(ctx, &jobs.VoiceJob{}))
	_, err = s.GetJob(ctx, "missing")
	assert.Error(t, err)
}

func TestStore_ListJobs(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, target := range []string{"smart-add", "info:name", "smart-add", "smart-add"} {
		require.NoError(t, s.SaveJob(ctx, &jobs.VoiceJob{
			JobID:     string(rune('a' + i)),
			Target:    target,
			Status:    jobs.JobStatusCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.UpdateJobStatus(ctx, "d", jobs.JobStatusFailed, "boom"))

	all, err := s.ListJobs(ctx, jobs.JobFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "d", all[0].JobID)
	assert.Equal(t, "boom", all[0].Error)

	smart, err := s.ListJobs(ctx, jobs.JobFilter{Target: "smart-add", Status: jobs.JobStatusCompleted})
	require.NoError(t, err)
	require.Len(t, smart, 2)
	assert.Equal(t, "c", smart[0].JobID)

	page, err := s.ListJobs(ctx, jobs.JobFilter{Offset: 1, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].JobID)

	empty, err := s.ListJobs(ctx, jobs.JobFilter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)

	assert.Error(t, s.UpdateJobStatus(ctx, "missing", jobs.JobStatusFailed, ""))
}

package file

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/dukex/fieldflow/pkg/models"
	"github.com/dukex/fieldflow/pkg/persistence"
)

const (
	tasksCollection          = "tasks"
	jobsCollection           = "jobs"
	communicationsCollection = "communication_logs"
)

// RecordRepository handles task, job and communication log file operations.
type RecordRepository struct {
	store *Persistence
}

func (rr *RecordRepository) InsertTask(_ context.Context, task *models.Task) error {
	if task.CreatedAt.IsZero() {
		task.CreatedAt = nowUTC()
	}

	return rr.store.write(tasksCollection, task.ID, task)
}

func (rr *RecordRepository) InsertJob(_ context.Context, job *models.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = nowUTC()
	}

	return rr.store.write(jobsCollection, job.ID, job)
}

// UpdateJobStatus rewrites the status of a stored job.
func (rr *RecordRepository) UpdateJobStatus(_ context.Context, jobID, status string) error {
	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	job, err := rr.job(jobID)
	if err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}

	job.Status = status

	return rr.store.write(jobsCollection, jobID, job)
}

// job reads a stored job. The caller holds the store mutex.
func (rr *RecordRepository) job(jobID string) (*models.Job, error) {
	var job models.Job

	err := rr.store.read(jobsCollection, jobID, &job)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrJobNotFound
		}

		return nil, fmt.Errorf("failed to read job %s: %w", jobID, err)
	}

	return &job, nil
}

func (rr *RecordRepository) InsertCommunicationLog(_ context.Context, entry *models.CommunicationLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = nowUTC()
	}

	return rr.store.write(communicationsCollection, entry.ID, entry)
}

// OverdueTasks returns open tasks whose due date is before now, oldest due first.
func (rr *RecordRepository) OverdueTasks(_ context.Context, now time.Time) ([]*models.Task, error) {
	ids, err := rr.store.ids(tasksCollection)
	if err != nil {
		return nil, err
	}

	tasks := make([]*models.Task, 0)

	for _, id := range ids {
		var task models.Task

		if err := rr.store.read(tasksCollection, id, &task); err != nil {
			continue
		}

		if task.DueDate == nil || !task.DueDate.Before(now) {
			continue
		}

		if task.Status == models.TaskStatusCompleted || task.Status == models.TaskStatusCancelled {
			continue
		}

		tasks = append(tasks, &task)
	}

	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].DueDate.Before(*tasks[j].DueDate)
	})

	return tasks, nil
}

package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Producer publishes grading jobs and results
type Producer struct {
	conn *Connection
}

// NewProducer creates a new queue producer
func NewProducer(conn *Connection) *Producer {
	return &Producer{conn: conn}
}

// NewGradeJob creates a job with a fresh id
func NewGradeJob(problemID, text string) *GradeJob {
	return &GradeJob{
		ID:            uuid.New(),
		ProblemID:     problemID,
		SubmittedText: text,
		CreatedAt:     time.Now(),
	}
}

// PublishJob publishes a grading job to the submission queue
func (p *Producer) PublishJob(ctx context.Context, job *GradeJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	if err := p.conn.PublishJSON(ctx, SubmissionQueueName, job); err != nil {
		return fmt.Errorf("failed to publish grade job: %w", err)
	}

	slog.Info("published grade job", "job_id", job.ID, "problem_id", job.ProblemID)
	return nil
}

// PublishResult publishes a grading result to the results queue
func (p *Producer) PublishResult(ctx context.Context, result *GradeResult) error {
	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now()
	}

	if err := p.conn.PublishJSON(ctx, ResultQueueName, result); err != nil {
		return fmt.Errorf("failed to publish grade result: %w", err)
	}

	slog.Info("published grade result",
		"job_id", result.JobID,
		"status", result.Status,
		"duration", result.Duration,
	)
	return nil
}

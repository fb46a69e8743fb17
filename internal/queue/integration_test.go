//go:build integration

package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"

	"github.com/felixgeelhaar/drillgrade/drills"
	"github.com/felixgeelhaar/drillgrade/internal/catalog"
	"github.com/felixgeelhaar/drillgrade/internal/domain"
	"github.com/felixgeelhaar/drillgrade/internal/grader"
	"github.com/felixgeelhaar/drillgrade/internal/queue"
	"github.com/felixgeelhaar/drillgrade/internal/runner"
)

// setupRabbitMQ creates a RabbitMQ container for testing
func setupRabbitMQ(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := rabbitmq.Run(ctx, "rabbitmq:3.12-management")
	if err != nil {
		t.Fatalf("failed to start RabbitMQ container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	amqpURL, err := container.AmqpURL(ctx)
	if err != nil {
		t.Fatalf("failed to get AMQP URL: %v", err)
	}
	return amqpURL
}

func connect(t *testing.T, url string) *queue.Connection {
	t.Helper()
	conn, err := queue.NewConnection(url)
	if err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// luaEngine grades with the embedded catalog and only the in-process Lua runner.
func luaEngine(t *testing.T) *grader.Engine {
	t.Helper()
	svc, err := runner.NewService(runner.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	cat := catalog.New(catalog.NewLoader(drills.FS, nil))
	if err := cat.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return grader.NewEngine(cat, svc, grader.DefaultConfig())
}

func TestIntegration_Connection_ConnectAndClose(t *testing.T) {
	conn, err := queue.NewConnection(setupRabbitMQ(t))
	if err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}
	if !conn.IsConnected() {
		t.Error("expected connection to be active")
	}
	if err := conn.Close(); err != nil {
		t.Errorf("failed to close connection: %v", err)
	}
}

func TestIntegration_Connection_InvalidURL(t *testing.T) {
	if _, err := queue.NewConnection("amqp://invalid:5672"); err == nil {
		t.Error("expected error for invalid URL")
	}
}

func TestIntegration_Producer_PublishJob(t *testing.T) {
	conn := connect(t, setupRabbitMQ(t))

	job := queue.NewGradeJob("lua-sum-table", "15")
	if err := queue.NewProducer(conn).PublishJob(context.Background(), job); err != nil {
		t.Fatalf("failed to publish job: %v", err)
	}

	q, err := conn.Channel().QueueInspect(queue.SubmissionQueueName)
	if err != nil {
		t.Fatalf("failed to inspect queue: %v", err)
	}
	if q.Messages != 1 {
		t.Errorf("queue holds %d messages; want 1", q.Messages)
	}
}

func TestIntegration_GradeRoundTrip(t *testing.T) {
	conn := connect(t, setupRabbitMQ(t))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	handler := queue.NewGradeHandler(luaEngine(t), queue.DefaultRetryConfig())
	consumer := queue.NewConsumer(conn, handler, queue.ConsumerConfig{Workers: 2})
	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("failed to start consumer: %v", err)
	}
	defer consumer.Stop()

	results := queue.NewResultConsumer(conn)
	if err := results.Start(ctx); err != nil {
		t.Fatalf("failed to start result consumer: %v", err)
	}
	defer results.Stop()

	tests := []struct {
		text   string
		passed bool
		reason domain.ErrorKind
	}{
		{"local total = 0\nfor _, n in ipairs(numbers) do total = total + n end\ntotal", true, ""},
		{"14", false, domain.ErrorValueMismatch},
		{"   ", false, domain.ErrorEmptySubmission},
	}

	received := make(map[string]chan *queue.GradeResult)
	producer := queue.NewProducer(conn)
	for _, tt := range tests {
		job := queue.NewGradeJob("lua-sum-table", tt.text)
		ch := make(chan *queue.GradeResult, 1)
		received[tt.text] = ch
		results.Subscribe(job.ID.String(), func(r *queue.GradeResult) { ch <- r })

		if err := producer.PublishJob(ctx, job); err != nil {
			t.Fatalf("failed to publish job: %v", err)
		}
	}

	for _, tt := range tests {
		select {
		case r := <-received[tt.text]:
			if r.Status != queue.StatusGraded || r.Result == nil {
				t.Fatalf("%q: result = %+v; want graded", tt.text, r)
			}
			if r.Result.Passed != tt.passed || r.Result.FailureReason != tt.reason {
				t.Errorf("%q: passed = %v, reason = %q; want %v, %q",
					tt.text, r.Result.Passed, r.Result.FailureReason, tt.passed, tt.reason)
			}
		case <-ctx.Done():
			t.Fatalf("%q: timeout waiting for result", tt.text)
		}
	}
}

func TestIntegration_Consumer_MalformedJobRejected(t *testing.T) {
	conn := connect(t, setupRabbitMQ(t))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	called := make(chan struct{}, 1)
	handler := func(ctx context.Context, job *queue.GradeJob) (*queue.GradeResult, error) {
		called <- struct{}{}
		return &queue.GradeResult{}, nil
	}
	consumer := queue.NewConsumer(conn, handler, queue.DefaultConsumerConfig())
	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("failed to start consumer: %v", err)
	}
	defer consumer.Stop()

	if err := conn.PublishJSON(ctx, queue.SubmissionQueueName, map[string]string{"submitted_text": "x"}); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	select {
	case <-called:
		t.Fatal("handler called for a job without problem id")
	case <-time.After(500 * time.Millisecond):
	}

	q, err := conn.Channel().QueueInspect(queue.ResultQueueName)
	if err != nil {
		t.Fatalf("failed to inspect result queue: %v", err)
	}
	if q.Messages != 0 {
		t.Errorf("result queue holds %d messages; want 0", q.Messages)
	}
}

package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/senchpimy/image-ocr/internal/types"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestStoreIntegration runs a full integration test against a real Postgres container.
// It requires Docker to be running.
func TestStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	// Explicitly check for Docker availability and fail hard if missing
	// We wrap this in a function to recover from panics inside testcontainers (e.g. socket not found)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("testcontainers panicked: %v", r)
			}
		}()
		_, err = testcontainers.NewDockerClientWithOpts(ctx)
		return
	}()
	if err != nil {
		t.Fatalf("Docker not available, cannot run integration test: %v", err)
	}

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("ocrbridge_test"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
		testcontainers.WithLogger(noopLogger{}),
	)
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("Failed to terminate container: %v", err)
		}
	}()

	// Get Connection String
	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	// Initialize Store (runs migrations)
	s, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Failed to connect to store: %v", err)
	}
	defer s.Close()

	// --- Test Scenarios ---

	session := uuid.NewString()
	base := time.Now().Add(-time.Minute)
	records := []types.RequestRecord{
		{SessionID: session, Backend: "paddle", PayloadBytes: 1024, Outcome: types.OutcomeOK, Duration: 250 * time.Millisecond, CreatedAt: base},
		{SessionID: session, Backend: "paddle", PayloadBytes: 12, Outcome: types.OutcomeInvalidImage, Error: types.InvalidImageMessage, CreatedAt: base.Add(time.Second)},
		{SessionID: session, Backend: "paddle", PayloadBytes: 2048, Outcome: types.OutcomeBackendError, Error: "worker crashed", Duration: time.Second, CreatedAt: base.Add(2 * time.Second)},
	}

	// Go through the Recorder, as the server does.
	rec := NewRecorder(s, 8, quiet())
	for _, r := range records {
		rec.Record(r)
	}
	rec.Close()

	recent, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(recent))
	}
	if recent[0].Outcome != types.OutcomeBackendError || recent[0].Error != "worker crashed" {
		t.Errorf("Newest record = %+v", recent[0])
	}
	if recent[0].Duration != time.Second {
		t.Errorf("Expected duration 1s, got %s", recent[0].Duration)
	}
	if recent[1].Outcome != types.OutcomeInvalidImage || recent[1].SessionID != session {
		t.Errorf("Second record = %+v", recent[1])
	}
	if _, err := uuid.Parse(recent[0].ID); err != nil {
		t.Errorf("Expected generated UUID, got %q", recent[0].ID)
	}

	counts, err := s.CountByOutcome(ctx)
	if err != nil {
		t.Fatalf("CountByOutcome failed: %v", err)
	}
	for _, o := range []types.Outcome{types.OutcomeOK, types.OutcomeInvalidImage, types.OutcomeBackendError} {
		if counts[o] != 1 {
			t.Errorf("Expected 1 %s record, got %d", o, counts[o])
		}
	}

	// Reset drops the table; a fresh store recreates it empty.
	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	s2, err := New(ctx, connStr)
	if err != nil {
		t.Fatalf("Reconnect after reset failed: %v", err)
	}
	defer s2.Close()
	recent, err = s2.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent after reset failed: %v", err)
	}
	if len(recent) != 0 {
		t.Errorf("Expected empty table after reset, got %d rows", len(recent))
	}
}

type noopLogger struct{}

func (n noopLogger) Printf(format string, v ...interface{}) {}

package external_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/interviewd/interviewd/internal/external"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if INTERVIEWD_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("INTERVIEWD_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("INTERVIEWD_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestPostgresAccessor(t *testing.T) *external.PostgresAccessor {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	a, err := external.NewPostgresAccessor(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgresAccessor: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestPostgresAccessor_GetCV_MissingReturnsNil(t *testing.T) {
	a := newTestPostgresAccessor(t)
	cv, err := a.GetCV(context.Background(), "no-such-user-"+time.Now().String())
	if err != nil {
		t.Fatalf("GetCV: %v", err)
	}
	if cv != nil {
		t.Fatalf("expected nil for an unknown user, got %+v", cv)
	}
}

func TestPostgresAccessor_GetJD_MissingReturnsNil(t *testing.T) {
	a := newTestPostgresAccessor(t)
	jd, err := a.GetJD(context.Background(), "no-such-session")
	if err != nil {
		t.Fatalf("GetJD: %v", err)
	}
	if jd != nil {
		t.Fatalf("expected nil for an unknown session, got %+v", jd)
	}
}

func TestPostgresAccessor_GetHistory_MissingReturnsEmpty(t *testing.T) {
	a := newTestPostgresAccessor(t)
	entries, err := a.GetHistory(context.Background(), "no-such-session")
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries for an unknown session, got %d", len(entries))
	}
}

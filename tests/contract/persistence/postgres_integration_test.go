package persistence_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/groundfault/groundfault/envelope"
	"github.com/groundfault/groundfault/internal/store"
	pgstore "github.com/groundfault/groundfault/internal/store/postgres"
)

var (
	testPool    *pgxpool.Pool
	pgContainer testcontainers.Container
	setupErr    error
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "groundfault"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}
	pgContainer = container

	setupErr = initialiseDatabase(ctx)
	exitCode := 0
	if setupErr != nil {
		fmt.Fprintf(os.Stderr, "postgres contract tests skipped: %v\n", setupErr)
	} else {
		exitCode = m.Run()
	}

	if testPool != nil {
		testPool.Close()
	}
	if pgContainer != nil {
		_ = pgContainer.Terminate(ctx)
	}
	os.Exit(exitCode)
}

func initialiseDatabase(ctx context.Context) error {
	host, err := pgContainer.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	port, err := pgContainer.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	dsn := fmt.Sprintf("postgres://postgres:secret@%s:%s/groundfault?sslmode=disable", host, port.Port())

	if err := pgstore.Migrate(ctx, dsn, 0, nil); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("pgx pool: %w", err)
	}
	testPool = pool
	return nil
}

func newEnvelope(eventID string, seen time.Time) *envelope.Envelope {
	env := &envelope.Envelope{
		EventType: envelope.TypeException,
		EventID:   eventID,
		Tags: []envelope.Tag{
			{Name: "Logger", Value: "root"},
			{Name: "Level", Value: "40"},
		},
		Data: map[string]any{
			"level":     float64(40),
			"type":      "ValueError",
			"value":     "invalid literal",
			"traceback": "app.handler\n\tapp.go:10\nValueError: invalid literal\n",
			"frames":    []any{map[string]any{"function": "handler", "lineno": float64(10)}},
			"versions":  map[string]any{"app": "1.2.3"},
		},
	}
	env.SetDate(seen)
	return env
}

func TestPostgresSessionAggregation(t *testing.T) {
	if setupErr != nil {
		t.Skipf("postgres contract setup unavailable: %v", setupErr)
	}
	ctx := context.Background()

	session := pgstore.NewSession(testPool)
	engine := store.NewEngine(session, nil)
	defer func() { _ = engine.Close(ctx) }()

	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		id := uuid.NewString()
		ids = append(ids, id)
		if err := engine.MessageReceived(ctx, newEnvelope(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("fold envelope: %v", err)
		}
	}
	// Redeliver the first event id; the batch must absorb it silently.
	if err := engine.MessageReceived(ctx, newEnvelope(ids[0], base.Add(time.Hour))); err != nil {
		t.Fatalf("fold duplicate: %v", err)
	}
	if err := engine.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	var (
		count    int64
		score    int64
		lastSeen time.Time
		message  string
	)
	err := testPool.QueryRow(ctx,
		`SELECT count, score, last_seen, message FROM groups ORDER BY id LIMIT 1`).
		Scan(&count, &score, &lastSeen, &message)
	if err != nil {
		t.Fatalf("select group: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected count 3, got %d", count)
	}
	wantLast := base.Add(2 * time.Minute)
	if !lastSeen.UTC().Equal(wantLast) {
		t.Fatalf("expected last_seen %v, got %v", wantLast, lastSeen.UTC())
	}
	if want := store.Score(3, wantLast); score != want {
		t.Fatalf("expected score %d, got %d", want, score)
	}
	if message != "ValueError: invalid literal" {
		t.Fatalf("unexpected group message %q", message)
	}

	var events int64
	if err := testPool.QueryRow(ctx, `SELECT count(*) FROM event`).Scan(&events); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 3 {
		t.Fatalf("expected 3 events, got %d", events)
	}

	var tags int64
	if err := testPool.QueryRow(ctx,
		`SELECT count(*) FROM event_tags et JOIN event e ON e.event_id = et.event_id`).Scan(&tags); err != nil {
		t.Fatalf("count event tags: %v", err)
	}
	if tags != 6 {
		t.Fatalf("expected 6 event tag links, got %d", tags)
	}

	var linked int64
	if err := testPool.QueryRow(ctx, `SELECT count(*) FROM group_events`).Scan(&linked); err != nil {
		t.Fatalf("count group events: %v", err)
	}
	if linked != 3 {
		t.Fatalf("expected 3 group event links, got %d", linked)
	}
}

func TestPostgresSavepointIsolation(t *testing.T) {
	if setupErr != nil {
		t.Skipf("postgres contract setup unavailable: %v", setupErr)
	}
	ctx := context.Background()

	session := pgstore.NewSession(testPool)
	defer func() { _ = session.Close(ctx) }()

	seen := time.Date(2026, 8, 24, 11, 0, 0, 0, time.UTC)
	sentinel := fmt.Errorf("handler blew up")
	goodHash := "sp-" + uuid.NewString()

	err := session.Apply(ctx, func(agg store.Aggregator) error {
		typeID, err := agg.GetOrCreateEventType(ctx, "Exception")
		if err != nil {
			return err
		}
		_, _, err = agg.GetOrCreateGroup(ctx, typeID, goodHash, "kept", seen)
		return err
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	err = session.Apply(ctx, func(agg store.Aggregator) error {
		typeID, err := agg.GetOrCreateEventType(ctx, "Exception")
		if err != nil {
			return err
		}
		if _, _, err := agg.GetOrCreateGroup(ctx, typeID, "sp-discarded", "discarded", seen); err != nil {
			return err
		}
		return sentinel
	})
	if err == nil {
		t.Fatalf("expected handler error to surface")
	}

	if err := session.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	var kept int64
	if err := testPool.QueryRow(ctx,
		`SELECT count(*) FROM groups WHERE hash = $1`, goodHash).Scan(&kept); err != nil {
		t.Fatalf("count kept group: %v", err)
	}
	if kept != 1 {
		t.Fatalf("expected surviving group, got %d", kept)
	}
	var discarded int64
	if err := testPool.QueryRow(ctx,
		`SELECT count(*) FROM groups WHERE hash = 'sp-discarded'`).Scan(&discarded); err != nil {
		t.Fatalf("count discarded group: %v", err)
	}
	if discarded != 0 {
		t.Fatalf("savepoint leak: discarded group persisted")
	}
}

func TestPostgresRollbackDiscardsBatch(t *testing.T) {
	if setupErr != nil {
		t.Skipf("postgres contract setup unavailable: %v", setupErr)
	}
	ctx := context.Background()

	session := pgstore.NewSession(testPool)
	defer func() { _ = session.Close(ctx) }()

	seen := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	hash := "rb-" + uuid.NewString()
	err := session.Apply(ctx, func(agg store.Aggregator) error {
		typeID, err := agg.GetOrCreateEventType(ctx, "Exception")
		if err != nil {
			return err
		}
		_, _, err = agg.GetOrCreateGroup(ctx, typeID, hash, "rolled back", seen)
		return err
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := session.Rollback(ctx); err != nil {
		t.Fatalf("rollback: %v", err)
	}

	var n int64
	if err := testPool.QueryRow(ctx,
		`SELECT count(*) FROM groups WHERE hash = $1`, hash).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("rolled back group persisted")
	}
}

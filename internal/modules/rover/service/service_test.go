package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tofyx-server/internal/modules/rover/repository"
	"tofyx-server/internal/modules/rover/types"
)

const testSchema = `
CREATE TABLE IF NOT EXISTS sessions (
  id         TEXT    PRIMARY KEY,
  active     INTEGER NOT NULL DEFAULT 0,
  started_at TEXT    NOT NULL,
  ended_at   TEXT,
  note       TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS telemetry (
  id         INTEGER PRIMARY KEY,
  payload    TEXT    NOT NULL,
  created_at TEXT    NOT NULL
);
`

func setupService(t *testing.T, now func() time.Time) (*Service, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if _, err := db.Exec(testSchema); err != nil {
		t.Fatalf("exec schema: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Fatalf("close db: %v", closeErr)
		}
	})
	return NewWithClock(repository.NewRepository(db), 5*time.Second, now), db
}

func tickingClock(start time.Time, step time.Duration) func() time.Time {
	t := start
	return func() time.Time {
		out := t
		t = t.Add(step)
		return out
	}
}

func testSnapshot() types.Snapshot {
	return types.Snapshot{
		Timestamp: "2025-03-01T10:00:00Z",
		Environment: types.Environment{
			AmbientTempC: 21.5, SurfaceTempC: 26.1, UVIndex: 3.2, IRMwM2: 240.0, LightLux: 18000,
		},
		Power:       types.Power{BatteryPct: 80.5, BatteryVoltage: 3.97},
		Attitude:    types.Attitude{Pitch: 1.2, Roll: 0.4, Yaw: 120.0},
		Navigation:  types.Navigation{Lat: 46.0569, Lon: 14.5058, SpeedMps: 0.8, Heading: 120.0},
		Solar:       types.Solar{TargetAzimuth: 60.0, PanelAzimuth: 62.1, LightLux: 18000},
		Camouflage:  types.Camouflage{ColorHSL: "hsl(149, 70%, 55%)"},
		DangerLevel: "low",
	}
}

func TestNoStore_SessionOpsUnavailable(t *testing.T) {
	svc := New(nil, time.Second)
	ctx := context.Background()

	if _, err := svc.StartSession(ctx, ""); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("StartSession err = %v; want ErrStoreUnavailable", err)
	}
	if err := svc.StopSession(ctx); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("StopSession err = %v; want ErrStoreUnavailable", err)
	}
	if _, err := svc.History(ctx, 10, 0); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("History err = %v; want ErrStoreUnavailable", err)
	}
	if _, err := svc.ExportCSV(ctx, &bytes.Buffer{}, 10, 0); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("ExportCSV err = %v; want ErrStoreUnavailable", err)
	}
	if _, _, err := svc.Summary(ctx, 60); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Summary err = %v; want ErrStoreUnavailable", err)
	}
	if sess := svc.ActiveSession(ctx); sess != nil {
		t.Errorf("ActiveSession = %+v; want nil", sess)
	}
	// Telemetry serving path must not fail without a store.
	svc.RecordIfActive(ctx, testSnapshot())
}

func TestStartSession_Twice_LeavesOneActive(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, db := setupService(t, tickingClock(start, time.Minute))
	ctx := context.Background()

	first, err := svc.StartSession(ctx, "first")
	if err != nil {
		t.Fatalf("StartSession first: %v", err)
	}
	if _, err := svc.StartSession(ctx, "second"); err != nil {
		t.Fatalf("StartSession second: %v", err)
	}

	var activeCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sessions WHERE active = 1`).Scan(&activeCount); err != nil {
		t.Fatalf("count active: %v", err)
	}
	if activeCount != 1 {
		t.Fatalf("active sessions = %d; want 1", activeCount)
	}

	var ended sql.NullString
	if err := db.QueryRow(`SELECT ended_at FROM sessions WHERE id = ?`, first.ID).Scan(&ended); err != nil {
		t.Fatalf("select ended_at: %v", err)
	}
	if !ended.Valid {
		t.Fatal("first session ended_at not set")
	}
}

func TestRecordIfActive_GatedOnSession(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, db := setupService(t, tickingClock(start, time.Second))
	ctx := context.Background()

	countDocs := func() int {
		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM telemetry`).Scan(&n); err != nil {
			t.Fatalf("count telemetry: %v", err)
		}
		return n
	}

	svc.RecordIfActive(ctx, testSnapshot())
	if n := countDocs(); n != 0 {
		t.Fatalf("telemetry docs without session = %d; want 0", n)
	}

	if _, err := svc.StartSession(ctx, ""); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	svc.RecordIfActive(ctx, testSnapshot())
	svc.RecordIfActive(ctx, testSnapshot())
	if n := countDocs(); n != 2 {
		t.Fatalf("telemetry docs with session = %d; want 2", n)
	}

	if err := svc.StopSession(ctx); err != nil {
		t.Fatalf("StopSession: %v", err)
	}
	svc.RecordIfActive(ctx, testSnapshot())
	if n := countDocs(); n != 2 {
		t.Fatalf("telemetry docs after stop = %d; want 2", n)
	}
}

func TestHistory_LimitAndOrder(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _ := setupService(t, tickingClock(start, time.Minute))
	ctx := context.Background()

	if _, err := svc.StartSession(ctx, ""); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	for i := 0; i < 5; i++ {
		svc.RecordIfActive(ctx, testSnapshot())
	}

	items, err := svc.History(ctx, 2, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("History: got %d items, want 2", len(items))
	}
	if !items[0].CreatedAt.Before(items[1].CreatedAt) {
		t.Errorf("history order: %v then %v; want ascending", items[0].CreatedAt, items[1].CreatedAt)
	}
	if items[0].ID == "" || items[1].ID == "" {
		t.Error("history items missing string ids")
	}
	// The two most recent of the five inserts.
	if items[0].DangerLevel != "low" {
		t.Errorf("danger_level = %q; want low", items[0].DangerLevel)
	}
}

func TestHistory_SameSecondTimestamps(t *testing.T) {
	// Sub-second inserts whose fractional parts have different decimal
	// widths (.5 vs .52) must still come back in chronological order.
	start := time.Date(2025, 3, 1, 10, 0, 0, 480_000_000, time.UTC)
	svc, _ := setupService(t, tickingClock(start, 20*time.Millisecond))
	ctx := context.Background()

	if _, err := svc.StartSession(ctx, ""); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	svc.RecordIfActive(ctx, testSnapshot()) // .5
	svc.RecordIfActive(ctx, testSnapshot()) // .52

	items, err := svc.History(ctx, 10, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("History: got %d items, want 2", len(items))
	}
	if !items[0].CreatedAt.Before(items[1].CreatedAt) {
		t.Fatalf("history order: %v then %v; want ascending", items[0].CreatedAt, items[1].CreatedAt)
	}

	newest, err := svc.History(ctx, 1, 0)
	if err != nil {
		t.Fatalf("History limit 1: %v", err)
	}
	want := time.Date(2025, 3, 1, 10, 0, 0, 520_000_000, time.UTC)
	if !newest[0].CreatedAt.Equal(want) {
		t.Errorf("most recent created_at = %v; want %v", newest[0].CreatedAt, want)
	}
}

func TestHistory_WindowFilter(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := tickingClock(start, 10*time.Minute)
	svc, _ := setupService(t, clock)
	ctx := context.Background()

	if _, err := svc.StartSession(ctx, ""); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	for i := 0; i < 4; i++ {
		svc.RecordIfActive(ctx, testSnapshot())
	}

	// Clock has advanced well past the first inserts; only recent documents
	// fall inside a narrow window.
	items, err := svc.History(ctx, 100, 25)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	all, err := svc.History(ctx, 100, 0)
	if err != nil {
		t.Fatalf("History unbounded: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("unbounded history = %d items; want 4", len(all))
	}
	if len(items) >= len(all) || len(items) == 0 {
		t.Fatalf("windowed history = %d items; want fewer than %d but nonzero", len(items), len(all))
	}
}

func TestExportCSV_Shape(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _ := setupService(t, tickingClock(start, time.Minute))
	ctx := context.Background()

	if _, err := svc.StartSession(ctx, ""); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	for i := 0; i < 3; i++ {
		svc.RecordIfActive(ctx, testSnapshot())
	}

	var buf bytes.Buffer
	n, err := svc.ExportCSV(ctx, &buf, 2000, 0)
	if err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}
	if n != 3 {
		t.Fatalf("ExportCSV rows = %d; want 3", n)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("csv lines = %d; want header + 3 rows", len(lines))
	}
	header := strings.Split(lines[0], ",")
	if len(header) != 19 {
		t.Fatalf("csv header columns = %d; want 19", len(header))
	}
	if header[0] != "timestamp" || header[len(header)-1] != "created_at" {
		t.Errorf("header = %v; want timestamp...created_at", header)
	}
	for i, line := range lines[1:] {
		if got := len(strings.Split(line, ",")); got != 19 {
			t.Errorf("row %d columns = %d; want 19", i, got)
		}
	}
}

func TestExportCSV_MissingFieldsEmpty(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, db := setupService(t, tickingClock(start, time.Minute))
	ctx := context.Background()

	// Document missing the whole power section.
	_, err := db.Exec(
		`INSERT INTO telemetry (payload, created_at) VALUES (?, ?)`,
		`{"timestamp":"2025-03-01T10:00:00Z","environment":{"ambient_temp_c":20.0},"danger_level":"low"}`,
		"2025-03-01T10:00:00Z",
	)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	var buf bytes.Buffer
	if _, err := svc.ExportCSV(ctx, &buf, 2000, 0); err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("csv lines = %d; want 2", len(lines))
	}
	fields := strings.Split(lines[1], ",")
	if fields[0] != "2025-03-01T10:00:00Z" {
		t.Errorf("timestamp field = %q", fields[0])
	}
	if fields[1] != "20" {
		t.Errorf("ambient field = %q; want 20", fields[1])
	}
	// battery_pct (index 6) came from the missing power section.
	if fields[6] != "" {
		t.Errorf("battery_pct field = %q; want empty", fields[6])
	}
}

func TestSummary_EmptyWindow(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, _ := setupService(t, tickingClock(start, time.Minute))

	items, summary, err := svc.Summary(context.Background(), 60)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if items != 0 {
		t.Errorf("items = %d; want 0", items)
	}
	if len(summary) != 0 {
		t.Errorf("summary = %v; want empty", summary)
	}
}

func TestSummary_Stats(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	svc, db := setupService(t, tickingClock(start, time.Second))
	ctx := context.Background()

	for i, temp := range []string{"10.0", "20.0", "30.0"} {
		payload := `{"environment":{"ambient_temp_c":` + temp + `}}`
		created := start.Add(time.Duration(i) * time.Second).Format(time.RFC3339Nano)
		if _, err := db.Exec(`INSERT INTO telemetry (payload, created_at) VALUES (?, ?)`, payload, created); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	items, summary, err := svc.Summary(ctx, 60)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if items != 3 {
		t.Fatalf("items = %d; want 3", items)
	}

	ambient := summary["ambient_temp_c"]
	if ambient.Min == nil || ambient.Max == nil || ambient.Avg == nil {
		t.Fatalf("ambient summary has nils: %+v", ambient)
	}
	if *ambient.Min != 10.0 || *ambient.Max != 30.0 || *ambient.Avg != 20.0 {
		t.Errorf("ambient = min %v max %v avg %v; want 10/30/20", *ambient.Min, *ambient.Max, *ambient.Avg)
	}

	// Fields absent from every document yield null min/max/avg.
	battery := summary["battery_pct"]
	if battery.Min != nil || battery.Max != nil || battery.Avg != nil {
		t.Errorf("battery summary = %+v; want all nil", battery)
	}
}

// Package service implements session-gated snapshot recording and the
// history/export/summary read operations over the telemetry store.
package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"tofyx-server/internal/modules/rover/repository"
	"tofyx-server/internal/modules/rover/types"
)

// ErrStoreUnavailable is returned by operations that need the store when no
// store was configured at startup.
var ErrStoreUnavailable = errors.New("telemetry store not configured")

// CSVHeader is the fixed export column set, in order.
var CSVHeader = []string{
	"timestamp",
	"ambient_temp_c",
	"surface_temp_c",
	"uv_index",
	"ir_mw_m2",
	"light_lux",
	"battery_pct",
	"battery_voltage",
	"pitch",
	"roll",
	"yaw",
	"lat",
	"lon",
	"speed_mps",
	"heading",
	"target_azimuth",
	"panel_azimuth",
	"danger_level",
	"created_at",
}

// csvPaths maps each CSV column (except created_at, which is store-assigned)
// to its path inside the snapshot document.
var csvPaths = [][]string{
	{"timestamp"},
	{"environment", "ambient_temp_c"},
	{"environment", "surface_temp_c"},
	{"environment", "uv_index"},
	{"environment", "ir_mw_m2"},
	{"environment", "light_lux"},
	{"power", "battery_pct"},
	{"power", "battery_voltage"},
	{"attitude", "pitch"},
	{"attitude", "roll"},
	{"attitude", "yaw"},
	{"navigation", "lat"},
	{"navigation", "lon"},
	{"navigation", "speed_mps"},
	{"navigation", "heading"},
	{"solar", "target_azimuth"},
	{"solar", "panel_azimuth"},
	{"danger_level"},
}

// summaryFields maps each tracked summary metric to its document path.
var summaryFields = map[string][]string{
	"ambient_temp_c": {"environment", "ambient_temp_c"},
	"surface_temp_c": {"environment", "surface_temp_c"},
	"uv_index":       {"environment", "uv_index"},
	"light_lux":      {"environment", "light_lux"},
	"battery_pct":    {"power", "battery_pct"},
	"speed_mps":      {"navigation", "speed_mps"},
}

// Service gates persistence on the active session and serves reads over
// stored documents. repo is nil when no store is configured; every store
// call is bounded by timeout.
type Service struct {
	repo    repository.RoverRepository
	timeout time.Duration
	now     func() time.Time
}

func New(repo repository.RoverRepository, timeout time.Duration) *Service {
	return &Service{repo: repo, timeout: timeout, now: time.Now}
}

// NewWithClock is New with an injected clock, for tests.
func NewWithClock(repo repository.RoverRepository, timeout time.Duration, now func() time.Time) *Service {
	return &Service{repo: repo, timeout: timeout, now: now}
}

// StoreConfigured reports whether the service has a backing store.
func (s *Service) StoreConfigured() bool { return s.repo != nil }

// StartSession deactivates any prior active session and opens a new one.
func (s *Service) StartSession(ctx context.Context, note string) (*types.Session, error) {
	if s.repo == nil {
		return nil, ErrStoreUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sess := &types.Session{
		ID:        uuid.NewString(),
		Active:    true,
		StartedAt: s.now().UTC(),
		Note:      note,
	}
	if err := s.repo.StartSession(ctx, sess.ID, sess.StartedAt, sess.Note); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	slog.Info("recording session started", "session_id", sess.ID)
	return sess, nil
}

// StopSession deactivates all active sessions. Calling with none active is a
// no-op success.
func (s *Service) StopSession(ctx context.Context) error {
	if s.repo == nil {
		return ErrStoreUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.repo.StopSessions(ctx, s.now().UTC()); err != nil {
		return fmt.Errorf("stop session: %w", err)
	}
	slog.Info("recording session stopped")
	return nil
}

// ActiveSession returns the active session or nil. Store errors are treated
// as "no active session": persistence is best-effort and must never block
// telemetry serving.
func (s *Service) ActiveSession(ctx context.Context) *types.Session {
	if s.repo == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sess, err := s.repo.ActiveSession(ctx)
	if err != nil {
		slog.Warn("active session lookup failed", "error", err)
		return nil
	}
	return sess
}

// RecordIfActive persists the snapshot when a session is active. All store
// errors are swallowed; the telemetry response succeeds regardless.
func (s *Service) RecordIfActive(ctx context.Context, snap types.Snapshot) {
	if s.ActiveSession(ctx) == nil {
		return
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		slog.Error("marshal snapshot", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.repo.InsertSnapshot(ctx, payload, s.now().UTC()); err != nil {
		slog.Warn("snapshot persist failed", "error", err)
	}
}

// History returns up to limit stored documents, newest-limited but in
// chronological order. minutes 0 means no recency filter.
func (s *Service) History(ctx context.Context, limit, minutes int) ([]types.StoredSnapshot, error) {
	rows, err := s.query(ctx, limit, minutes)
	if err != nil {
		return nil, err
	}

	out := make([]types.StoredSnapshot, 0, len(rows))
	// Repository returns newest first; walk backwards for ascending order.
	for i := len(rows) - 1; i >= 0; i-- {
		var item types.StoredSnapshot
		if err := json.Unmarshal(rows[i].Payload, &item.Snapshot); err != nil {
			slog.Warn("skipping undecodable telemetry document", "id", rows[i].ID, "error", err)
			continue
		}
		item.ID = strconv.FormatInt(rows[i].ID, 10)
		item.CreatedAt = rows[i].CreatedAt
		out = append(out, item)
	}
	return out, nil
}

// ExportCSV streams stored documents as CSV in chronological order and
// returns the number of data rows written. Missing fields become empty
// strings.
func (s *Service) ExportCSV(ctx context.Context, w io.Writer, limit, minutes int) (int, error) {
	rows, err := s.query(ctx, limit, minutes)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return 0, fmt.Errorf("write csv header: %w", err)
	}

	written := 0
	for i := len(rows) - 1; i >= 0; i-- {
		var doc map[string]any
		if err := json.Unmarshal(rows[i].Payload, &doc); err != nil {
			slog.Warn("skipping undecodable telemetry document", "id", rows[i].ID, "error", err)
			continue
		}
		record := make([]string, 0, len(CSVHeader))
		for _, path := range csvPaths {
			record = append(record, fieldString(doc, path))
		}
		record = append(record, rows[i].CreatedAt.UTC().Format(time.RFC3339Nano))
		if err := cw.Write(record); err != nil {
			return written, fmt.Errorf("write csv row: %w", err)
		}
		written++
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return written, fmt.Errorf("flush csv: %w", err)
	}
	slog.Info("csv export served", "rows", humanize.Comma(int64(written)))
	return written, nil
}

// Summary computes min/max/avg per tracked field over the window. Fields
// with no parseable samples yield null min/max/avg; an empty window yields
// zero items and an empty summary.
func (s *Service) Summary(ctx context.Context, minutes int) (int, map[string]types.FieldSummary, error) {
	rows, err := s.query(ctx, 0, minutes)
	if err != nil {
		return 0, nil, err
	}
	summary := map[string]types.FieldSummary{}
	if len(rows) == 0 {
		return 0, summary, nil
	}

	for name, path := range summaryFields {
		var (
			count    int
			sum      float64
			min, max float64
		)
		for _, row := range rows {
			var doc map[string]any
			if err := json.Unmarshal(row.Payload, &doc); err != nil {
				continue
			}
			v, ok := fieldNumber(doc, path)
			if !ok {
				continue
			}
			if count == 0 || v < min {
				min = v
			}
			if count == 0 || v > max {
				max = v
			}
			sum += v
			count++
		}
		if count == 0 {
			summary[name] = types.FieldSummary{}
			continue
		}
		avg := round2(sum / float64(count))
		minV, maxV := min, max
		summary[name] = types.FieldSummary{Min: &minV, Max: &maxV, Avg: &avg}
	}
	return len(rows), summary, nil
}

// Tables lists store tables for the connectivity diagnostic.
func (s *Service) Tables(ctx context.Context) ([]string, error) {
	if s.repo == nil {
		return nil, ErrStoreUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.Tables(ctx)
}

// query fetches up to limit documents (0 = no cap beyond the window),
// newest first. minutes 0 means no window.
func (s *Service) query(ctx context.Context, limit, minutes int) ([]types.StoredRow, error) {
	if s.repo == nil {
		return nil, ErrStoreUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	since := time.Time{}
	if minutes > 0 {
		since = s.now().UTC().Add(-time.Duration(minutes) * time.Minute)
	}
	if limit <= 0 {
		limit = -1 // no LIMIT in sqlite
	}
	return s.repo.Snapshots(ctx, since, limit)
}

func fieldString(doc map[string]any, path []string) string {
	v, ok := fieldValue(doc, path)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func fieldNumber(doc map[string]any, path []string) (float64, bool) {
	v, ok := fieldValue(doc, path)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func fieldValue(doc map[string]any, path []string) (any, bool) {
	cur := any(doc)
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

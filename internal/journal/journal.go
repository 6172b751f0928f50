// Package journal records restore runs, the id mappings they produced and
// which archived messages have been replayed where.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lherron/guildsnap/internal/db"
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Mapping kinds.
const (
	KindRole    = "role"
	KindChannel = "channel"
)

// ErrRunNotFound is returned for unknown run ids.
var ErrRunNotFound = errors.New("run not found")

// Run is one journaled restore.
type Run struct {
	ID           string          `json:"id" yaml:"id"`
	GuildID      string          `json:"guild_id" yaml:"guild_id"`
	SnapshotPath string          `json:"snapshot_path" yaml:"snapshot_path"`
	SnapshotRev  string          `json:"snapshot_rev" yaml:"snapshot_rev"`
	Status       string          `json:"status" yaml:"status"`
	StartedAt    string          `json:"started_at" yaml:"started_at"`
	FinishedAt   string          `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Summary      json.RawMessage `json:"summary,omitempty" yaml:"-"`
	Error        string          `json:"error,omitempty" yaml:"error,omitempty"`
}

// Journal is the run journal over a migrated database.
type Journal struct {
	db  *db.DB
	now func() time.Time
}

// New wraps a migrated database.
func New(database *db.DB) *Journal {
	return &Journal{db: database, now: time.Now}
}

func (j *Journal) timestamp() string {
	return j.now().UTC().Format("2006-01-02T15:04:05Z")
}

// BeginRun records the start of a restore and returns its id.
func (j *Journal) BeginRun(ctx context.Context, guildID, snapshotPath, rev string) (string, error) {
	id := uuid.NewString()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs (id, guild_id, snapshot_path, snapshot_rev, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, guildID, snapshotPath, rev, StatusRunning, j.timestamp())
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	return id, nil
}

// FinishRun stores the outcome of a run. summary is marshaled to JSON; a
// non-nil runErr marks the run failed.
func (j *Journal) FinishRun(ctx context.Context, runID string, summary any, runErr error) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}

	status := StatusCompleted
	var errText sql.NullString
	if runErr != nil {
		status = StatusFailed
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}

	res, err := j.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, finished_at = ?, summary = ?, error = ?
		WHERE id = ?
	`, status, j.timestamp(), string(payload), errText, runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

// SaveMappings stores source-to-target ids of one kind for a run.
func (j *Journal) SaveMappings(ctx context.Context, runID, kind string, mapping map[string]string) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO id_mappings (run_id, kind, source_id, target_id) VALUES (?, ?, ?, ?)
		ON CONFLICT (run_id, kind, source_id) DO UPDATE SET target_id = excluded.target_id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare mapping insert: %w", err)
	}
	defer stmt.Close()

	for src, dst := range mapping {
		if _, err := stmt.ExecContext(ctx, runID, kind, src, dst); err != nil {
			return fmt.Errorf("failed to save %s mapping %s: %w", kind, src, err)
		}
	}
	return tx.Commit()
}

// Mappings returns the ids of one kind saved for a run.
func (j *Journal) Mappings(ctx context.Context, runID, kind string) (map[string]string, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT source_id, target_id FROM id_mappings WHERE run_id = ? AND kind = ?
	`, runID, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to query mappings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var src, dst string
		if err := rows.Scan(&src, &dst); err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		out[src] = dst
	}
	return out, rows.Err()
}

// Runs lists runs newest first, optionally for one guild. limit <= 0
// returns all.
func (j *Journal) Runs(ctx context.Context, guildID string, limit int) ([]Run, error) {
	query := `
		SELECT id, guild_id, snapshot_path, snapshot_rev, status, started_at,
		       finished_at, summary, error
		FROM runs`
	var args []any
	if guildID != "" {
		query += " WHERE guild_id = ?"
		args = append(args, guildID)
	}
	query += " ORDER BY started_at DESC, rowid DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns one run.
func (j *Journal) GetRun(ctx context.Context, runID string) (Run, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT id, guild_id, snapshot_path, snapshot_rev, status, started_at,
		       finished_at, summary, error
		FROM runs WHERE id = ?
	`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var (
		r                       Run
		finished, summary, errT sql.NullString
	)
	if err := s.Scan(&r.ID, &r.GuildID, &r.SnapshotPath, &r.SnapshotRev, &r.Status, &r.StartedAt, &finished, &summary, &errT); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("failed to scan run: %w", err)
	}
	r.FinishedAt = finished.String
	r.Error = errT.String
	if summary.Valid && summary.String != "" {
		r.Summary = json.RawMessage(summary.String)
	}
	return r, nil
}

// Ledger is the replayed-message ledger attributed to one run.
type Ledger struct {
	j     *Journal
	runID string
}

// Ledger returns a replay ledger that attributes new entries to runID.
func (j *Journal) Ledger(runID string) *Ledger {
	return &Ledger{j: j, runID: runID}
}

// Replayed reports whether messageID was already posted into channelID.
func (l *Ledger) Replayed(ctx context.Context, channelID, messageID string) (bool, error) {
	var n int
	err := l.j.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM replayed_messages WHERE channel_id = ? AND message_id = ?
	`, channelID, messageID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query ledger: %w", err)
	}
	return n > 0, nil
}

// MarkReplayed records that messageID was posted into channelID.
func (l *Ledger) MarkReplayed(ctx context.Context, channelID, messageID string) error {
	var runID sql.NullString
	if l.runID != "" {
		runID = sql.NullString{String: l.runID, Valid: true}
	}
	_, err := l.j.db.ExecContext(ctx, `
		INSERT INTO replayed_messages (channel_id, message_id, run_id, replayed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (channel_id, message_id) DO NOTHING
	`, channelID, messageID, runID, l.j.timestamp())
	if err != nil {
		return fmt.Errorf("failed to update ledger: %w", err)
	}
	return nil
}

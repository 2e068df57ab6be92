// Package store persists the governance state layout: the live-action
// set, per-candidate approvals, voter records, etched slates, the leader
// reference, and the stake balances backing the in-process stake ledger.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/tiller/pkg/contracts"
	"github.com/Mindburn-Labs/tiller/pkg/election"
)

// Store is the sqlite-backed persistence layer. It implements
// timelock.ActionStore and election.StateStore.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return New(db)
}

// New wraps an existing database handle and runs migrations.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS actions (
		action_id      TEXT PRIMARY KEY,
		target         TEXT NOT NULL,
		scheduled_time TEXT NOT NULL,
		planned_at     TEXT NOT NULL,
		planned_by     TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS voters (
		address  TEXT PRIMARY KEY,
		locked   INTEGER NOT NULL,
		slate_id TEXT NOT NULL DEFAULT ''
	);
	CREATE TABLE IF NOT EXISTS approvals (
		candidate TEXT PRIMARY KEY,
		approval  INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS slates (
		slate_id  TEXT NOT NULL,
		position  INTEGER NOT NULL,
		candidate TEXT NOT NULL,
		PRIMARY KEY (slate_id, position)
	);
	CREATE TABLE IF NOT EXISTS leader (
		id      INTEGER PRIMARY KEY CHECK (id = 1),
		address TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS balances (
		address TEXT PRIMARY KEY,
		balance INTEGER NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// PutAction stores a live planned action.
func (s *Store) PutAction(ctx context.Context, action contracts.Action) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO actions (action_id, target, scheduled_time, planned_at, planned_by) VALUES (?, ?, ?, ?, ?)`,
		action.ID,
		string(action.Target),
		action.ScheduledTime.UTC().Format(time.RFC3339Nano),
		action.PlannedAt.UTC().Format(time.RFC3339Nano),
		string(action.PlannedBy),
	)
	return err
}

// RemoveAction removes a consumed (executed or dropped) action.
func (s *Store) RemoveAction(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM actions WHERE action_id = ?`, id)
	return err
}

// LiveActions returns all persisted planned actions.
func (s *Store) LiveActions(ctx context.Context) ([]contracts.Action, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT action_id, target, scheduled_time, planned_at, planned_by FROM actions`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var actions []contracts.Action
	for rows.Next() {
		var a contracts.Action
		var target, scheduled, planned, by string
		if err := rows.Scan(&a.ID, &target, &scheduled, &planned, &by); err != nil {
			return nil, err
		}
		a.Target = contracts.Address(target)
		a.PlannedBy = contracts.Address(by)
		if a.ScheduledTime, err = time.Parse(time.RFC3339Nano, scheduled); err != nil {
			return nil, fmt.Errorf("parse scheduled_time for %s: %w", a.ID, err)
		}
		if a.PlannedAt, err = time.Parse(time.RFC3339Nano, planned); err != nil {
			return nil, fmt.Errorf("parse planned_at for %s: %w", a.ID, err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// PutVoter upserts a voter record.
func (s *Store) PutVoter(ctx context.Context, rec election.VoterRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO voters (address, locked, slate_id) VALUES (?, ?, ?)
		 ON CONFLICT(address) DO UPDATE SET locked = excluded.locked, slate_id = excluded.slate_id`,
		string(rec.Address), int64(rec.Locked), rec.SlateID,
	)
	return err
}

// PutApprovals upserts candidate approval weights in one transaction.
func (s *Store) PutApprovals(ctx context.Context, recs []election.ApprovalRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO approvals (candidate, approval) VALUES (?, ?)
			 ON CONFLICT(candidate) DO UPDATE SET approval = excluded.approval`,
			string(rec.Candidate), int64(rec.Approval),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// PutSlate stores an etched slate's ordered candidates.
func (s *Store) PutSlate(ctx context.Context, id string, candidates []contracts.Address) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM slates WHERE slate_id = ?`, id); err != nil {
		_ = tx.Rollback()
		return err
	}
	for i, c := range candidates {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO slates (slate_id, position, candidate) VALUES (?, ?, ?)`,
			id, i, string(c),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// SetLeader upserts the single leader reference.
func (s *Store) SetLeader(ctx context.Context, leader contracts.Address) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO leader (id, address) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET address = excluded.address`,
		string(leader),
	)
	return err
}

// Leader returns the persisted leader reference (AddressNone if unset).
func (s *Store) Leader(ctx context.Context) (contracts.Address, error) {
	var addr string
	err := s.db.QueryRowContext(ctx, `SELECT address FROM leader WHERE id = 1`).Scan(&addr)
	if err == sql.ErrNoRows {
		return contracts.AddressNone, nil
	}
	if err != nil {
		return contracts.AddressNone, err
	}
	return contracts.Address(addr), nil
}

// Voters returns all persisted voter records.
func (s *Store) Voters(ctx context.Context) ([]election.VoterRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT address, locked, slate_id FROM voters`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []election.VoterRecord
	for rows.Next() {
		var rec election.VoterRecord
		var addr string
		var locked int64
		if err := rows.Scan(&addr, &locked, &rec.SlateID); err != nil {
			return nil, err
		}
		rec.Address = contracts.Address(addr)
		rec.Locked = uint64(locked)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Approvals returns all persisted approval records.
func (s *Store) Approvals(ctx context.Context) ([]election.ApprovalRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT candidate, approval FROM approvals`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []election.ApprovalRecord
	for rows.Next() {
		var rec election.ApprovalRecord
		var candidate string
		var approval int64
		if err := rows.Scan(&candidate, &approval); err != nil {
			return nil, err
		}
		rec.Candidate = contracts.Address(candidate)
		rec.Approval = uint64(approval)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Slates returns all persisted slates keyed by slate id.
func (s *Store) Slates(ctx context.Context) (map[string][]contracts.Address, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT slate_id, candidate FROM slates ORDER BY slate_id, position`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]contracts.Address)
	for rows.Next() {
		var id, candidate string
		if err := rows.Scan(&id, &candidate); err != nil {
			return nil, err
		}
		out[id] = append(out[id], contracts.Address(candidate))
	}
	return out, rows.Err()
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"

	"github.com/oranchan/Meme/internal/domain"
	"github.com/oranchan/Meme/internal/fees"
)

const feeStateKey = "fee_state"

// Journal persists applied transfers and the fee accumulator state in SQLite.
type Journal struct {
	db *sql.DB
}

// NewJournal opens (or creates) the journal database with WAL mode enabled.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	// Metadata KV holds the fee accumulator state between runs.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS transfers (
			seq INTEGER PRIMARY KEY,
			id TEXT NOT NULL,
			from_acct TEXT NOT NULL,
			to_acct TEXT NOT NULL,
			context INTEGER NOT NULL,
			amount INTEGER NOT NULL,
			fee INTEGER NOT NULL,
			net INTEGER NOT NULL,
			ts INTEGER NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create transfers table: %w", err)
	}

	return &Journal{db: db}, nil
}

// SaveTransfer appends an applied transfer.
func (j *Journal) SaveTransfer(ctx context.Context, rcpt domain.Receipt) error {
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO transfers (seq, id, from_acct, to_acct, context, amount, fee, net, ts) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		rcpt.Seq, rcpt.ID.String(), string(rcpt.From), string(rcpt.To),
		int(rcpt.Context), int64(rcpt.Amount), int64(rcpt.Fee), int64(rcpt.Net), rcpt.TsUnix,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transfer: %w", err)
	}
	return nil
}

// LoadTransfers returns all applied transfers from fromSeq (inclusive) in
// order.
func (j *Journal) LoadTransfers(ctx context.Context, fromSeq uint64) ([]domain.Receipt, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT seq, id, from_acct, to_acct, context, amount, fee, net, ts FROM transfers WHERE seq >= ? ORDER BY seq ASC",
		fromSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var out []domain.Receipt
	for rows.Next() {
		var (
			rcpt     domain.Receipt
			id       string
			from, to string
			tctx     int
			amt      int64
			fee, net int64
		)
		if err := rows.Scan(&rcpt.Seq, &id, &from, &to, &tctx, &amt, &fee, &net, &rcpt.TsUnix); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("failed to parse transfer id %q: %w", id, err)
		}
		rcpt.ID = parsed
		rcpt.From = domain.Address(from)
		rcpt.To = domain.Address(to)
		rcpt.Context = domain.Context(tctx)
		rcpt.Amount = domain.Units(amt)
		rcpt.Fee = domain.Units(fee)
		rcpt.Net = domain.Units(net)
		out = append(out, rcpt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return out, nil
}

// LastSeq returns the highest journaled sequence, 0 if empty.
func (j *Journal) LastSeq(ctx context.Context) (uint64, error) {
	var last sql.NullInt64
	if err := j.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM transfers").Scan(&last); err != nil {
		return 0, fmt.Errorf("failed to get last seq: %w", err)
	}
	if !last.Valid {
		return 0, nil
	}
	return uint64(last.Int64), nil
}

type feeState struct {
	Buckets fees.Buckets `json:"buckets"`
	LastFee domain.Units `json:"last_fee"`
}

// SaveFeeState persists the bucket totals and the last computed fee.
func (j *Journal) SaveFeeState(ctx context.Context, buckets fees.Buckets, lastFee domain.Units, ts int64) error {
	payload, err := json.Marshal(feeState{Buckets: buckets, LastFee: lastFee})
	if err != nil {
		return fmt.Errorf("failed to marshal fee state: %w", err)
	}
	return j.upsertMetadata(ctx, feeStateKey, string(payload), ts)
}

// LoadFeeState restores the bucket totals and last fee. Zero values if the
// journal has never seen a fee.
func (j *Journal) LoadFeeState(ctx context.Context) (fees.Buckets, domain.Units, error) {
	value, err := j.getMetadata(ctx, feeStateKey)
	if err != nil {
		return fees.Buckets{}, 0, err
	}
	if value == "" {
		return fees.Buckets{}, 0, nil
	}
	var st feeState
	if err := json.Unmarshal([]byte(value), &st); err != nil {
		return fees.Buckets{}, 0, fmt.Errorf("failed to unmarshal fee state: %w", err)
	}
	return st.Buckets, st.LastFee, nil
}

func (j *Journal) upsertMetadata(ctx context.Context, key, value string, ts int64) error {
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO metadata (key, value, updated_at) VALUES (?, ?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at",
		key, value, ts,
	)
	return err
}

func (j *Journal) getMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := j.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

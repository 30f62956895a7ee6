package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"railgate/internal/intent/models"
	"railgate/pkg/domain"
	"railgate/pkg/platform/sentinel"
)

// Store persists payment intents in PostgreSQL. This store is pure I/O: all
// transition logic runs inside the Execute callbacks, which the store runs
// under SELECT ... FOR UPDATE so per-intent mutations are serialized across
// instances.
type Store struct {
	db *sql.DB
}

// New constructs a PostgreSQL-backed intent store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the payment_intents table when it does not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS payment_intents (
			id                  UUID PRIMARY KEY,
			rail                TEXT NOT NULL,
			reference_amount    NUMERIC NOT NULL,
			settlement_amount   NUMERIC NOT NULL,
			account_reference   TEXT NOT NULL,
			destination_address TEXT NOT NULL,
			rail_reference      TEXT NOT NULL DEFAULT '',
			state               TEXT NOT NULL,
			evidence            JSONB,
			evidence_notes      JSONB,
			seen_tx_ids         TEXT[] NOT NULL DEFAULT '{}',
			reject_reason       TEXT NOT NULL DEFAULT '',
			created_at          TIMESTAMPTZ NOT NULL,
			expires_at          TIMESTAMPTZ NOT NULL,
			updated_at          TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS payment_intents_pending_idx
			ON payment_intents (rail) WHERE state = 'RAIL_PENDING';
	`)
	if err != nil {
		return fmt.Errorf("migrate payment_intents: %w", err)
	}
	return nil
}

const intentColumns = `id, rail, reference_amount, settlement_amount, account_reference,
	destination_address, rail_reference, state, evidence, evidence_notes,
	seen_tx_ids, reject_reason, created_at, expires_at, updated_at`

func (s *Store) Create(ctx context.Context, intent *models.PaymentIntent) error {
	evidence, notes, err := encodeJSON(intent)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payment_intents (`+intentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		intent.ID.String(), string(intent.Rail), intent.ReferenceAmount, intent.SettlementAmount,
		intent.AccountReference, intent.DestinationAddress, intent.RailReference,
		string(intent.State), evidence, notes, pq.Array(intent.SeenTxIDs),
		intent.RejectReason, intent.CreatedAt, intent.ExpiresAt, intent.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("intent %s already exists: %w", intent.ID, sentinel.ErrConflict)
		}
		return fmt.Errorf("insert intent: %w", err)
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id domain.IntentID) (*models.PaymentIntent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id.String())
	intent, err := scanIntent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("intent %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("find intent: %w", err)
	}
	return intent, nil
}

func (s *Store) ListPending(ctx context.Context, rail models.Rail) ([]*models.PaymentIntent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE rail = $1 AND state = $2`,
		string(rail), string(models.StateRailPending))
	if err != nil {
		return nil, fmt.Errorf("list pending intents: %w", err)
	}
	defer rows.Close()

	var pending []*models.PaymentIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending intent: %w", err)
		}
		pending = append(pending, intent)
	}
	return pending, rows.Err()
}

// Execute runs validate then mutate against the current row inside a
// transaction holding a row lock, then writes the result back. The row lock
// is the per-intent exclusivity rule; it is released on every exit path by
// the deferred rollback or the commit.
func (s *Store) Execute(
	ctx context.Context,
	id domain.IntentID,
	validate func(*models.PaymentIntent) error,
	mutate func(*models.PaymentIntent),
) (*models.PaymentIntent, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin intent tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE id = $1 FOR UPDATE`, id.String())
	intent, err := scanIntent(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("intent %s: %w", id, sentinel.ErrNotFound)
		}
		return nil, fmt.Errorf("lock intent: %w", err)
	}

	if validate != nil {
		if err := validate(intent); err != nil {
			return nil, err
		}
	}
	if mutate != nil {
		mutate(intent)
	}

	evidence, notes, err := encodeJSON(intent)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE payment_intents SET
			rail_reference = $2, state = $3, evidence = $4, evidence_notes = $5,
			seen_tx_ids = $6, reject_reason = $7, updated_at = $8
		WHERE id = $1
	`,
		intent.ID.String(), intent.RailReference, string(intent.State),
		evidence, notes, pq.Array(intent.SeenTxIDs), intent.RejectReason, intent.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update intent: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit intent tx: %w", err)
	}
	return intent, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIntent(row rowScanner) (*models.PaymentIntent, error) {
	var (
		intent   models.PaymentIntent
		rawID    string
		rail     string
		state    string
		evidence []byte
		notes    []byte
	)
	err := row.Scan(
		&rawID, &rail, &intent.ReferenceAmount, &intent.SettlementAmount,
		&intent.AccountReference, &intent.DestinationAddress, &intent.RailReference,
		&state, &evidence, &notes, pq.Array(&intent.SeenTxIDs),
		&intent.RejectReason, &intent.CreatedAt, &intent.ExpiresAt, &intent.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	id, err := domain.ParseIntentID(rawID)
	if err != nil {
		return nil, fmt.Errorf("stored intent id invalid: %w", err)
	}
	intent.ID = id
	intent.Rail = models.Rail(rail)
	intent.State = models.State(state)
	if len(evidence) > 0 {
		intent.Evidence = &models.RailEvidence{}
		if err := json.Unmarshal(evidence, intent.Evidence); err != nil {
			return nil, fmt.Errorf("decode stored evidence: %w", err)
		}
	}
	if len(notes) > 0 {
		if err := json.Unmarshal(notes, &intent.EvidenceNotes); err != nil {
			return nil, fmt.Errorf("decode stored evidence notes: %w", err)
		}
	}
	return &intent, nil
}

func encodeJSON(intent *models.PaymentIntent) (evidence, notes []byte, err error) {
	if intent.Evidence != nil {
		evidence, err = json.Marshal(intent.Evidence)
		if err != nil {
			return nil, nil, fmt.Errorf("encode evidence: %w", err)
		}
	}
	if len(intent.EvidenceNotes) > 0 {
		notes, err = json.Marshal(intent.EvidenceNotes)
		if err != nil {
			return nil, nil, fmt.Errorf("encode evidence notes: %w", err)
		}
	}
	return evidence, notes, nil
}

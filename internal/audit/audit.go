// Package audit keeps the append-only trail of state transitions.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/vasiliy-maslov/fulfillment-service/internal/db"
	"github.com/vasiliy-maslov/fulfillment-service/internal/state"
)

// TransitionRecord is created on every successful transition and never
// mutated or deleted.
type TransitionRecord struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	EntityKind state.Kind `json:"entity_kind" db:"entity_kind"`
	EntityID   uuid.UUID  `json:"entity_id" db:"entity_id"`
	FromState  string     `json:"from_state" db:"from_state"`
	ToState    string     `json:"to_state" db:"to_state"`
	Actor      string     `json:"actor" db:"actor"`
	Note       string     `json:"note,omitempty" db:"note"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

type Repository interface {
	Record(ctx context.Context, q db.Querier, rec *TransitionRecord) error
	// ListByEntityIDs returns the combined trail for the given entities
	// (typically an order and its payment), oldest first.
	ListByEntityIDs(ctx context.Context, q db.Querier, entityIDs []uuid.UUID) ([]TransitionRecord, error)
}

type postgresRepository struct{}

func NewRepository() Repository {
	return &postgresRepository{}
}

func (r *postgresRepository) Record(ctx context.Context, q db.Querier, rec *TransitionRecord) error {
	if rec.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("repository: failed to generate transition record ID: %w", err)
		}
		rec.ID = id
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO fulfillment.state_transitions (id, entity_kind, entity_id, from_state, to_state, actor, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := q.Exec(ctx, query,
		rec.ID,
		string(rec.EntityKind),
		rec.EntityID,
		rec.FromState,
		rec.ToState,
		rec.Actor,
		rec.Note,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert transition record for %s %s: %w", rec.EntityKind, rec.EntityID, err)
	}

	return nil
}

func (r *postgresRepository) ListByEntityIDs(ctx context.Context, q db.Querier, entityIDs []uuid.UUID) ([]TransitionRecord, error) {
	query := `
		SELECT id, entity_kind, entity_id, from_state, to_state, actor, note, created_at
		FROM fulfillment.state_transitions
		WHERE entity_id = ANY($1)
		ORDER BY created_at ASC
	`

	rows, err := q.Query(ctx, query, entityIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query transition records: %w", err)
	}
	defer rows.Close()

	records := make([]TransitionRecord, 0)
	for rows.Next() {
		var rec TransitionRecord
		err := rows.Scan(
			&rec.ID,
			&rec.EntityKind,
			&rec.EntityID,
			&rec.FromState,
			&rec.ToState,
			&rec.Actor,
			&rec.Note,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan transition record: %w", err)
		}
		records = append(records, rec)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating transition records: %w", err)
	}

	return records, nil
}

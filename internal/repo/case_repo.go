package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/flowcase/internal/domain"
)

// CaseRepo — репозиторий case (таблица flow_case).
type CaseRepo struct {
	pool *pgxpool.Pool
}

// NewCaseRepo создаёт новый CaseRepo.
func NewCaseRepo(pool *pgxpool.Pool) *CaseRepo {
	return &CaseRepo{pool: pool}
}

const caseColumns = `id, case_type, external_id, params, assets, callback, created, finished, state, response`

// Insert создаёт case.
func (r *CaseRepo) Insert(ctx context.Context, c *domain.Case) error {
	assetsJSON, err := json.Marshal(c.Assets)
	if err != nil {
		return fmt.Errorf("marshal assets: %w", err)
	}
	var callbackJSON []byte
	if c.Callback != nil {
		if callbackJSON, err = json.Marshal(c.Callback); err != nil {
			return fmt.Errorf("marshal callback: %w", err)
		}
	}

	query := `
		INSERT INTO flow_case (id, case_type, external_id, params, assets, callback, created, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.pool.Exec(ctx, query,
		c.ID,
		c.CaseType,
		nullString(c.ExternalID),
		nullJSON(c.Params),
		assetsJSON,
		callbackJSON,
		c.Created,
		c.State,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

// UpdateState переводит незавершённый case в состояние state.
func (r *CaseRepo) UpdateState(ctx context.Context, id uuid.UUID, state domain.CaseState) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE flow_case SET state = $2 WHERE id = $1 AND finished IS NULL
	`, id, state)
	if err != nil {
		return fmt.Errorf("update case state: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.missingOrFinished(ctx, id)
	}
	return nil
}

// Finish завершает case с состоянием state и ответом response.
func (r *CaseRepo) Finish(ctx context.Context, id uuid.UUID, state domain.CaseState, response json.RawMessage) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE flow_case SET finished = now(), state = $2, response = $3
		WHERE id = $1 AND finished IS NULL
	`, id, state, nullJSON(response))
	if err != nil {
		return fmt.Errorf("finish case: %w", err)
	}
	if result.RowsAffected() == 0 {
		return r.missingOrFinished(ctx, id)
	}
	return nil
}

// GetByID возвращает case по ID.
func (r *CaseRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Case, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+caseColumns+` FROM flow_case WHERE id = $1`, id)

	var (
		c                                  domain.Case
		externalID                         *string
		params, assets, callback, response []byte
	)
	err := row.Scan(
		&c.ID,
		&c.CaseType,
		&externalID,
		&params,
		&assets,
		&callback,
		&c.Created,
		&c.Finished,
		&c.State,
		&response,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan case: %w", err)
	}

	if externalID != nil {
		c.ExternalID = *externalID
	}
	c.Params = params
	c.Response = response
	if assets != nil {
		if err := json.Unmarshal(assets, &c.Assets); err != nil {
			return nil, fmt.Errorf("unmarshal assets: %w", err)
		}
	}
	if callback != nil {
		if err := json.Unmarshal(callback, &c.Callback); err != nil {
			return nil, fmt.Errorf("unmarshal callback: %w", err)
		}
	}
	return &c, nil
}

// ListUnfinishedIDs возвращает ID всех незавершённых case.
func (r *CaseRepo) ListUnfinishedIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM flow_case WHERE finished IS NULL ORDER BY created ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list unfinished cases: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *CaseRepo) missingOrFinished(ctx context.Context, id uuid.UUID) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM flow_case WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check case: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidState
}

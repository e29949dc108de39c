package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/farm-photos/internal/domain/model"
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn транзакция откатывается, при успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// photoColumns — колонки photo_submissions для INSERT.
const photoColumns = `id, submitter_id, submitter_name, farm_id, mime_type, size_bytes,
	description, content_hash, storage_handle, quality_score, state,
	submitted_at, decided_at, reviewed_by, reviewer_note,
	deletion_requested_at, deletion_requested_by, deletion_reason,
	purge_deadline, purged_at, bytes_removed_at, version, updated_at`

// selectColumns — колонки для SELECT в порядке scanPhoto.
const selectColumns = `id::text, submitter_id, submitter_name, farm_id, mime_type, size_bytes,
	description, content_hash, storage_handle, quality_score, state,
	submitted_at, decided_at, reviewed_by, reviewer_note,
	deletion_requested_at, deletion_requested_by, deletion_reason,
	purge_deadline, purged_at, bytes_removed_at, version, updated_at`

// PostgresRepository — PhotoRepository на PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
	tx *TxRunner
}

// NewPostgresRepository создаёт репозиторий записей.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: pool, tx: NewTxRunner(pool)}
}

// Create реализует PhotoRepository.
func (r *PostgresRepository) Create(ctx context.Context, p *model.PhotoSubmission) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.SubmittedAt
	}

	return r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO photo_submissions (`+photoColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
				$16, $17, $18, $19, $20, $21, 1, $22)`,
			p.ID, p.SubmitterID, p.SubmitterName, p.FarmID, p.MimeType, p.SizeBytes,
			p.Description, p.ContentHash, p.StorageHandle, p.QualityScore, p.State,
			p.SubmittedAt, p.DecidedAt, p.ReviewedBy, p.ReviewerNote,
			p.DeletionRequestedAt, p.DeletionRequestedBy, p.DeletionReason,
			p.PurgeDeadline, p.PurgedAt, p.BytesRemovedAt, p.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: ферма %s", ErrDuplicate, p.FarmID)
			}
			return fmt.Errorf("ошибка создания записи: %w", err)
		}

		if err := insertTransition(ctx, tx, model.TransitionRecord{
			PhotoID:   p.ID,
			To:        p.State,
			Actor:     p.SubmitterID,
			Timestamp: p.SubmittedAt,
		}); err != nil {
			return err
		}
		p.Version = 1
		return nil
	})
}

// Get реализует PhotoRepository.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*model.PhotoSubmission, error) {
	row := r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM photo_submissions WHERE id = $1`, id)
	p, err := scanPhoto(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи: %w", err)
	}
	return p, nil
}

// Version реализует PhotoRepository.
func (r *PostgresRepository) Version(ctx context.Context, id string) (int64, error) {
	var version int64
	err := r.db.QueryRow(ctx, `SELECT version FROM photo_submissions WHERE id = $1`, id).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("ошибка получения версии записи: %w", err)
	}
	return version, nil
}

// Update реализует PhotoRepository.
func (r *PostgresRepository) Update(ctx context.Context, p *model.PhotoSubmission, rec *model.TransitionRecord) error {
	return r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		var newVersion int64
		err := tx.QueryRow(ctx, `
			UPDATE photo_submissions SET
				quality_score = $3, state = $4, decided_at = $5, reviewed_by = $6,
				reviewer_note = $7, deletion_requested_at = $8, deletion_requested_by = $9,
				deletion_reason = $10, purge_deadline = $11, purged_at = $12,
				bytes_removed_at = $13, updated_at = $14, version = version + 1
			WHERE id = $1 AND version = $2
			RETURNING version`,
			p.ID, p.Version,
			p.QualityScore, p.State, p.DecidedAt, p.ReviewedBy,
			p.ReviewerNote, p.DeletionRequestedAt, p.DeletionRequestedBy,
			p.DeletionReason, p.PurgeDeadline, p.PurgedAt,
			p.BytesRemovedAt, p.UpdatedAt,
		).Scan(&newVersion)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return r.missOrConflict(ctx, tx, p)
			}
			if isInvalidText(err) {
				return ErrNotFound
			}
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: ферма %s", ErrDuplicate, p.FarmID)
			}
			return fmt.Errorf("ошибка обновления записи: %w", err)
		}

		if rec != nil {
			if err := insertTransition(ctx, tx, *rec); err != nil {
				return err
			}
		}
		p.Version = newVersion
		return nil
	})
}

// missOrConflict различает отсутствие записи и несовпадение версии.
func (r *PostgresRepository) missOrConflict(ctx context.Context, db DBTX, p *model.PhotoSubmission) error {
	var current int64
	err := db.QueryRow(ctx, `SELECT version FROM photo_submissions WHERE id = $1`, p.ID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка проверки версии: %w", err)
	}
	return fmt.Errorf("%w: запись %s, версия %d, ожидалась %d", ErrVersionConflict, p.ID, current, p.Version)
}

// List реализует PhotoRepository.
func (r *PostgresRepository) List(ctx context.Context, f Filter) ([]*model.PhotoSubmission, error) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if len(f.States) > 0 {
		states := make([]string, len(f.States))
		for i, st := range f.States {
			states[i] = string(st)
		}
		conds = append(conds, "state = ANY("+arg(states)+")")
	}
	if f.FarmID != "" {
		conds = append(conds, "farm_id = "+arg(f.FarmID))
	}
	if f.ContentHash != "" {
		conds = append(conds, "content_hash = "+arg(f.ContentHash))
	}
	if f.DeadlineAfter != nil {
		conds = append(conds, "purge_deadline > "+arg(*f.DeadlineAfter))
	}
	if f.DeadlineAtOrBefore != nil {
		conds = append(conds, "purge_deadline <= "+arg(*f.DeadlineAtOrBefore))
	}
	if f.BytesPending {
		conds = append(conds, "bytes_removed_at IS NULL")
	}
	if f.UpdatedBefore != nil {
		conds = append(conds, "updated_at < "+arg(*f.UpdatedBefore))
	}

	query := `SELECT ` + selectColumns + ` FROM photo_submissions`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY " + orderClause(f.Order)
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка записей: %w", err)
	}
	defer rows.Close()

	var result []*model.PhotoSubmission
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// CountByState реализует PhotoRepository.
func (r *PostgresRepository) CountByState(ctx context.Context) (map[model.State]int, error) {
	rows, err := r.db.Query(ctx, `SELECT state, COUNT(*) FROM photo_submissions GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.State]int, len(model.AllStates))
	for rows.Next() {
		var (
			st    string
			count int
		)
		if err := rows.Scan(&st, &count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования счётчика: %w", err)
		}
		counts[model.State(st)] = count
	}
	return counts, rows.Err()
}

// Transitions реализует PhotoRepository.
func (r *PostgresRepository) Transitions(ctx context.Context, photoID string) ([]model.TransitionRecord, error) {
	if _, err := r.Get(ctx, photoID); err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT photo_id::text, from_state, to_state, actor, at
		FROM photo_transitions
		WHERE photo_id = $1
		ORDER BY at, id`, photoID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения истории переходов: %w", err)
	}
	defer rows.Close()

	var result []model.TransitionRecord
	for rows.Next() {
		var (
			rec      model.TransitionRecord
			from, to string
		)
		if err := rows.Scan(&rec.PhotoID, &from, &to, &rec.Actor, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("ошибка сканирования перехода: %w", err)
		}
		rec.From = model.State(from)
		rec.To = model.State(to)
		result = append(result, rec)
	}
	return result, rows.Err()
}

func insertTransition(ctx context.Context, db DBTX, rec model.TransitionRecord) error {
	_, err := db.Exec(ctx, `
		INSERT INTO photo_transitions (photo_id, from_state, to_state, actor, at)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.PhotoID, string(rec.From), string(rec.To), rec.Actor, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("ошибка записи истории перехода: %w", err)
	}
	return nil
}

func orderClause(o Order) string {
	switch o {
	case OrderSubmittedAsc:
		return "submitted_at ASC, id"
	case OrderDeletionRequestedAsc:
		return "deletion_requested_at ASC NULLS FIRST, id"
	case OrderPurgeDeadlineAsc:
		return "purge_deadline ASC NULLS FIRST, id"
	default:
		return "submitted_at DESC, id"
	}
}

// scanPhoto сканирует строку в PhotoSubmission (порядок selectColumns).
func scanPhoto(row pgx.Row) (*model.PhotoSubmission, error) {
	p := &model.PhotoSubmission{}
	var state string
	err := row.Scan(
		&p.ID, &p.SubmitterID, &p.SubmitterName, &p.FarmID, &p.MimeType, &p.SizeBytes,
		&p.Description, &p.ContentHash, &p.StorageHandle, &p.QualityScore, &state,
		&p.SubmittedAt, &p.DecidedAt, &p.ReviewedBy, &p.ReviewerNote,
		&p.DeletionRequestedAt, &p.DeletionRequestedBy, &p.DeletionReason,
		&p.PurgeDeadline, &p.PurgedAt, &p.BytesRemovedAt, &p.Version, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.State = model.State(state)
	return p, nil
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// isInvalidText — ID не является корректным UUID.
func isInvalidText(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "22P02" // invalid_text_representation
	}
	return false
}

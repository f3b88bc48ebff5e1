package repositories

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"edcomposer/internal/compositions"
	"edcomposer/internal/httpkit"
	"edcomposer/internal/models"
	"edcomposer/internal/pkg/errors"
)

// CompositionSchema creates the table read by CompositionRepository.
const CompositionSchema = `
CREATE TABLE IF NOT EXISTS compositions (
	id                 text PRIMARY KEY,
	description        text NOT NULL DEFAULT '',
	width              integer NOT NULL,
	height             integer NOT NULL,
	fps                integer NOT NULL,
	duration_in_frames integer NOT NULL,
	default_props      jsonb NOT NULL DEFAULT '{}'::jsonb,
	required_props     text[] NOT NULL DEFAULT '{}',
	created_at         timestamptz NOT NULL DEFAULT now(),
	deleted_at         timestamptz
)`

// CompositionRepository is the Postgres compositions.Store.
type CompositionRepository struct {
	db *pgxpool.Pool
}

var _ compositions.Store = (*CompositionRepository)(nil)

func NewCompositionRepository(db *pgxpool.Pool) *CompositionRepository {
	return &CompositionRepository{db: db}
}

// EnsureSchema creates the compositions table when it is missing.
func (r *CompositionRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, CompositionSchema); err != nil {
		return errors.Wrap(err, "compositions.schema", "create compositions table")
	}
	return nil
}

// Create inserts c and fills in CreatedAt. A soft-deleted row still holds
// its id.
func (r *CompositionRepository) Create(ctx context.Context, c *models.Composition) error {
	if err := c.Validate(); err != nil {
		return err
	}
	defaults, err := json.Marshal(nonNil(c.DefaultProps))
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeValidation, "compositions.create", "encode default props")
	}

	err = r.db.QueryRow(ctx, `
		INSERT INTO compositions (id, description, width, height, fps, duration_in_frames, default_props, required_props)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at
	`, c.ID, c.Description, c.Width, c.Height, c.FPS, c.DurationInFrames, defaults, nonNilStrings(c.RequiredProps)).Scan(&c.CreatedAt)
	if err != nil {
		if httpkit.IsUniqueViolation(err) {
			return compositions.ErrExists
		}
		return errors.Wrap(err, "compositions.create", "insert composition")
	}
	return nil
}

func (r *CompositionRepository) List(ctx context.Context) ([]models.Composition, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, description, width, height, fps, duration_in_frames, default_props, required_props, created_at
		FROM compositions
		WHERE deleted_at IS NULL
		ORDER BY id
	`)
	if err != nil {
		if httpkit.IsUndefinedTable(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "compositions.list", "query compositions")
	}
	defer rows.Close()

	var out []models.Composition
	for rows.Next() {
		c, err := scanComposition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "compositions.list", "iterate compositions")
	}
	return out, nil
}

func (r *CompositionRepository) Get(ctx context.Context, id string) (models.Composition, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, description, width, height, fps, duration_in_frames, default_props, required_props, created_at
		FROM compositions
		WHERE id=$1 AND deleted_at IS NULL
	`, id)

	c, err := scanComposition(row)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) || httpkit.IsUndefinedTable(err) {
			return models.Composition{}, errors.NotFound("composition", id)
		}
		return models.Composition{}, err
	}
	return c, nil
}

// Delete soft-deletes id.
func (r *CompositionRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `
		UPDATE compositions
		SET deleted_at=now()
		WHERE id=$1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return errors.Wrap(err, "compositions.delete", "delete composition")
	}
	if cmd.RowsAffected() == 0 {
		return errors.NotFound("composition", id)
	}
	return nil
}

func scanComposition(row pgx.Row) (models.Composition, error) {
	var (
		c        models.Composition
		defaults []byte
	)
	if err := row.Scan(
		&c.ID,
		&c.Description,
		&c.Width,
		&c.Height,
		&c.FPS,
		&c.DurationInFrames,
		&defaults,
		&c.RequiredProps,
		&c.CreatedAt,
	); err != nil {
		return models.Composition{}, err
	}

	c.DefaultProps = make(map[string]any)
	if len(defaults) > 0 {
		if err := json.Unmarshal(defaults, &c.DefaultProps); err != nil {
			return models.Composition{}, errors.Wrapf(err, "compositions.scan", "invalid default props for %s", c.ID)
		}
	}
	return c, nil
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

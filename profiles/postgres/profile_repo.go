package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	autherrors "github.com/jrsteele09/go-fitness-auth/internal/errors"
	"github.com/jrsteele09/go-fitness-auth/profiles"
	pkgerrors "github.com/pkg/errors"
)

var _ profiles.Repo = (*ProfileRepo)(nil)

// Querier is the subset of *pgxpool.Pool the repo uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type ProfileRepo struct {
	db      Querier
	nowTime func() time.Time
}

func NewProfileRepo(db Querier) *ProfileRepo {
	return &ProfileRepo{db: db, nowTime: time.Now}
}

// Migrate applies Schema.
func (r *ProfileRepo) Migrate(ctx context.Context) error {
	_, err := r.db.Exec(ctx, Schema)
	return pkgerrors.Wrap(err, "migrate profiles")
}

func (r *ProfileRepo) Get(ctx context.Context, id string) (*profiles.Profile, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, email, name, language, phone, created_at, updated_at
		 FROM profiles
		 WHERE id = $1`,
		id)

	var p profiles.Profile
	err := row.Scan(&p.ID, &p.Email, &p.Name, &p.Language, &p.Phone, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, autherrors.ErrNotFound
		}
		return nil, pkgerrors.Wrap(err, "select profile")
	}
	return &p, nil
}

func (r *ProfileRepo) Create(ctx context.Context, p *profiles.Profile) (bool, error) {
	now := r.nowTime().UTC()
	language := p.Language
	if language == "" {
		language = profiles.DefaultLanguage
	}
	tag, err := r.db.Exec(ctx,
		`INSERT INTO profiles (id, email, name, language, phone, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		p.ID, p.Email, p.Name, language, p.Phone, now, now,
	)
	if err != nil {
		return false, pkgerrors.Wrap(err, "insert profile")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *ProfileRepo) Update(ctx context.Context, id string, u profiles.Update) (*profiles.Profile, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE profiles
		 SET name = $2, language = $3, phone = $4, updated_at = $5
		 WHERE id = $1
		 RETURNING id, email, name, language, phone, created_at, updated_at`,
		id, u.Name(), u.LanguageOrDefault(), u.Phone, r.nowTime().UTC())

	var p profiles.Profile
	err := row.Scan(&p.ID, &p.Email, &p.Name, &p.Language, &p.Phone, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, autherrors.ErrNotFound
		}
		return nil, pkgerrors.Wrap(err, "update profile")
	}
	return &p, nil
}

package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rcbudget.org/internal/access"
	"rcbudget.org/internal/ids"
)

// AccessStore implements access.Store over Postgres. db is nil when the
// store is a transactional view; WithinTx then nests flatly.
type AccessStore struct {
	db *sql.DB
	q  querier
}

var _ access.Store = (*AccessStore)(nil)

func (s *AccessStore) WithinTx(ctx context.Context, fn func(access.Store) error) error {
	if s.db == nil {
		return fn(s)
	}
	return runTx(ctx, s.db, func(tx *sql.Tx) error {
		return fn(&AccessStore{q: tx})
	})
}

func (s *AccessStore) CreateCentre(ctx context.Context, centre *access.ResponsibilityCentre) error {
	if centre.ID == "" {
		centre.ID = ids.New()
	}
	if centre.CreatedAt.IsZero() {
		centre.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, `
		insert into centres (id, name, description, owner_id, shared, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, centre.ID, centre.Name, nullIfEmpty(centre.Description), centre.OwnerID, centre.Shared, centre.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return access.ErrConflict
			case pgErrForeignKeyViolation:
				return fmt.Errorf("%w: owner %s", access.ErrNotFound, centre.OwnerID)
			}
		}
		return err
	}
	return nil
}

func (s *AccessStore) Centre(ctx context.Context, id string) (access.ResponsibilityCentre, error) {
	var (
		centre access.ResponsibilityCentre
		desc   sql.NullString
	)
	err := s.q.QueryRowContext(ctx, `
		select id, name, description, owner_id, shared, created_at
		from centres
		where id = $1
	`, id).Scan(&centre.ID, &centre.Name, &desc, &centre.OwnerID, &centre.Shared, &centre.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return access.ResponsibilityCentre{}, fmt.Errorf("%w: centre %s", access.ErrNotFound, id)
	}
	if err != nil {
		return access.ResponsibilityCentre{}, err
	}
	if desc.Valid {
		centre.Description = desc.String
	}
	return centre, nil
}

func (s *AccessStore) ListCentres(ctx context.Context) ([]access.ResponsibilityCentre, error) {
	rows, err := s.q.QueryContext(ctx, `
		select id, name, description, owner_id, shared, created_at
		from centres
		order by id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []access.ResponsibilityCentre
	for rows.Next() {
		var (
			centre access.ResponsibilityCentre
			desc   sql.NullString
		)
		if err := rows.Scan(&centre.ID, &centre.Name, &desc, &centre.OwnerID, &centre.Shared, &centre.CreatedAt); err != nil {
			return nil, err
		}
		if desc.Valid {
			centre.Description = desc.String
		}
		result = append(result, centre)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *AccessStore) SetCentreOwner(ctx context.Context, centreID, userID string) error {
	res, err := s.q.ExecContext(ctx, `update centres set owner_id = $2 where id = $1`, centreID, userID)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return fmt.Errorf("%w: user %s", access.ErrNotFound, userID)
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: centre %s", access.ErrNotFound, centreID)
	}
	return nil
}

func (s *AccessStore) CreateUser(ctx context.Context, u *access.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, `
		insert into users (id, username, display_name, password_hash, created_at)
		values ($1, $2, $3, $4, $5)
	`, u.ID, u.Username, nullIfEmpty(u.DisplayName), nullIfEmpty(u.PasswordHash), u.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return access.ErrConflict
		}
		return err
	}
	return nil
}

func (s *AccessStore) UserByID(ctx context.Context, id string) (access.User, error) {
	return s.scanUser(s.q.QueryRowContext(ctx, `
		select id, username, display_name, password_hash, created_at
		from users
		where id = $1
	`, id), id)
}

func (s *AccessStore) UserByUsername(ctx context.Context, username string) (access.User, error) {
	return s.scanUser(s.q.QueryRowContext(ctx, `
		select id, username, display_name, password_hash, created_at
		from users
		where lower(username) = lower($1)
	`, username), username)
}

func (s *AccessStore) scanUser(row *sql.Row, ref string) (access.User, error) {
	var (
		u    access.User
		name sql.NullString
		hash sql.NullString
	)
	err := row.Scan(&u.ID, &u.Username, &name, &hash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return access.User{}, fmt.Errorf("%w: user %s", access.ErrNotFound, ref)
	}
	if err != nil {
		return access.User{}, err
	}
	if name.Valid {
		u.DisplayName = name.String
	}
	if hash.Valid {
		u.PasswordHash = hash.String
	}
	return u, nil
}

const grantColumns = `id, centre_id, level, user_id, principal_identifier, principal_type, principal_display_name, granted_by, created_at`

func (s *AccessStore) Grants(ctx context.Context, centreID string) ([]access.Grant, error) {
	rows, err := s.q.QueryContext(ctx, `
		select `+grantColumns+`
		from grants
		where centre_id = $1
		order by id
	`, centreID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []access.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *AccessStore) Grant(ctx context.Context, id string) (access.Grant, error) {
	rows, err := s.q.QueryContext(ctx, `
		select `+grantColumns+`
		from grants
		where id = $1
	`, id)
	if err != nil {
		return access.Grant{}, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return access.Grant{}, err
		}
		return access.Grant{}, fmt.Errorf("%w: grant %s", access.ErrNotFound, id)
	}
	return scanGrant(rows)
}

func scanGrant(rows *sql.Rows) (access.Grant, error) {
	var (
		g           access.Grant
		userID      sql.NullString
		identifier  sql.NullString
		ptype       sql.NullString
		displayName sql.NullString
		grantedBy   sql.NullString
	)
	if err := rows.Scan(&g.ID, &g.CentreID, &g.Level, &userID, &identifier, &ptype, &displayName, &grantedBy, &g.CreatedAt); err != nil {
		return access.Grant{}, err
	}
	if userID.Valid {
		g.UserID = userID.String
	}
	if identifier.Valid {
		g.PrincipalIdentifier = identifier.String
	}
	if ptype.Valid {
		g.PrincipalType = access.PrincipalType(ptype.String)
	}
	if displayName.Valid {
		g.PrincipalDisplayName = displayName.String
	}
	if grantedBy.Valid {
		g.GrantedBy = grantedBy.String
	}
	return g, nil
}

func (s *AccessStore) CreateGrant(ctx context.Context, g *access.Grant) error {
	if g.ID == "" {
		g.ID = ids.New()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, `
		insert into grants (id, centre_id, level, user_id, principal_identifier, principal_type, principal_display_name, granted_by, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, g.ID, g.CentreID, string(g.Level), nullIfEmpty(g.UserID), nullIfEmpty(g.PrincipalIdentifier),
		nullIfEmpty(string(g.PrincipalType)), nullIfEmpty(g.PrincipalDisplayName), nullIfEmpty(g.GrantedBy), g.CreatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return access.ErrAlreadyGranted
			case pgErrForeignKeyViolation:
				return fmt.Errorf("%w: centre %s", access.ErrNotFound, g.CentreID)
			}
		}
		return err
	}
	return nil
}

func (s *AccessStore) UpdateGrantLevel(ctx context.Context, id string, level access.Level) error {
	res, err := s.q.ExecContext(ctx, `update grants set level = $2 where id = $1`, id, string(level))
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: grant %s", access.ErrNotFound, id)
	}
	return nil
}

func (s *AccessStore) DeleteGrant(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `delete from grants where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return fmt.Errorf("%w: grant %s", access.ErrNotFound, id)
	}
	return nil
}

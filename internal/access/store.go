package access

import "context"

// Store describes persistence required by the access subsystem. WithinTx
// runs fn against a transactional view of the store; every mutation path
// in Service performs its invariant checks and writes inside one such
// transaction, so a check-then-act sequence cannot race another writer.
type Store interface {
	WithinTx(ctx context.Context, fn func(Store) error) error

	CreateCentre(ctx context.Context, centre *ResponsibilityCentre) error
	Centre(ctx context.Context, id string) (ResponsibilityCentre, error)
	ListCentres(ctx context.Context) ([]ResponsibilityCentre, error)
	SetCentreOwner(ctx context.Context, centreID, userID string) error

	CreateUser(ctx context.Context, u *User) error
	UserByID(ctx context.Context, id string) (User, error)
	UserByUsername(ctx context.Context, username string) (User, error)

	Grants(ctx context.Context, centreID string) ([]Grant, error)
	Grant(ctx context.Context, id string) (Grant, error)
	CreateGrant(ctx context.Context, g *Grant) error
	UpdateGrantLevel(ctx context.Context, id string, level Level) error
	DeleteGrant(ctx context.Context, id string) error
}

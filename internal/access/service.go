package access

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rcbudget.org/internal/directory"
	"rcbudget.org/internal/ids"
)

// Session identifies the acting user: the authenticated username plus the
// directory group identifiers asserted for this request.
type Session struct {
	Username string
	Groups   []string
}

// Service layers grant mutations over the store, enforcing the ownership
// invariants. Every mutation authorizes the acting session, validates,
// and writes inside one store transaction; nothing is persisted when a
// check fails.
type Service struct {
	store Store
	dir   directory.Directory
}

// NewService constructs the permission mutation service.
func NewService(store Store, dir directory.Directory) (*Service, error) {
	if store == nil {
		return nil, errors.New("access store is required")
	}
	if dir == nil {
		return nil, errors.New("directory is required")
	}
	return &Service{store: store, dir: dir}, nil
}

// EffectiveLevel resolves the session's rank on a centre.
func (s *Service) EffectiveLevel(ctx context.Context, centreID string, sess Session) (Level, bool, error) {
	centre, err := s.store.Centre(ctx, centreID)
	if err != nil {
		return "", false, err
	}
	user, grants, err := s.loadResolution(ctx, s.store, centre.ID, sess.Username)
	if err != nil {
		return "", false, err
	}
	level, ok := EffectiveLevel(centre, user, grants, sess.Username, sess.Groups)
	return level, ok, nil
}

// GrantUserAccess stores a grant for a single user. A locally known
// username becomes a direct-reference grant; anything else is validated
// against the directory and stored as an identifier-based USER grant.
func (s *Service) GrantUserAccess(ctx context.Context, centreID string, sess Session, identifier string, level Level) (Grant, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Grant{}, fmt.Errorf("%w: identifier is required", ErrInvalidInput)
	}
	if !level.Valid() {
		return Grant{}, fmt.Errorf("%w: unknown access level %q", ErrInvalidInput, level)
	}

	var created Grant
	err := s.store.WithinTx(ctx, func(tx Store) error {
		centre, err := tx.Centre(ctx, centreID)
		if err != nil {
			return err
		}
		if centre.Shared {
			return ErrSharedCentre
		}
		if err := s.requireOwner(ctx, tx, centre, sess); err != nil {
			return err
		}

		grant := Grant{
			ID:        ids.New(),
			CentreID:  centre.ID,
			Level:     level,
			GrantedBy: sess.Username,
		}
		user, err := tx.UserByUsername(ctx, identifier)
		switch {
		case err == nil:
			if user.ID == centre.OwnerID {
				if level != LevelOwner {
					return fmt.Errorf("%w: %s is the centre owner and cannot be granted a lower level", ErrInvalidInput, identifier)
				}
				return ErrAlreadyGranted
			}
			grant.UserID = user.ID
			grant.PrincipalDisplayName = user.DisplayName
		case errors.Is(err, ErrNotFound):
			entry, lerr := s.dir.Lookup(ctx, identifier)
			if lerr != nil {
				if errors.Is(lerr, directory.ErrNotFound) {
					return fmt.Errorf("%w: %s is not known to the directory", ErrInvalidInput, identifier)
				}
				return fmt.Errorf("directory lookup for %s: %w", identifier, lerr)
			}
			grant.PrincipalIdentifier = NormalizeIdentifier(identifier)
			grant.PrincipalType = PrincipalUser
			grant.PrincipalDisplayName = entry.DisplayName
		default:
			return err
		}

		if err := s.rejectDuplicate(ctx, tx, grant); err != nil {
			return err
		}
		if err := tx.CreateGrant(ctx, &grant); err != nil {
			return err
		}
		created = grant
		return nil
	})
	return created, err
}

// GrantGroupAccess stores an identifier-based grant for a security group
// or distribution list. Groups are accepted as asserted; no directory
// existence check is performed.
func (s *Service) GrantGroupAccess(ctx context.Context, centreID string, sess Session, identifier, displayName string, ptype PrincipalType, level Level) (Grant, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Grant{}, fmt.Errorf("%w: identifier is required", ErrInvalidInput)
	}
	if ptype != PrincipalGroup && ptype != PrincipalDistributionList {
		return Grant{}, fmt.Errorf("%w: principal type must be group or distribution_list", ErrInvalidInput)
	}
	if !level.Valid() {
		return Grant{}, fmt.Errorf("%w: unknown access level %q", ErrInvalidInput, level)
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = identifier
	}

	var created Grant
	err := s.store.WithinTx(ctx, func(tx Store) error {
		centre, err := tx.Centre(ctx, centreID)
		if err != nil {
			return err
		}
		if centre.Shared {
			return ErrSharedCentre
		}
		if err := s.requireOwner(ctx, tx, centre, sess); err != nil {
			return err
		}

		grant := Grant{
			ID:                   ids.New(),
			CentreID:             centre.ID,
			Level:                level,
			PrincipalIdentifier:  NormalizeIdentifier(identifier),
			PrincipalType:        ptype,
			PrincipalDisplayName: displayName,
			GrantedBy:            sess.Username,
		}
		if err := s.rejectDuplicate(ctx, tx, grant); err != nil {
			return err
		}
		if err := tx.CreateGrant(ctx, &grant); err != nil {
			return err
		}
		created = grant
		return nil
	})
	return created, err
}

// UpdatePermission changes the level of an existing grant, refusing any
// change that would strip the centre of its last owner-level principal.
func (s *Service) UpdatePermission(ctx context.Context, grantID string, sess Session, newLevel Level) error {
	if !newLevel.Valid() {
		return fmt.Errorf("%w: unknown access level %q", ErrInvalidInput, newLevel)
	}
	return s.store.WithinTx(ctx, func(tx Store) error {
		grant, centre, err := s.loadGrantAndCentre(ctx, tx, grantID)
		if err != nil {
			return err
		}
		if centre.Shared {
			return ErrSharedCentre
		}
		if err := s.requireOwner(ctx, tx, centre, sess); err != nil {
			return err
		}
		if grant.UserID != "" && grant.UserID == centre.OwnerID {
			return ErrOwnerGrant
		}
		if grant.Level == newLevel {
			return nil
		}
		if grant.Level == LevelOwner && newLevel != LevelOwner {
			if err := s.checkLastOwner(ctx, tx, centre, grant.ID); err != nil {
				return err
			}
		}
		return tx.UpdateGrantLevel(ctx, grant.ID, newLevel)
	})
}

// RevokeAccess deletes a grant, with the same owner protections as
// UpdatePermission.
func (s *Service) RevokeAccess(ctx context.Context, grantID string, sess Session) error {
	return s.store.WithinTx(ctx, func(tx Store) error {
		grant, centre, err := s.loadGrantAndCentre(ctx, tx, grantID)
		if err != nil {
			return err
		}
		if centre.Shared {
			return ErrSharedCentre
		}
		if err := s.requireOwner(ctx, tx, centre, sess); err != nil {
			return err
		}
		if grant.UserID != "" && grant.UserID == centre.OwnerID {
			return ErrOwnerGrant
		}
		if grant.Level == LevelOwner {
			if err := s.checkLastOwner(ctx, tx, centre, grant.ID); err != nil {
				return err
			}
		}
		return tx.DeleteGrant(ctx, grant.ID)
	})
}

// RelinquishOwnership reassigns the centre's owner of record to another
// owner-level principal. Only the current owner of record may call it.
// The whole handover is one transaction: the centre never has zero or two
// owners, even transiently.
func (s *Service) RelinquishOwnership(ctx context.Context, centreID string, sess Session) error {
	return s.store.WithinTx(ctx, func(tx Store) error {
		centre, err := tx.Centre(ctx, centreID)
		if err != nil {
			return err
		}
		if centre.Shared {
			return ErrSharedCentre
		}
		caller, err := tx.UserByUsername(ctx, sess.Username)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%w: only the centre owner of record may relinquish ownership", ErrUnauthorized)
			}
			return err
		}
		if caller.ID != centre.OwnerID {
			return fmt.Errorf("%w: only the centre owner of record may relinquish ownership", ErrUnauthorized)
		}

		grants, err := tx.Grants(ctx, centre.ID)
		if err != nil {
			return err
		}
		replacement, ok := pickReplacementOwner(grants)
		if !ok {
			return ErrNoReplacementOwner
		}

		newOwnerID := replacement.UserID
		if newOwnerID == "" {
			// Identifier-based USER grant: materialize the directory user.
			user := User{
				ID:          ids.New(),
				Username:    replacement.PrincipalIdentifier,
				DisplayName: replacement.PrincipalDisplayName,
			}
			if entry, lerr := s.dir.Lookup(ctx, replacement.PrincipalIdentifier); lerr == nil {
				user.DisplayName = entry.DisplayName
			}
			if err := tx.CreateUser(ctx, &user); err != nil {
				return err
			}
			newOwnerID = user.ID
		}

		if err := tx.SetCentreOwner(ctx, centre.ID, newOwnerID); err != nil {
			return err
		}
		// The replacement's explicit grant is now redundant; the outgoing
		// owner keeps write access through a fresh grant.
		if err := tx.DeleteGrant(ctx, replacement.ID); err != nil {
			return err
		}
		outgoing := Grant{
			ID:                   ids.New(),
			CentreID:             centre.ID,
			Level:                LevelReadWrite,
			UserID:               caller.ID,
			PrincipalDisplayName: caller.DisplayName,
			GrantedBy:            sess.Username,
		}
		return tx.CreateGrant(ctx, &outgoing)
	})
}

// pickReplacementOwner prefers an owner-level grant with a direct user
// reference, falling back to an identifier-based USER grant. Group and
// distribution-list grants cannot hold ownership of record.
func pickReplacementOwner(grants []Grant) (Grant, bool) {
	var fallback Grant
	var haveFallback bool
	for _, g := range grants {
		if g.Level != LevelOwner {
			continue
		}
		if g.UserID != "" {
			return g, true
		}
		if g.PrincipalType == PrincipalUser && !haveFallback {
			fallback = g
			haveFallback = true
		}
	}
	return fallback, haveFallback
}

func (s *Service) requireOwner(ctx context.Context, tx Store, centre ResponsibilityCentre, sess Session) error {
	user, grants, err := s.loadResolution(ctx, tx, centre.ID, sess.Username)
	if err != nil {
		return err
	}
	level, ok := EffectiveLevel(centre, user, grants, sess.Username, sess.Groups)
	if !ok || !level.IsOwner() {
		return fmt.Errorf("%w: owner access is required", ErrUnauthorized)
	}
	return nil
}

func (s *Service) loadResolution(ctx context.Context, tx Store, centreID, username string) (*User, []Grant, error) {
	var user *User
	u, err := tx.UserByUsername(ctx, username)
	switch {
	case err == nil:
		user = &u
	case errors.Is(err, ErrNotFound):
		// Directory-only session; resolution proceeds on identifiers.
	default:
		return nil, nil, err
	}
	grants, err := tx.Grants(ctx, centreID)
	if err != nil {
		return nil, nil, err
	}
	return user, grants, nil
}

func (s *Service) rejectDuplicate(ctx context.Context, tx Store, candidate Grant) error {
	grants, err := tx.Grants(ctx, candidate.CentreID)
	if err != nil {
		return err
	}
	for _, existing := range grants {
		if !existing.SamePrincipal(candidate) {
			continue
		}
		if existing.Level == candidate.Level {
			return ErrAlreadyGranted
		}
		return ErrLevelDiffers
	}
	return nil
}

// checkLastOwner rejects the change when removing owner rank from the
// grant would leave the centre without an owner-level principal.
func (s *Service) checkLastOwner(ctx context.Context, tx Store, centre ResponsibilityCentre, excludeGrantID string) error {
	grants, err := tx.Grants(ctx, centre.ID)
	if err != nil {
		return err
	}
	remaining := grants[:0:0]
	for _, g := range grants {
		if g.ID == excludeGrantID {
			continue
		}
		remaining = append(remaining, g)
	}
	if ownerCount(centre, remaining) < 1 {
		return ErrLastOwner
	}
	return nil
}

func (s *Service) loadGrantAndCentre(ctx context.Context, tx Store, grantID string) (Grant, ResponsibilityCentre, error) {
	grant, err := tx.Grant(ctx, grantID)
	if err != nil {
		return Grant{}, ResponsibilityCentre{}, err
	}
	centre, err := tx.Centre(ctx, grant.CentreID)
	if err != nil {
		return Grant{}, ResponsibilityCentre{}, err
	}
	return grant, centre, nil
}

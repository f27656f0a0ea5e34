package access

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"rcbudget.org/internal/directory"
)

type fixture struct {
	svc    *Service
	store  *Memory
	centre ResponsibilityCentre
	owner  User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := NewMemory()
	dir := directory.NewStatic(
		directory.Entry{Identifier: "vsmith", DisplayName: "Victoria Smith"},
		directory.Entry{Identifier: "jdoe", DisplayName: "Jane Doe"},
	)
	svc, err := NewService(store, dir)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	ctx := context.Background()
	owner := User{Username: "uowner", DisplayName: "Centre Owner"}
	if err := store.CreateUser(ctx, &owner); err != nil {
		t.Fatalf("create owner: %v", err)
	}
	centre := ResponsibilityCentre{Name: "Fleet Maintenance", OwnerID: owner.ID}
	if err := store.CreateCentre(ctx, &centre); err != nil {
		t.Fatalf("create centre: %v", err)
	}
	return &fixture{svc: svc, store: store, centre: centre, owner: owner}
}

func (f *fixture) ownerSession() Session { return Session{Username: f.owner.Username} }

func (f *fixture) grants(t *testing.T) []Grant {
	t.Helper()
	grants, err := f.store.Grants(context.Background(), f.centre.ID)
	if err != nil {
		t.Fatalf("list grants: %v", err)
	}
	return grants
}

func TestGrantUserAccessLocalUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := User{Username: "vlocal", DisplayName: "Vera Local"}
	if err := f.store.CreateUser(ctx, &v); err != nil {
		t.Fatal(err)
	}

	g, err := f.svc.GrantUserAccess(ctx, f.centre.ID, f.ownerSession(), "vlocal", LevelReadOnly)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if g.UserID != v.ID || g.PrincipalIdentifier != "" {
		t.Fatalf("expected direct-reference grant, got %+v", g)
	}

	level, ok, err := f.svc.EffectiveLevel(ctx, f.centre.ID, Session{Username: "vlocal"})
	if err != nil || !ok || level != LevelReadOnly {
		t.Fatalf("expected read_only for vlocal, got %q ok=%v err=%v", level, ok, err)
	}
}

func TestGrantUserAccessDirectoryUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g, err := f.svc.GrantUserAccess(ctx, f.centre.ID, f.ownerSession(), "VSmith", LevelReadWrite)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if g.UserID != "" || g.PrincipalIdentifier != "vsmith" || g.PrincipalType != PrincipalUser {
		t.Fatalf("expected identifier-based user grant, got %+v", g)
	}
	if g.PrincipalDisplayName != "Victoria Smith" {
		t.Fatalf("expected directory display name, got %q", g.PrincipalDisplayName)
	}

	if _, err := f.svc.GrantUserAccess(ctx, f.centre.ID, f.ownerSession(), "nobody", LevelReadOnly); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown directory identifier: want ErrInvalidInput, got %v", err)
	}
}

func TestGrantRequiresOwnerLevel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.GrantUserAccess(ctx, f.centre.ID, Session{Username: "vsmith"}, "jdoe", LevelReadOnly); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized, got %v", err)
	}

	// A read_write grantee still cannot manage permissions.
	if _, err := f.svc.GrantUserAccess(ctx, f.centre.ID, f.ownerSession(), "vsmith", LevelReadWrite); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.GrantUserAccess(ctx, f.centre.ID, Session{Username: "vsmith"}, "jdoe", LevelReadOnly); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized for read_write session, got %v", err)
	}

	// A second owner-level grantee can.
	if err := f.svc.RevokeAccess(ctx, f.grants(t)[0].ID, f.ownerSession()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.GrantUserAccess(ctx, f.centre.ID, f.ownerSession(), "vsmith", LevelOwner); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.GrantUserAccess(ctx, f.centre.ID, Session{Username: "vsmith"}, "jdoe", LevelReadOnly); err != nil {
		t.Fatalf("owner-level grantee should manage permissions: %v", err)
	}
}

func TestDuplicateGrantErrorsAreDistinct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.GrantUserAccess(ctx, f.centre.ID, f.ownerSession(), "vsmith", LevelReadOnly); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.GrantUserAccess(ctx, f.centre.ID, f.ownerSession(), "vsmith", LevelReadOnly); !errors.Is(err, ErrAlreadyGranted) {
		t.Fatalf("same level: want ErrAlreadyGranted, got %v", err)
	}
	if _, err := f.svc.GrantUserAccess(ctx, f.centre.ID, f.ownerSession(), "vsmith", LevelReadWrite); !errors.Is(err, ErrLevelDiffers) {
		t.Fatalf("different level: want ErrLevelDiffers, got %v", err)
	}
}

func TestGrantToCentreOwnerRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.GrantUserAccess(ctx, f.centre.ID, f.ownerSession(), f.owner.Username, LevelReadOnly); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("lower level for owner: want ErrInvalidInput, got %v", err)
	}
	if _, err := f.svc.GrantUserAccess(ctx, f.centre.ID, f.ownerSession(), f.owner.Username, LevelOwner); !errors.Is(err, ErrAlreadyGranted) {
		t.Fatalf("owner level for owner: want ErrAlreadyGranted, got %v", err)
	}
}

func TestGrantGroupAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, err := f.svc.GrantGroupAccess(ctx, f.centre.ID, f.ownerSession(), "Budget-Admins", "Budget Admins", PrincipalGroup, LevelReadWrite)
	if err != nil {
		t.Fatalf("grant group: %v", err)
	}
	if g.PrincipalIdentifier != "budget-admins" {
		t.Fatalf("identifier not normalized: %q", g.PrincipalIdentifier)
	}

	level, ok, err := f.svc.EffectiveLevel(ctx, f.centre.ID, Session{Username: "member", Groups: []string{"budget-admins"}})
	if err != nil || !ok || level != LevelReadWrite {
		t.Fatalf("group member resolution: got %q ok=%v err=%v", level, ok, err)
	}
	if _, ok, _ := f.svc.EffectiveLevel(ctx, f.centre.ID, Session{Username: "outsider"}); ok {
		t.Fatal("non-member must not resolve a level")
	}

	if _, err := f.svc.GrantGroupAccess(ctx, f.centre.ID, f.ownerSession(), "x", "", PrincipalUser, LevelReadOnly); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("principal type user via group path: want ErrInvalidInput, got %v", err)
	}
}

func TestUpdatePermissionLastOwnerProtection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, err := f.svc.GrantUserAccess(ctx, f.centre.ID, f.ownerSession(), "vsmith", LevelOwner)
	if err != nil {
		t.Fatal(err)
	}

	// Demoting the only explicit owner grant is fine while the owner of
	// record holds no grant of their own.
	if err := f.svc.UpdatePermission(ctx, g.ID, f.ownerSession(), LevelReadOnly); err != nil {
		t.Fatalf("demote with implicit owner present: %v", err)
	}
	if err := f.svc.UpdatePermission(ctx, g.ID, f.ownerSession(), LevelOwner); err != nil {
		t.Fatal(err)
	}

	// Hand ownership to vsmith, then the outgoing owner's fresh grant is
	// read_write and vsmith holds no explicit grant: demoting or revoking
	// nothing can strip owner rank here, but granting the old owner OWNER
	// and then demoting it must keep at least one owner-level principal.
	if err := f.svc.RelinquishOwnership(ctx, f.centre.ID, f.ownerSession()); err != nil {
		t.Fatal(err)
	}
	grants := f.grants(t)
	if len(grants) != 1 {
		t.Fatalf("expected one grant after handover, got %d", len(grants))
	}
	if err := f.svc.UpdatePermission(ctx, grants[0].ID, Session{Username: "vsmith"}, LevelOwner); err != nil {
		t.Fatal(err)
	}
	// grants[0] now carries OWNER for the old owner; vsmith is owner of
	// record without an explicit grant, so the demotion is allowed.
	if err := f.svc.UpdatePermission(ctx, grants[0].ID, Session{Username: "vsmith"}, LevelReadOnly); err != nil {
		t.Fatalf("demote beside implicit owner: %v", err)
	}
}

func TestUpdatePermissionOwnGrantOfOwnerRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := User{Username: "vlocal"}
	if err := f.store.CreateUser(ctx, &v); err != nil {
		t.Fatal(err)
	}
	g, err := f.svc.GrantUserAccess(ctx, f.centre.ID, f.ownerSession(), "vlocal", LevelOwner)
	if err != nil {
		t.Fatal(err)
	}
	// Give the owner of record an explicit grant by simulating older data.
	ownerGrant := Grant{CentreID: f.centre.ID, Level: LevelOwner, UserID: f.owner.ID}
	if err := f.store.CreateGrant(ctx, &ownerGrant); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.UpdatePermission(ctx, ownerGrant.ID, f.ownerSession(), LevelReadOnly); !errors.Is(err, ErrOwnerGrant) {
		t.Fatalf("mutating the owner-of-record grant: want ErrOwnerGrant, got %v", err)
	}
	if err := f.svc.RevokeAccess(ctx, ownerGrant.ID, f.ownerSession()); !errors.Is(err, ErrOwnerGrant) {
		t.Fatalf("revoking the owner-of-record grant: want ErrOwnerGrant, got %v", err)
	}
	_ = g
}

func TestRevokeLastOwnerGrantWithExplicitOwnerGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// vsmith is granted OWNER and takes ownership of record; afterwards
	// the old owner holds the only explicit owner-level grant.
	if _, err := f.svc.GrantUserAccess(ctx, f.centre.ID, f.ownerSession(), "vsmith", LevelOwner); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.RelinquishOwnership(ctx, f.centre.ID, f.ownerSession()); err != nil {
		t.Fatal(err)
	}
	grants := f.grants(t)
	if len(grants) != 1 || grants[0].Level != LevelReadWrite {
		t.Fatalf("expected single read_write grant for outgoing owner, got %+v", grants)
	}
	// Revoking it is fine; vsmith remains owner of record.
	if err := f.svc.RevokeAccess(ctx, grants[0].ID, Session{Username: "vsmith"}); err != nil {
		t.Fatal(err)
	}
	if got := f.grants(t); len(got) != 0 {
		t.Fatalf("expected no grants, got %+v", got)
	}
}

func TestRelinquishOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// No owner-level grant exists, so there is nobody to hand over to.
	if err := f.svc.RelinquishOwnership(ctx, f.centre.ID, f.ownerSession()); !errors.Is(err, ErrNoReplacementOwner) {
		t.Fatalf("want ErrNoReplacementOwner, got %v", err)
	}

	if _, err := f.svc.GrantUserAccess(ctx, f.centre.ID, f.ownerSession(), "vsmith", LevelOwner); err != nil {
		t.Fatal(err)
	}
	// Only the owner of record may relinquish.
	if err := f.svc.RelinquishOwnership(ctx, f.centre.ID, Session{Username: "vsmith"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner relinquish: want ErrUnauthorized, got %v", err)
	}

	if err := f.svc.RelinquishOwnership(ctx, f.centre.ID, f.ownerSession()); err != nil {
		t.Fatalf("relinquish: %v", err)
	}

	centre, err := f.store.Centre(ctx, f.centre.ID)
	if err != nil {
		t.Fatal(err)
	}
	newOwner, err := f.store.UserByUsername(ctx, "vsmith")
	if err != nil {
		t.Fatalf("replacement owner was not materialized: %v", err)
	}
	if centre.OwnerID != newOwner.ID {
		t.Fatalf("ownership not transferred: owner=%s want=%s", centre.OwnerID, newOwner.ID)
	}
	if newOwner.DisplayName != "Victoria Smith" {
		t.Fatalf("directory display name not carried over: %q", newOwner.DisplayName)
	}

	grants := f.grants(t)
	if len(grants) != 1 {
		t.Fatalf("expected exactly the outgoing owner's grant, got %+v", grants)
	}
	if grants[0].UserID != f.owner.ID || grants[0].Level != LevelReadWrite {
		t.Fatalf("outgoing owner grant wrong: %+v", grants[0])
	}

	level, ok, err := f.svc.EffectiveLevel(ctx, f.centre.ID, Session{Username: "vsmith"})
	if err != nil || !ok || level != LevelOwner {
		t.Fatalf("new owner resolution: got %q ok=%v err=%v", level, ok, err)
	}
	level, ok, err = f.svc.EffectiveLevel(ctx, f.centre.ID, f.ownerSession())
	if err != nil || !ok || level != LevelReadWrite {
		t.Fatalf("outgoing owner resolution: got %q ok=%v err=%v", level, ok, err)
	}
}

func TestRelinquishPrefersDirectUserGrant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	local := User{Username: "vlocal", DisplayName: "Vera Local"}
	if err := f.store.CreateUser(ctx, &local); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.GrantUserAccess(ctx, f.centre.ID, f.ownerSession(), "jdoe", LevelOwner); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.GrantUserAccess(ctx, f.centre.ID, f.ownerSession(), "vlocal", LevelOwner); err != nil {
		t.Fatal(err)
	}
	// A group at owner level is never a replacement candidate.
	if _, err := f.svc.GrantGroupAccess(ctx, f.centre.ID, f.ownerSession(), "admins", "", PrincipalGroup, LevelOwner); err != nil {
		t.Fatal(err)
	}

	if err := f.svc.RelinquishOwnership(ctx, f.centre.ID, f.ownerSession()); err != nil {
		t.Fatal(err)
	}
	centre, err := f.store.Centre(ctx, f.centre.ID)
	if err != nil {
		t.Fatal(err)
	}
	if centre.OwnerID != local.ID {
		t.Fatalf("expected direct-user grantee to win, owner=%s want=%s", centre.OwnerID, local.ID)
	}
}

func TestSharedCentrePermissionsImmutable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	shared := ResponsibilityCentre{Name: "Demo Centre", OwnerID: f.owner.ID, Shared: true}
	if err := f.store.CreateCentre(ctx, &shared); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.GrantUserAccess(ctx, shared.ID, f.ownerSession(), "vsmith", LevelReadOnly); !errors.Is(err, ErrSharedCentre) {
		t.Fatalf("grant on shared centre: want ErrSharedCentre, got %v", err)
	}
	if _, err := f.svc.GrantGroupAccess(ctx, shared.ID, f.ownerSession(), "admins", "", PrincipalGroup, LevelReadOnly); !errors.Is(err, ErrSharedCentre) {
		t.Fatalf("group grant on shared centre: want ErrSharedCentre, got %v", err)
	}
	if err := f.svc.RelinquishOwnership(ctx, shared.ID, f.ownerSession()); !errors.Is(err, ErrSharedCentre) {
		t.Fatalf("relinquish on shared centre: want ErrSharedCentre, got %v", err)
	}

	level, ok, err := f.svc.EffectiveLevel(ctx, shared.ID, Session{Username: "anyone"})
	if err != nil || !ok || level != LevelReadOnly {
		t.Fatalf("shared centre must read_only for everyone, got %q ok=%v err=%v", level, ok, err)
	}
}

func TestMutationFailureLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.GrantUserAccess(ctx, f.centre.ID, f.ownerSession(), "vsmith", LevelReadOnly); err != nil {
		t.Fatal(err)
	}
	before := f.grants(t)
	if _, err := f.svc.GrantUserAccess(ctx, f.centre.ID, f.ownerSession(), "vsmith", LevelReadWrite); !errors.Is(err, ErrLevelDiffers) {
		t.Fatal(err)
	}
	after := f.grants(t)
	if len(before) != len(after) {
		t.Fatalf("failed mutation changed state: %d -> %d grants", len(before), len(after))
	}
}

// Random mutation sequences must never leave a centre without an
// owner-level principal.
func TestOwnerCountNeverDropsToZero(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	ctx := context.Background()

	for trial := 0; trial < 25; trial++ {
		f := newFixture(t)
		sessions := []Session{
			f.ownerSession(),
			{Username: "vsmith"},
			{Username: "jdoe"},
		}
		levels := []Level{LevelOwner, LevelReadWrite, LevelReadOnly}
		identifiers := []string{"vsmith", "jdoe", f.owner.Username}

		for step := 0; step < 60; step++ {
			sess := sessions[rnd.Intn(len(sessions))]
			switch rnd.Intn(4) {
			case 0:
				_, _ = f.svc.GrantUserAccess(ctx, f.centre.ID, sess, identifiers[rnd.Intn(len(identifiers))], levels[rnd.Intn(len(levels))])
			case 1:
				grants := f.grants(t)
				if len(grants) > 0 {
					g := grants[rnd.Intn(len(grants))]
					_ = f.svc.UpdatePermission(ctx, g.ID, sess, levels[rnd.Intn(len(levels))])
				}
			case 2:
				grants := f.grants(t)
				if len(grants) > 0 {
					g := grants[rnd.Intn(len(grants))]
					_ = f.svc.RevokeAccess(ctx, g.ID, sess)
				}
			default:
				_ = f.svc.RelinquishOwnership(ctx, f.centre.ID, sess)
			}

			centre, err := f.store.Centre(ctx, f.centre.ID)
			if err != nil {
				t.Fatal(err)
			}
			if centre.OwnerID == "" {
				t.Fatalf("trial %d step %d: centre lost its owner of record", trial, step)
			}
			if ownerCount(centre, f.grants(t)) < 1 {
				t.Fatalf("trial %d step %d: no owner-level principal remains", trial, step)
			}
		}
	}
}

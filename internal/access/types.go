package access

import (
	"strings"
	"time"
)

// Level is an access rank on a responsibility centre.
type Level string

const (
	LevelOwner     Level = "owner"
	LevelReadWrite Level = "read_write"
	LevelReadOnly  Level = "read_only"
)

// Rank orders levels for most-generous-wins resolution.
func (l Level) Rank() int {
	switch l {
	case LevelOwner:
		return 3
	case LevelReadWrite:
		return 2
	case LevelReadOnly:
		return 1
	default:
		return 0
	}
}

// Valid reports whether l is one of the three known levels.
func (l Level) Valid() bool { return l.Rank() > 0 }

// CanEdit reports whether the level allows content mutation.
func (l Level) CanEdit() bool { return l == LevelOwner || l == LevelReadWrite }

// IsOwner reports whether the level carries management rights.
func (l Level) IsOwner() bool { return l == LevelOwner }

// PrincipalType distinguishes identifier-based grant principals.
type PrincipalType string

const (
	PrincipalUser             PrincipalType = "user"
	PrincipalGroup            PrincipalType = "group"
	PrincipalDistributionList PrincipalType = "distribution_list"
)

func (t PrincipalType) Valid() bool {
	switch t {
	case PrincipalUser, PrincipalGroup, PrincipalDistributionList:
		return true
	default:
		return false
	}
}

// User is a locally materialized account. Directory principals become
// Users lazily, the first time something needs a concrete reference.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	DisplayName  string    `json:"display_name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// ResponsibilityCentre is the top-level ownership and budget container.
// OwnerID always references exactly one User; ownership is transferred,
// never unset. Shared marks the universally readable demo centre whose
// permissions are immutable.
type ResponsibilityCentre struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"owner_id"`
	Shared      bool      `json:"shared"`
	CreatedAt   time.Time `json:"created_at"`
}

// Grant links a centre to a principal at one level. Exactly one of the
// two principal representations is populated: UserID for a resolved
// local user, or PrincipalIdentifier/PrincipalType for a directory
// principal not (yet) materialized locally.
type Grant struct {
	ID                   string        `json:"id"`
	CentreID             string        `json:"centre_id"`
	Level                Level         `json:"level"`
	UserID               string        `json:"user_id,omitempty"`
	PrincipalIdentifier  string        `json:"principal_identifier,omitempty"`
	PrincipalType        PrincipalType `json:"principal_type,omitempty"`
	PrincipalDisplayName string        `json:"principal_display_name,omitempty"`
	GrantedBy            string        `json:"granted_by,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
}

// Matches reports whether the grant names the given session: by resolved
// user id, by username for identifier-based user grants, or by asserted
// group membership for group and distribution-list grants.
func (g Grant) Matches(userID, username string, groups []string) bool {
	if g.UserID != "" {
		return userID != "" && g.UserID == userID
	}
	identifier := NormalizeIdentifier(g.PrincipalIdentifier)
	switch g.PrincipalType {
	case PrincipalUser:
		return identifier != "" && identifier == NormalizeIdentifier(username)
	case PrincipalGroup, PrincipalDistributionList:
		for _, grp := range groups {
			if identifier == NormalizeIdentifier(grp) {
				return true
			}
		}
	}
	return false
}

// SamePrincipal reports whether two grants name the same principal,
// used to enforce the one-grant-per-principal rule.
func (g Grant) SamePrincipal(other Grant) bool {
	if g.UserID != "" || other.UserID != "" {
		return g.UserID != "" && g.UserID == other.UserID
	}
	return g.PrincipalType == other.PrincipalType &&
		NormalizeIdentifier(g.PrincipalIdentifier) == NormalizeIdentifier(other.PrincipalIdentifier)
}

// NormalizeIdentifier canonicalizes directory identifiers for comparison.
func NormalizeIdentifier(identifier string) string {
	return strings.TrimSpace(strings.ToLower(identifier))
}

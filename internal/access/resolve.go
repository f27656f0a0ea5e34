package access

// EffectiveLevel resolves a session's access rank on a centre from every
// grant path that names it. It is a pure function over already-loaded
// rows: ownership fact, stored grants, and the group identifiers asserted
// by the session. Levels are never cached; group membership can change
// externally at any time, so resolution happens per call.
//
// Precedence:
//  1. the shared demo centre is readable by everyone and nothing more,
//  2. the centre owner of record is OWNER regardless of stored grants,
//  3. otherwise the most generous level among matching grants wins.
//
// The second return value is false when no grant path names the session.
func EffectiveLevel(centre ResponsibilityCentre, user *User, grants []Grant, username string, groups []string) (Level, bool) {
	if centre.Shared {
		return LevelReadOnly, true
	}
	userID := ""
	if user != nil {
		userID = user.ID
	}
	if userID != "" && userID == centre.OwnerID {
		return LevelOwner, true
	}

	var best Level
	for _, g := range grants {
		if g.CentreID != centre.ID {
			continue
		}
		if !g.Matches(userID, username, groups) {
			continue
		}
		if g.Level.Rank() > best.Rank() {
			best = g.Level
		}
	}
	if best.Rank() == 0 {
		return "", false
	}
	return best, true
}

// ownerCount returns the number of principals resolvable to OWNER rank:
// every owner-level grant, plus the implicit owner of record when it
// holds no explicit grant of its own.
func ownerCount(centre ResponsibilityCentre, grants []Grant) int {
	count := 0
	ownerHasGrant := false
	for _, g := range grants {
		if g.CentreID != centre.ID {
			continue
		}
		if g.UserID != "" && g.UserID == centre.OwnerID {
			ownerHasGrant = true
		}
		if g.Level == LevelOwner {
			count++
		}
	}
	if !ownerHasGrant {
		count++
	}
	return count
}

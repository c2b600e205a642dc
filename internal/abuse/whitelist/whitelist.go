// Package whitelist exempts configured users and groups from abuse
// detection entirely.
package whitelist

import "warden/internal/abuse/models"

// IsWhitelisted reports whether p's user id or any of its groups is listed
// in the snapshot.
func IsWhitelisted(p models.Principal, snap *models.Snapshot) bool {
	if snap == nil {
		return false
	}
	if p.UserID != "" {
		if _, ok := snap.WhitelistUsers[p.UserID]; ok {
			return true
		}
	}
	for _, g := range p.GroupIDs {
		if _, ok := snap.WhitelistGroups[g]; ok {
			return true
		}
	}
	return false
}

package permission

import "strings"

// Wildcard grants every permission.
const Wildcard = "*"

// DefaultGroup lists permissions every player has.
const DefaultGroup = "__default"

// Match reports whether the granted entry covers perm.
//
//	"*"         matches everything
//	"admin.*"   matches every permission starting with "admin"
//	"admin.ban" matches "admin.ban" in any case
func Match(entry, perm string) bool {
	if entry == Wildcard {
		return true
	}
	if !strings.HasSuffix(entry, Wildcard) {
		return strings.EqualFold(entry, perm)
	}
	prefix := strings.TrimSuffix(strings.TrimSuffix(entry, Wildcard), ".")
	return len(perm) >= len(prefix) && strings.EqualFold(perm[:len(prefix)], prefix)
}

func groupKey(name string) string { return strings.ToLower(name) }

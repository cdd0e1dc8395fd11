package shim

import (
	"path/filepath"
	"strings"

	"github.com/branchfs/branchfs/wire"
)

// matchAllowList decides whether exePath may attach. An empty list or a
// "*" entry allows everything. Otherwise an entry matches when it
// equals the executable's basename or is a substring of the full path,
// case-insensitively.
func matchAllowList(allow []string, exePath string) wire.AllowDecision {
	if len(allow) == 0 {
		return wire.AllowDecision{Allowed: true, Rule: ""}
	}
	base := strings.ToLower(filepath.Base(exePath))
	full := strings.ToLower(exePath)
	for _, entry := range allow {
		rule := strings.ToLower(strings.TrimSpace(entry))
		if rule == "" {
			continue
		}
		if rule == "*" || rule == base || strings.Contains(full, rule) {
			return wire.AllowDecision{Allowed: true, Rule: entry}
		}
	}
	return wire.AllowDecision{Allowed: false}
}

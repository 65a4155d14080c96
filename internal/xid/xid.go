package xid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random identifier such as "sale-3f2c...". The prefix keeps
// ids readable in logs and audit entries.
func New(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}

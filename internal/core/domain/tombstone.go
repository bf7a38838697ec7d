package domain

import (
	"strings"
)

// TombstoneTag identifies the kind of entity a tombstone refers to.
type TombstoneTag string

const (
	TombstoneDeleteReserve         TombstoneTag = "delete-reserve"
	TombstoneDeleteWithdrawalGroup TombstoneTag = "delete-withdrawal-group"
	TombstoneDeleteRefreshGroup    TombstoneTag = "delete-refresh-group"
	TombstoneDeletePurchase        TombstoneTag = "delete-purchase"
)

// Tombstone records the deletion of an entity, so that merging a backup
// never brings it back.
type Tombstone struct {
	ID string
}

// NewTombstone ...
func NewTombstone(tag TombstoneTag, entityID string) Tombstone {
	return Tombstone{ID: string(tag) + ":" + entityID}
}

// ParseTombstone splits a tombstone id into tag and entity id.
func ParseTombstone(id string) (TombstoneTag, string, bool) {
	chunks := strings.SplitN(id, ":", 2)
	if len(chunks) != 2 {
		return "", "", false
	}
	return TombstoneTag(chunks[0]), chunks[1], true
}

package event

import (
	"encoding/base64"
	"strings"
)

// EntityGUID renders an `account|INFRA|TYPE|base64(identifier)` entity reference.
// Params: accountID account identifier; entityType upper-case type; parts joined with ':' as identifier.
// Returns: GUID string.
func EntityGUID(accountID string, entityType string, parts ...string) string {
	identifier := strings.Join(parts, ":")
	encoded := base64.StdEncoding.EncodeToString([]byte(identifier))
	return accountID + "|INFRA|" + entityType + "|" + encoded
}

// entityGUIDFor picks identifier parts by kind: clusters use name:account, children cluster:account:id.
func entityGUIDFor(accountID string, entityType string, kind Kind, identifier string, parent string) string {
	if kind == Cluster || parent == "" {
		return EntityGUID(accountID, entityType, identifier, accountID)
	}
	return EntityGUID(accountID, entityType, parent, accountID, identifier)
}

package studiows

import (
	"sort"
	"strings"
)

const (
	ConversationTypeDM      = "dm"
	ConversationTypeProject = "project"

	dmPrefix      = "dm#"
	projectPrefix = "project#"
)

// CanonicalDMID sorts the two participant ids in a DM conversation id so both
// sides resolve to the same key regardless of who initiated.
func CanonicalDMID(conversationID string) string {
	ids := strings.Split(strings.TrimPrefix(conversationID, dmPrefix), "___")
	sort.Strings(ids)
	return dmPrefix + strings.Join(ids, "___")
}

// DMParticipants returns the two participant ids of a canonical DM
// conversation id.
func DMParticipants(conversationID string) (string, string) {
	ids := strings.SplitN(strings.TrimPrefix(conversationID, dmPrefix), "___", 2)
	if len(ids) < 2 {
		return ids[0], ""
	}
	return ids[0], ids[1]
}

// ProjectID strips the project prefix from a project conversation id.
func ProjectID(conversationID string) string {
	return strings.TrimPrefix(conversationID, projectPrefix)
}

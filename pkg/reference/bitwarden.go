package reference

import "github.com/google/uuid"

// BitwardenRef is a bare UUID identifying a Bitwarden Secrets Manager secret.
type BitwardenRef struct {
	ID uuid.UUID
}

func (r BitwardenRef) Backend() string { return "bitwarden" }
func (r BitwardenRef) String() string  { return r.ID.String() }

// parseBitwarden accepts a string iff it is, in its entirety, a valid UUID.
// Any other string (including "op://..." or "infisical://...", which are
// rejected earlier by Parse's scheme dispatch) falls through to
// UnknownFormat.
func parseBitwarden(raw string) (Reference, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, false
	}
	return BitwardenRef{ID: id}, true
}

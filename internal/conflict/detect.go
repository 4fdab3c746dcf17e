package conflict

import "time"

// Field names a reconcilable attribute of a note.
type Field string

const (
	FieldTitle   Field = "title"
	FieldContent Field = "content"
	FieldTags    Field = "tags"
)

// Conflict is the diff between the server's current record and an incoming
// edit of the same note.
type Conflict struct {
	ID       string          `json:"id"`
	Current  VersionedRecord `json:"current"`
	Incoming VersionedRecord `json:"incoming"`

	// CurrentEditor is the user submitting the incoming edit, and the one
	// credited with the resolution.
	CurrentEditor string `json:"current_editor"`
	// LastEditor wrote the version currently on the server.
	LastEditor   string    `json:"last_editor"`
	LastModified time.Time `json:"last_modified"`
}

// Detect compares the server's current record with an incoming one.
func Detect(current, incoming VersionedRecord) (Conflict, error) {
	if current.ID != incoming.ID {
		return Conflict{}, ErrIdentifierMismatch
	}
	return Conflict{
		ID:            current.ID,
		Current:       current,
		Incoming:      incoming,
		CurrentEditor: incoming.Editor,
		LastEditor:    current.Editor,
		LastModified:  current.LastModified,
	}, nil
}

// HasTitleConflict is an exact, case-sensitive comparison.
func (c Conflict) HasTitleConflict() bool {
	return c.Current.Title != c.Incoming.Title
}

// HasContentConflict is an exact comparison of the content body.
func (c Conflict) HasContentConflict() bool {
	return c.Current.Content != c.Incoming.Content
}

// HasTagConflict compares the tag sets.
func (c Conflict) HasTagConflict() bool {
	return !c.Current.Tags.Equal(c.Incoming.Tags)
}

// HasAnyConflict reports whether at least one field differs.
func (c Conflict) HasAnyConflict() bool {
	return c.HasTitleConflict() || c.HasContentConflict() || c.HasTagConflict()
}

// ConflictingFields lists differing fields in title, content, tags order.
func (c Conflict) ConflictingFields() []Field {
	var fields []Field
	if c.HasTitleConflict() {
		fields = append(fields, FieldTitle)
	}
	if c.HasContentConflict() {
		fields = append(fields, FieldContent)
	}
	if c.HasTagConflict() {
		fields = append(fields, FieldTags)
	}
	return fields
}

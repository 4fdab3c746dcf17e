package conflict

import "fmt"

// ResolutionChoice selects which side wins a conflicting field.
type ResolutionChoice string

const (
	KeepCurrent  ResolutionChoice = "keep_current"
	KeepIncoming ResolutionChoice = "keep_incoming"
	ManualMerge  ResolutionChoice = "manual_merge"
)

// ParseResolutionChoice validates a wire value. An empty string is keep_incoming.
func ParseResolutionChoice(s string) (ResolutionChoice, error) {
	switch ResolutionChoice(s) {
	case "", KeepIncoming:
		return KeepIncoming, nil
	case KeepCurrent, ManualMerge:
		return ResolutionChoice(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownChoice, s)
}

// Choices carries one choice per field. The zero value means keep_incoming.
type Choices struct {
	Title   ResolutionChoice `json:"title,omitempty"`
	Content ResolutionChoice `json:"content,omitempty"`
	Tags    ResolutionChoice `json:"tags,omitempty"`
}

// DefaultChoices keeps the incoming value for every field.
func DefaultChoices() Choices {
	return Choices{Title: KeepIncoming, Content: KeepIncoming, Tags: KeepIncoming}
}

// Overrides holds caller-supplied values for manual_merge fields.
// A nil pointer means no value was supplied.
type Overrides struct {
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
	Tags    *TagSet `json:"tags,omitempty"`
}

// Apply produces the resolved record for c. Fields without a detected
// conflict take the incoming value whatever the choice says.
func Apply(c Conflict, choices Choices, overrides Overrides) (ResolvedRecord, error) {
	out := ResolvedRecord{
		ID:      c.ID,
		Title:   c.Incoming.Title,
		Content: c.Incoming.Content,
		Tags:    c.Incoming.Tags,
		Editor:  c.CurrentEditor,
	}

	var missing []Field

	if c.HasTitleConflict() {
		v, ok, err := pick(choices.Title, c.Current.Title, c.Incoming.Title, overrides.Title)
		if err != nil {
			return ResolvedRecord{}, fmt.Errorf("title: %w", err)
		}
		if !ok {
			missing = append(missing, FieldTitle)
		}
		out.Title = v
	}

	if c.HasContentConflict() {
		v, ok, err := pick(choices.Content, c.Current.Content, c.Incoming.Content, overrides.Content)
		if err != nil {
			return ResolvedRecord{}, fmt.Errorf("content: %w", err)
		}
		if !ok {
			missing = append(missing, FieldContent)
		}
		out.Content = v
	}

	if c.HasTagConflict() {
		v, ok, err := pick(choices.Tags, c.Current.Tags, c.Incoming.Tags, overrides.Tags)
		if err != nil {
			return ResolvedRecord{}, fmt.Errorf("tags: %w", err)
		}
		if !ok {
			missing = append(missing, FieldTags)
		}
		out.Tags = v
	}

	if len(missing) > 0 {
		return ResolvedRecord{}, &MissingOverrideError{Fields: missing}
	}
	return out, nil
}

// pick returns ok=false when a manual merge has no override.
func pick[T any](choice ResolutionChoice, current, incoming T, override *T) (T, bool, error) {
	var zero T
	switch choice {
	case KeepCurrent:
		return current, true, nil
	case "", KeepIncoming:
		return incoming, true, nil
	case ManualMerge:
		if override == nil {
			return zero, false, nil
		}
		return *override, true, nil
	}
	return zero, false, fmt.Errorf("%w: %q", ErrUnknownChoice, choice)
}

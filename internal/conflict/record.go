// Package conflict reconciles concurrent edits of a note.
//
// The package is pure: Detect, Suggest and Apply are functions of their
// inputs, hold no shared state and never touch storage. Persisting the
// outcome is the caller's job.
package conflict

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// TagSet is a sorted list of unique, non-empty tag names.
type TagSet struct {
	tags []string
}

// NewTagSet builds a TagSet, trimming names and dropping blanks and duplicates.
func NewTagSet(names ...string) TagSet {
	seen := make(map[string]struct{}, len(names))
	tags := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		tags = append(tags, n)
	}
	sort.Strings(tags)
	return TagSet{tags: tags}
}

// Len returns the number of tags.
func (s TagSet) Len() int {
	return len(s.tags)
}

// Slice returns a copy of the tags in sorted order.
func (s TagSet) Slice() []string {
	out := make([]string, len(s.tags))
	copy(out, s.tags)
	return out
}

// Contains reports whether name is in the set.
func (s TagSet) Contains(name string) bool {
	i := sort.SearchStrings(s.tags, name)
	return i < len(s.tags) && s.tags[i] == name
}

// Equal compares two sets; order of construction is irrelevant.
func (s TagSet) Equal(other TagSet) bool {
	if len(s.tags) != len(other.tags) {
		return false
	}
	for i := range s.tags {
		if s.tags[i] != other.tags[i] {
			return false
		}
	}
	return true
}

// Union returns every tag present in either set.
func (s TagSet) Union(other TagSet) TagSet {
	merged := make([]string, 0, len(s.tags)+len(other.tags))
	merged = append(merged, s.tags...)
	merged = append(merged, other.tags...)
	return NewTagSet(merged...)
}

// String joins the tags with commas.
func (s TagSet) String() string {
	return strings.Join(s.tags, ",")
}

// MarshalJSON encodes the set as a JSON array (never null).
func (s TagSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

// UnmarshalJSON decodes a JSON array, normalizing through NewTagSet.
func (s *TagSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return err
	}
	*s = NewTagSet(names...)
	return nil
}

// VersionedRecord is a snapshot of a note's mutable fields.
type VersionedRecord struct {
	ID           string    `json:"id"`
	Version      int64     `json:"version"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Tags         TagSet    `json:"tags"`
	Editor       string    `json:"editor"`
	LastModified time.Time `json:"last_modified"`
}

// ResolvedRecord is the outcome of a resolution, ready for the caller to persist.
type ResolvedRecord struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Tags    TagSet `json:"tags"`
	Editor  string `json:"editor"`
}

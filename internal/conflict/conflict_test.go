package conflict

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(title, content string, tags ...string) VersionedRecord {
	return VersionedRecord{
		ID:           "note-1",
		Version:      3,
		Title:        title,
		Content:      content,
		Tags:         NewTagSet(tags...),
		Editor:       "alice@example.com",
		LastModified: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func strPtr(s string) *string { return &s }

func TestNewTagSet_Normalizes(t *testing.T) {
	s := NewTagSet(" work", "urgent", "work", "", "  ")
	assert.Equal(t, []string{"urgent", "work"}, s.Slice())
	assert.True(t, s.Contains("work"))
	assert.False(t, s.Contains("home"))
	assert.Equal(t, "urgent,work", s.String())
}

func TestTagSet_EqualIgnoresOrder(t *testing.T) {
	assert.True(t, NewTagSet("a", "b").Equal(NewTagSet("b", "a", "a")))
	assert.False(t, NewTagSet("a").Equal(NewTagSet("a", "b")))
	assert.True(t, TagSet{}.Equal(NewTagSet()))
}

func TestTagSet_JSON(t *testing.T) {
	data, err := json.Marshal(TagSet{})
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))

	var s TagSet
	require.NoError(t, json.Unmarshal([]byte(`["b","a","b"]`), &s))
	assert.Equal(t, []string{"a", "b"}, s.Slice())
}

func TestDetect_IdentifierMismatch(t *testing.T) {
	current := record("a", "b")
	incoming := record("a", "b")
	incoming.ID = "note-2"

	_, err := Detect(current, incoming)
	require.ErrorIs(t, err, ErrIdentifierMismatch)
}

func TestDetect_EqualRecordsHaveNoConflict(t *testing.T) {
	current := record("Meeting Notes", "body", "work", "q3")
	incoming := record("Meeting Notes", "body", "q3", "work")

	c, err := Detect(current, incoming)
	require.NoError(t, err)
	assert.False(t, c.HasTitleConflict())
	assert.False(t, c.HasContentConflict())
	assert.False(t, c.HasTagConflict())
	assert.False(t, c.HasAnyConflict())
	assert.Empty(t, c.ConflictingFields())
}

func TestDetect_TitleIsCaseSensitive(t *testing.T) {
	c, err := Detect(record("Notes", "x"), record("notes", "x"))
	require.NoError(t, err)
	assert.True(t, c.HasTitleConflict())
	assert.Equal(t, []Field{FieldTitle}, c.ConflictingFields())
}

func TestDetect_EditorAttribution(t *testing.T) {
	current := record("a", "b")
	current.Editor = "bob@example.com"
	incoming := record("a", "c")
	incoming.Editor = "alice@example.com"

	c, err := Detect(current, incoming)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", c.CurrentEditor)
	assert.Equal(t, "bob@example.com", c.LastEditor)
	assert.Equal(t, current.LastModified, c.LastModified)
	assert.Equal(t, "note-1", c.ID)
}

// Scenario: tags differ only.
func TestSuggest_TagConflictOnly(t *testing.T) {
	c, err := Detect(
		record("Meeting Notes", "", "work"),
		record("Meeting Notes", "", "urgent"),
	)
	require.NoError(t, err)
	assert.False(t, c.HasTitleConflict())
	assert.True(t, c.HasTagConflict())

	s := Suggest(c)
	assert.Equal(t, []string{"urgent", "work"}, s.Tags.Slice())
	assert.Equal(t, []string{msgTagsMerged}, s.Messages)
}

func TestSuggest_UnionProperty(t *testing.T) {
	cases := [][2][]string{
		{{}, {}},
		{{"a"}, {}},
		{{}, {"b"}},
		{{"a", "b"}, {"b", "c"}},
		{{"x", "y", "z"}, {"z", "y", "x"}},
	}
	for _, tc := range cases {
		c, err := Detect(record("t", "c", tc[0]...), record("t", "c", tc[1]...))
		require.NoError(t, err)

		got := Suggest(c).Tags
		for _, tag := range tc[0] {
			assert.True(t, got.Contains(tag))
		}
		for _, tag := range tc[1] {
			assert.True(t, got.Contains(tag))
		}
		assert.True(t, got.Equal(NewTagSet(append(append([]string{}, tc[1]...), tc[0]...)...)))

		reversed, err := Detect(record("t", "c", tc[1]...), record("t", "c", tc[0]...))
		require.NoError(t, err)
		assert.True(t, got.Equal(Suggest(reversed).Tags))
	}
}

func TestSuggest_NoConflictHasNoMessages(t *testing.T) {
	c, err := Detect(record("t", "c"), record("t", "c"))
	require.NoError(t, err)

	s := Suggest(c)
	assert.NotNil(t, s.Messages)
	assert.Empty(t, s.Messages)
	assert.Equal(t, "t", s.Title)
}

func TestSuggest_DeterministicOrder(t *testing.T) {
	c, err := Detect(record("a", "b", "x"), record("A", "B", "y"))
	require.NoError(t, err)

	first := Suggest(c)
	assert.Equal(t, []string{msgTitleKeptIncoming, msgContentKeptIncoming, msgTagsMerged}, first.Messages)
	assert.Equal(t, "A", first.Title)
	assert.Equal(t, "B", first.Content)
	assert.Equal(t, first, Suggest(c))
}

// Scenario: content differs, keep_current wins.
func TestApply_KeepCurrent(t *testing.T) {
	c, err := Detect(record("t", "Draft A"), record("t", "Draft B"))
	require.NoError(t, err)

	out, err := Apply(c, Choices{Content: KeepCurrent}, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "Draft A", out.Content)
}

func TestApply_RespectsChoicePerField(t *testing.T) {
	current := record("ct", "cc", "c1")
	incoming := record("it", "ic", "i1")
	c, err := Detect(current, incoming)
	require.NoError(t, err)

	out, err := Apply(c, Choices{Title: KeepCurrent, Content: KeepIncoming, Tags: KeepCurrent}, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "ct", out.Title)
	assert.Equal(t, "ic", out.Content)
	assert.Equal(t, []string{"c1"}, out.Tags.Slice())

	out, err = Apply(c, Choices{Title: KeepIncoming, Content: KeepCurrent, Tags: KeepIncoming}, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "it", out.Title)
	assert.Equal(t, "cc", out.Content)
	assert.Equal(t, []string{"i1"}, out.Tags.Slice())
}

func TestApply_NonConflictingFieldsTakeIncoming(t *testing.T) {
	c, err := Detect(record("same", "old"), record("same", "new"))
	require.NoError(t, err)
	require.False(t, c.HasTitleConflict())

	for _, choice := range []ResolutionChoice{KeepCurrent, KeepIncoming, ManualMerge} {
		out, err := Apply(c, Choices{Title: choice, Content: KeepIncoming}, Overrides{Title: strPtr("ignored")})
		require.NoError(t, err)
		assert.Equal(t, "same", out.Title)
	}
}

// Scenario: manual merge without a value.
func TestApply_MissingOverrideFailsClosed(t *testing.T) {
	c, err := Detect(record("a", "x"), record("b", "y"))
	require.NoError(t, err)

	out, err := Apply(c, Choices{Title: ManualMerge}, Overrides{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingOverride))
	assert.Equal(t, ResolvedRecord{}, out)

	var mo *MissingOverrideError
	require.ErrorAs(t, err, &mo)
	assert.Equal(t, []Field{FieldTitle}, mo.Fields)
}

func TestApply_MissingOverrideListsEveryField(t *testing.T) {
	c, err := Detect(record("a", "x", "t1"), record("b", "y", "t2"))
	require.NoError(t, err)

	_, err = Apply(c, Choices{Title: ManualMerge, Content: ManualMerge, Tags: ManualMerge}, Overrides{Content: strPtr("z")})
	var mo *MissingOverrideError
	require.ErrorAs(t, err, &mo)
	assert.Equal(t, []Field{FieldTitle, FieldTags}, mo.Fields)
	assert.Contains(t, err.Error(), "title, tags")
}

func TestApply_ManualMergeUsesOverrides(t *testing.T) {
	c, err := Detect(record("a", "x", "t1"), record("b", "y", "t2"))
	require.NoError(t, err)

	tags := NewTagSet("t1", "t2", "t3")
	out, err := Apply(c,
		Choices{Title: ManualMerge, Content: ManualMerge, Tags: ManualMerge},
		Overrides{Title: strPtr("a+b"), Content: strPtr(""), Tags: &tags},
	)
	require.NoError(t, err)
	assert.Equal(t, "a+b", out.Title)
	assert.Equal(t, "", out.Content)
	assert.Equal(t, []string{"t1", "t2", "t3"}, out.Tags.Slice())
}

func TestApply_UnknownChoice(t *testing.T) {
	c, err := Detect(record("a", "x"), record("b", "x"))
	require.NoError(t, err)

	_, err = Apply(c, Choices{Title: "keep_both"}, Overrides{})
	require.ErrorIs(t, err, ErrUnknownChoice)
}

// Scenario: identical records resolve to the incoming record.
func TestApply_IdenticalRecordsResolveToIncoming(t *testing.T) {
	incoming := record("t", "c", "a", "b")
	c, err := Detect(record("t", "c", "b", "a"), incoming)
	require.NoError(t, err)

	out, err := Apply(c, DefaultChoices(), Overrides{})
	require.NoError(t, err)
	assert.Equal(t, incoming.ID, out.ID)
	assert.Equal(t, incoming.Title, out.Title)
	assert.Equal(t, incoming.Content, out.Content)
	assert.True(t, incoming.Tags.Equal(out.Tags))
	assert.Equal(t, incoming.Editor, out.Editor)
}

func TestApply_EditorIsResolver(t *testing.T) {
	current := record("a", "x")
	current.Editor = "bob@example.com"
	incoming := record("b", "x")
	incoming.Editor = "carol@example.com"
	c, err := Detect(current, incoming)
	require.NoError(t, err)

	out, err := Apply(c, Choices{Title: KeepCurrent}, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, "carol@example.com", out.Editor)
}

func TestParseResolutionChoice(t *testing.T) {
	for in, want := range map[string]ResolutionChoice{
		"":              KeepIncoming,
		"keep_incoming": KeepIncoming,
		"keep_current":  KeepCurrent,
		"manual_merge":  ManualMerge,
	} {
		got, err := ParseResolutionChoice(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseResolutionChoice("KEEP_CURRENT")
	require.ErrorIs(t, err, ErrUnknownChoice)
}

func TestTransition(t *testing.T) {
	require.NoError(t, Transition(StateAwaiting, StateResolved))
	require.NoError(t, Transition(StateAwaiting, StateAbandoned))
	require.ErrorIs(t, Transition(StateResolved, StateAbandoned), ErrInvalidTransition)
	require.ErrorIs(t, Transition(StateAbandoned, StateResolved), ErrInvalidTransition)
	require.ErrorIs(t, Transition(StateAwaiting, StateAwaiting), ErrInvalidTransition)
	assert.False(t, StateAwaiting.Terminal())
}

package conflict

// Suggestion is a proposed non-destructive merge for a conflict.
type Suggestion struct {
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Tags     TagSet   `json:"tags"`
	Messages []string `json:"messages"`
}

const (
	msgTitleKeptIncoming   = "Title differs: kept incoming version"
	msgContentKeptIncoming = "Content differs: kept incoming version"
	msgTagsMerged          = "Tags merged from both versions"
)

// Suggest proposes the most recent text and the union of both tag sets.
func Suggest(c Conflict) Suggestion {
	s := Suggestion{
		Title:    c.Incoming.Title,
		Content:  c.Incoming.Content,
		Tags:     c.Current.Tags.Union(c.Incoming.Tags),
		Messages: []string{},
	}
	if c.HasTitleConflict() {
		s.Messages = append(s.Messages, msgTitleKeptIncoming)
	}
	if c.HasContentConflict() {
		s.Messages = append(s.Messages, msgContentKeptIncoming)
	}
	if c.HasTagConflict() {
		s.Messages = append(s.Messages, msgTagsMerged)
	}
	return s
}

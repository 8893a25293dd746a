package types

// ThemeBundle accumulates theme data from every member of an Orphan.
//
// Each field has an explicit merge rule rather than a generic recursive
// merge: list fields are ordered sets (union, first-seen order wins,
// duplicates dropped), and Excerpts is a bounded list that keeps the
// first MaxExcerpts seen so sample retention is deterministic for a
// fixed input order.
type ThemeBundle struct {
	Intents      []string  `json:"intents,omitempty"`
	Symptoms     []string  `json:"symptoms,omitempty"`
	ProductAreas []string  `json:"product_areas,omitempty"`
	Components   []string  `json:"components,omitempty"`
	Excerpts     []Excerpt `json:"excerpts,omitempty"`
}

// Excerpt is a representative quote retained for human review
type Excerpt struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

// DefaultMaxExcerpts bounds the excerpt sample kept per group
const DefaultMaxExcerpts = 10

// NewBundle builds the initial bundle for a group's first member
func NewBundle(conversationID string, theme ExtractedTheme, maxExcerpts int) ThemeBundle {
	var b ThemeBundle
	b.Merge(conversationID, theme, maxExcerpts)
	return b
}

// Merge folds one member's theme into the accumulated bundle.
// Older values win on conflict: an already-present entry is never
// reordered or replaced by a later member's data.
func (b *ThemeBundle) Merge(conversationID string, theme ExtractedTheme, maxExcerpts int) {
	if maxExcerpts <= 0 {
		maxExcerpts = DefaultMaxExcerpts
	}
	if theme.Intent != "" {
		b.Intents = appendUnique(b.Intents, theme.Intent)
	}
	for _, s := range theme.Symptoms {
		b.Symptoms = appendUnique(b.Symptoms, s)
	}
	if theme.ProductArea != "" {
		b.ProductAreas = appendUnique(b.ProductAreas, theme.ProductArea)
	}
	if theme.Component != "" {
		b.Components = appendUnique(b.Components, theme.Component)
	}
	if theme.Excerpt == "" || len(b.Excerpts) >= maxExcerpts {
		return
	}
	for _, e := range b.Excerpts {
		if e.ConversationID == conversationID {
			return
		}
	}
	b.Excerpts = append(b.Excerpts, Excerpt{ConversationID: conversationID, Text: theme.Excerpt})
}

func appendUnique(list []string, value string) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	return append(list, value)
}

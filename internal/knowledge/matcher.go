// ABOUTME: Pure trigger-phrase matcher selecting the winning knowledge entry for a message
// ABOUTME: Supports contains, exact and regex modes with memoized case-insensitive patterns

package knowledge

import (
	"log/slog"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/2389/support-gateway/internal/store"
)

// regexCacheSize bounds the number of compiled patterns kept.
const regexCacheSize = 1024

// compiled is a memoized compile result; re is nil for a malformed pattern.
type compiled struct {
	re *regexp.Regexp
}

// Matcher selects the best knowledge entry for a message.
// It is safe for concurrent use.
type Matcher struct {
	regexes *lru.Cache[string, compiled]
	logger  *slog.Logger
}

// NewMatcher creates a Matcher. Pass nil logger for default.
func NewMatcher(logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	cache, err := lru.New[string, compiled](regexCacheSize)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &Matcher{
		regexes: cache,
		logger:  logger.With("component", "knowledge_matcher"),
	}
}

// Match returns the winning entry for text, or nil when nothing matches.
func (m *Matcher) Match(entries []*store.KnowledgeEntry, text string) *store.KnowledgeEntry {
	var best *store.KnowledgeEntry
	lowered := strings.ToLower(text)

	for _, e := range entries {
		if e == nil || !e.Active {
			continue
		}
		if !m.entryMatches(e, text, lowered) {
			continue
		}
		if best == nil || outranks(e, best) {
			best = e
		}
	}
	return best
}

func (m *Matcher) entryMatches(e *store.KnowledgeEntry, text, lowered string) bool {
	for _, phrase := range e.Phrases {
		if strings.TrimSpace(phrase) == "" {
			continue
		}
		if m.phraseMatches(e, phrase, text, lowered) {
			return true
		}
	}
	return false
}

func (m *Matcher) phraseMatches(e *store.KnowledgeEntry, phrase, text, lowered string) bool {
	switch e.MatchMode {
	case store.MatchExact:
		return strings.EqualFold(strings.TrimSpace(text), strings.TrimSpace(phrase))
	case store.MatchRegex:
		re := m.compile(e, phrase)
		return re != nil && re.MatchString(text)
	default:
		return strings.Contains(lowered, strings.ToLower(phrase))
	}
}

// compile returns the case-insensitive pattern for phrase, or nil if it is malformed.
func (m *Matcher) compile(e *store.KnowledgeEntry, phrase string) *regexp.Regexp {
	if c, ok := m.regexes.Get(phrase); ok {
		return c.re
	}

	re, err := regexp.Compile("(?i)" + phrase)
	if err != nil {
		m.logger.Warn("ignoring malformed trigger pattern",
			"org_id", e.OrgID,
			"entry_id", e.ID,
			"pattern", phrase,
			"error", err)
		re = nil
	}
	m.regexes.Add(phrase, compiled{re: re})
	return re
}

// outranks reports whether a beats b: priority, then recency, then ID.
func outranks(a, b *store.KnowledgeEntry) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID < b.ID
}

var phraseSeparators = regexp.MustCompile(`[\n,]+`)

// SplitPhrases turns a comma or newline separated list into trimmed,
// non-empty phrases.
func SplitPhrases(raw string) []string {
	var out []string
	for _, p := range phraseSeparators.Split(raw, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidatePattern reports whether phrase compiles as a trigger regex.
func ValidatePattern(phrase string) error {
	_, err := regexp.Compile("(?i)" + phrase)
	return err
}

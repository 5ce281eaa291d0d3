// Package relevance orders fetched articles by topical keyword relevance.
package relevance

import (
	"sort"
	"strings"

	"newsdigest/internal/config"
	"newsdigest/internal/core"
)

// LocaleBonus is added once when an article mentions the locale name.
const LocaleBonus = 10

// DefaultLocale is the locale name used when none is configured.
const DefaultLocale = "malaysia"

// Ranked pairs an article with its relevance score.
type Ranked struct {
	Article core.Article `json:"article"`
	Score   int          `json:"score"`
}

// Ranker scores articles against a keyword set.
type Ranker struct {
	keywords []string
	locale   string
}

// NewRanker creates a ranker. Keywords are matched case-insensitively.
func NewRanker(keywords []string, locale string) *Ranker {
	if locale == "" {
		locale = DefaultLocale
	}
	cleaned := make([]string, 0, len(keywords))
	seen := make(map[string]bool)
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		cleaned = append(cleaned, k)
	}
	return &Ranker{keywords: cleaned, locale: strings.ToLower(locale)}
}

// FromConfig creates a ranker from the relevance configuration.
func FromConfig(cfg config.Relevance) *Ranker {
	return NewRanker(cfg.Keywords, cfg.Locale)
}

// Score counts keyword occurrences in the title and content and adds the
// locale bonus. Substring matches count, so "malaysian" matches "malaysia".
func (r *Ranker) Score(a core.Article) int {
	text := strings.ToLower(a.Title + " " + a.Content)

	score := 0
	for _, k := range r.keywords {
		score += strings.Count(text, k)
	}
	if strings.Contains(text, r.locale) {
		score += LocaleBonus
	}
	return score
}

// Rank returns the articles sorted by descending score. Equal scores keep
// their input order. The input slice is not modified.
func (r *Ranker) Rank(articles []core.Article) []Ranked {
	ranked := make([]Ranked, len(articles))
	for i, a := range articles {
		ranked[i] = Ranked{Article: a, Score: r.Score(a)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// Rank is a convenience wrapper for one-off ranking with the default locale.
func Rank(articles []core.Article, keywords []string) []Ranked {
	return NewRanker(keywords, DefaultLocale).Rank(articles)
}

// Articles strips the scores from a ranking.
func Articles(ranked []Ranked) []core.Article {
	out := make([]core.Article, len(ranked))
	for i, r := range ranked {
		out[i] = r.Article
	}
	return out
}

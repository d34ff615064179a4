package report

import (
	"sort"
	"strings"

	"github.com/jonesrussell/newsbrief/internal/domain"
)

// titleSimilarityThreshold is the Jaccard similarity over title tokens
// above which two articles are considered the same story.
const titleSimilarityThreshold = 0.5

// Cluster is a group of articles covering the same story.
type Cluster struct {
	Articles []*domain.Article
}

// Lead returns the cluster's representative article (the earliest).
func (c *Cluster) Lead() *domain.Article {
	return c.Articles[0]
}

// ClusterArticles groups articles deterministically: exact content-hash
// duplicates collapse first, then near-duplicate titles merge by token
// Jaccard similarity. The same input always yields the same clusters,
// in first-seen order.
func ClusterArticles(articles []*domain.Article) []*Cluster {
	// Stable input order regardless of query ordering.
	sorted := make([]*domain.Article, len(articles))
	copy(sorted, articles)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})

	var clusters []*Cluster
	byContentHash := make(map[string]*Cluster)

	for _, article := range sorted {
		if c, ok := byContentHash[article.ContentHash]; ok {
			c.Articles = append(c.Articles, article)
			continue
		}

		tokens := titleTokens(article.Title)
		var matched *Cluster
		for _, c := range clusters {
			if jaccard(tokens, titleTokens(c.Lead().Title)) >= titleSimilarityThreshold {
				matched = c
				break
			}
		}

		if matched == nil {
			matched = &Cluster{}
			clusters = append(clusters, matched)
		}
		matched.Articles = append(matched.Articles, article)
		byContentHash[article.ContentHash] = matched
	}

	return clusters
}

// titleTokens lowercases and splits a title into unique word tokens.
func titleTokens(title string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, word := range strings.Fields(strings.ToLower(title)) {
		word = strings.Trim(word, ".,:;!?\"'()[]")
		if len(word) < 2 {
			continue
		}
		tokens[word] = struct{}{}
	}
	return tokens
}

// jaccard returns |a ∩ b| / |a ∪ b| for two token sets.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for token := range a {
		if _, ok := b[token]; ok {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

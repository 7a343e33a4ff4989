package embedding

import (
	"context"
	"fmt"
	"sort"

	"newsrun/internal/domain/entity"
	"newsrun/internal/provider"
	"newsrun/internal/repository"
)

// RollingSimilarityThreshold is the cosine-similarity cutoff for an
// edge in the rolling topic graph (spec §4.5 default: 0.75).
const RollingSimilarityThreshold = 0.75

// RollingMinGroupSize is the minimum connected-component size to keep
// as a topic group, including the anchor article (spec §4.5 default: 2).
const RollingMinGroupSize = 2

// RollingCandidatesPerArticle bounds how many similarity-search hits
// are considered per article when building the graph, keeping the
// union-find pass bounded even on a large backlog.
const RollingCandidatesPerArticle = 20

// unionFind is a standard disjoint-set structure keyed by article ID.
type unionFind struct {
	parent map[int64]int64
	rank   map[int64]int
}

func newUnionFind() *unionFind {
	return &unionFind{parent: make(map[int64]int64), rank: make(map[int64]int)}
}

func (u *unionFind) find(x int64) int64 {
	if _, ok := u.parent[x]; !ok {
		u.parent[x] = x
		return x
	}
	if u.parent[x] != x {
		u.parent[x] = u.find(u.parent[x])
	}
	return u.parent[x]
}

func (u *unionFind) union(a, b int64) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
}

// BuildRollingGroups implements spec §4.5's rolling topic grouping and
// the "deterministic connected-components" Open Question decision
// recorded in DESIGN.md: for every article with a content embedding,
// retrieve its nearest neighbors above threshold and union them into
// the same component, then keep any component at or above
// minGroupSize as a group. Unlike greedy anchor-and-mark, a component's
// membership does not depend on the order articles are iterated in.
func BuildRollingGroups(ctx context.Context, embeddings repository.ArticleEmbeddingRepository, articles []*entity.Article, threshold float64, minGroupSize int) ([]*entity.TopicGroup, error) {
	if threshold <= 0 {
		threshold = RollingSimilarityThreshold
	}
	if minGroupSize <= 0 {
		minGroupSize = RollingMinGroupSize
	}

	byID := make(map[int64]*entity.Article, len(articles))
	uf := newUnionFind()
	for _, a := range articles {
		if !a.EligibleForRollingTopic() {
			continue
		}
		byID[a.ID] = a
		uf.find(a.ID)

		candidates, err := embeddings.SearchSimilar(ctx, a.ContentEmbedding, entity.EmbeddingTypeContent, RollingCandidatesPerArticle)
		if err != nil {
			return nil, fmt.Errorf("rolling topic grouping: search similar for article %d: %w", a.ID, err)
		}
		for _, c := range candidates {
			if c.ArticleID == a.ID || c.Similarity < threshold {
				continue
			}
			uf.union(a.ID, c.ArticleID)
		}
	}

	components := make(map[int64][]int64)
	for id := range byID {
		root := uf.find(id)
		components[root] = append(components[root], id)
	}

	groups := make([]*entity.TopicGroup, 0, len(components))
	for root, members := range components {
		if len(members) < minGroupSize {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })

		group := &entity.TopicGroup{
			TopicID:             fmt.Sprintf("rolling_%d", root),
			SharedSummaryStatus: entity.SharedSummaryAbsent,
		}
		for _, id := range members {
			a := byID[id]
			group.Articles = append(group.Articles, entity.TopicMember{
				ArticleID:  a.ID,
				ArticleURL: a.URL,
				Title:      a.Title,
			})
		}
		groups = append(groups, group)
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].TopicID < groups[j].TopicID })
	return groups, nil
}

// rollingGroupPrompt builds the capped concatenation spec §4.5 requires
// for shared-summary generation: titles plus per-article content
// capped at 500 chars each and 4000 chars total.
func rollingGroupPrompt(group *entity.TopicGroup, contentByArticle map[int64]string) string {
	const perArticleCap = 500
	const totalCap = 4000

	var out []byte
	for _, m := range group.Articles {
		line := m.Title
		if content, ok := contentByArticle[m.ArticleID]; ok && content != "" {
			capped := content
			if len(capped) > perArticleCap {
				capped = capped[:perArticleCap]
			}
			line += ": " + capped
		}
		if len(out)+len(line)+1 > totalCap {
			break
		}
		out = append(out, []byte(line+"\n")...)
	}
	return string(out)
}

// RollingGroupingResult bundles the rolling maintenance pass's two
// outputs: the replaced group set and the number of groups that
// received a freshly generated shared summary.
type RollingGroupingResult struct {
	Groups               []*entity.TopicGroup
	SummariesGenerated int
}

// RunRollingMaintenance runs one full rolling-maintenance pass: build
// groups, generate a shared summary for every group lacking one, then
// atomically replace the rolling-topics collection.
func RunRollingMaintenance(ctx context.Context, topics repository.TopicRepository, embeddings repository.ArticleEmbeddingRepository, gw *provider.Gateway, articles []*entity.Article, threshold float64, minGroupSize int) (*RollingGroupingResult, error) {
	groups, err := BuildRollingGroups(ctx, embeddings, articles, threshold, minGroupSize)
	if err != nil {
		return nil, err
	}

	contentByArticle := make(map[int64]string, len(articles))
	for _, a := range articles {
		contentByArticle[a.ID] = a.ContentForAnalysis()
	}

	generated := 0
	for _, group := range groups {
		if group.SharedSummaryStatus == entity.SharedSummaryCompleted {
			continue
		}
		prompt := rollingGroupPrompt(group, contentByArticle)
		summary, err := GenerateSharedSummary(ctx, gw, prompt)
		if err != nil {
			group.SharedSummaryStatus = entity.SharedSummaryFailed
			continue
		}
		group.SharedSummary = summary
		group.SharedSummaryStatus = entity.SharedSummaryCompleted
		generated++
	}

	if err := topics.ReplaceRolling(ctx, groups); err != nil {
		return nil, fmt.Errorf("rolling topic grouping: replace collection: %w", err)
	}

	return &RollingGroupingResult{Groups: groups, SummariesGenerated: generated}, nil
}

package search

import (
	"sort"
	"strings"

	"github.com/appledex/appledex/pkg/types"
)

// contentSeparator joins chunk contents inside a coalesced group.
const contentSeparator = "\n\n---\n\n"

// untitledKey groups chunks that carry no title.
const untitledKey = "untitled"

// mergeCandidates interleaves the two retrieval branches with semantic
// priority: all semantic chunks first, then keyword chunks whose id has
// not been seen. Order within each branch is preserved.
func mergeCandidates(semantic, keyword []types.Chunk) []types.Candidate {
	seen := make(map[string]struct{}, len(semantic)+len(keyword))
	merged := make([]types.Candidate, 0, len(semantic)+len(keyword))

	appendBranch := func(chunks []types.Chunk, prov types.Provenance) {
		for _, c := range chunks {
			if _, dup := seen[c.ID]; dup {
				continue
			}
			seen[c.ID] = struct{}{}
			merged = append(merged, types.Candidate{
				Chunk:      c,
				Provenance: prov,
				Rank:       len(merged),
			})
		}
	}
	appendBranch(semantic, types.ProvenanceSemantic)
	appendBranch(keyword, types.ProvenanceKeyword)
	return merged
}

// titleKey normalizes a chunk title for grouping.
func titleKey(title string) string {
	if strings.TrimSpace(title) == "" {
		return untitledKey
	}
	return title
}

// coalesceByTitle groups candidates sharing a title into one merged
// record per document. The first candidate of each group is its primary
// and keeps the merged-order priority of the candidate list.
func coalesceByTitle(candidates []types.Candidate) []types.MergedGroup {
	order := make([]string, 0, len(candidates))
	byTitle := make(map[string][]types.Candidate)

	for _, c := range candidates {
		key := titleKey(c.Chunk.Title)
		if _, ok := byTitle[key]; !ok {
			order = append(order, key)
		}
		byTitle[key] = append(byTitle[key], c)
	}

	groups := make([]types.MergedGroup, 0, len(order))
	for _, key := range order {
		groups = append(groups, buildGroup(byTitle[key]))
	}
	return groups
}

// buildGroup assembles one merged record from a title group.
func buildGroup(members []types.Candidate) types.MergedGroup {
	primary := members[0].Chunk

	byIndex := make([]types.Chunk, len(members))
	for i, m := range members {
		byIndex[i] = m.Chunk
	}
	sort.SliceStable(byIndex, func(i, j int) bool {
		return byIndex[i].ChunkIndex < byIndex[j].ChunkIndex
	})

	parts := make([]string, len(byIndex))
	indexSet := make(map[int]struct{}, len(byIndex))
	indices := make([]int, 0, len(byIndex))
	for i, c := range byIndex {
		parts[i] = c.Content
		if _, dup := indexSet[c.ChunkIndex]; !dup {
			indexSet[c.ChunkIndex] = struct{}{}
			indices = append(indices, c.ChunkIndex)
		}
	}
	sort.Ints(indices)

	group := types.MergedGroup{
		ID:      primary.ID,
		URL:     primary.URL,
		Title:   primary.Title,
		Content: strings.Join(parts, contentSeparator),
	}

	group.ChunkIndex, group.TotalChunks = deriveIndex(indices, primary.TotalChunks)
	if len(indices) > 1 {
		group.MergedChunkIndices = indices
	}
	return group
}

// deriveIndex computes the (chunk_index, total_chunks) pair reported for
// a merged group. A group covering every chunk of its document collapses
// to a complete single record.
func deriveIndex(indices []int, totalChunks int) (int, int) {
	if len(indices) == 1 {
		return indices[0], totalChunks
	}
	if isComplete(indices, totalChunks) {
		return 0, 1
	}
	return indices[0], totalChunks
}

// isComplete reports whether the sorted distinct indices are exactly
// 0..totalChunks-1.
func isComplete(indices []int, totalChunks int) bool {
	if totalChunks <= 0 || len(indices) != totalChunks {
		return false
	}
	for i, idx := range indices {
		if idx != i {
			return false
		}
	}
	return true
}

// additionalURLs lists up to limit urls from groups that did not make
// the final result set, deduplicated by url in group order.
func additionalURLs(groups []types.MergedGroup, results []types.RankedResult, limit int) []types.AdditionalURL {
	inResults := make(map[string]struct{}, len(results))
	for _, r := range results {
		inResults[r.URL] = struct{}{}
	}

	seen := make(map[string]struct{})
	var extra []types.AdditionalURL
	for _, g := range groups {
		if len(extra) >= limit {
			break
		}
		if g.URL == "" {
			continue
		}
		if _, ok := inResults[g.URL]; ok {
			continue
		}
		if _, dup := seen[g.URL]; dup {
			continue
		}
		seen[g.URL] = struct{}{}
		extra = append(extra, types.AdditionalURL{
			URL:            g.URL,
			Title:          g.Title,
			CharacterCount: len(g.Content),
		})
	}
	return extra
}

// Package types holds the shared data model for appledex: retrievable
// chunks, merged documentation groups, and request identities.
package types

// Chunk is the smallest retrievable unit: a segment of a documentation
// page with its own embedding in the vector index.
type Chunk struct {
	// ID is the unique identifier in the vector database
	ID string

	// URL is the source page URL
	URL string

	// Title is the page title ("" when the source had none)
	Title string

	// Content is the chunk text
	Content string

	// ChunkIndex is the zero-based position within the parent page
	ChunkIndex int

	// TotalChunks is the number of chunks the parent page was split into
	TotalChunks int
}

// Provenance identifies which retrieval branch produced a candidate.
type Provenance string

const (
	ProvenanceSemantic Provenance = "semantic"
	ProvenanceKeyword  Provenance = "keyword"
)

// Candidate is a chunk returned by one retrieval branch together with
// its branch-local rank.
type Candidate struct {
	Chunk
	Provenance Provenance
	Rank       int
}

// MergedGroup is the result of coalescing candidates that share a title:
// one record per distinct page excerpt, with member chunks concatenated
// in chunk order.
type MergedGroup struct {
	// ID is the primary candidate's chunk ID
	ID string

	URL     string
	Title   string
	Content string

	// ChunkIndex and TotalChunks are derived: (0, 1) when the group
	// covers the whole page, otherwise the smallest member index and
	// the primary's total.
	ChunkIndex  int
	TotalChunks int

	// MergedChunkIndices lists the distinct member indices in ascending
	// order; empty when the group has a single chunk.
	MergedChunkIndices []int
}

// RankedResult is a merged group chosen by the reranker.
type RankedResult struct {
	MergedGroup

	// OriginalIndex is the group's 0-based position in the pre-rerank
	// merged order.
	OriginalIndex int
}

// AdditionalURL points at a page that survived candidate merging but did
// not make the final result list.
type AdditionalURL struct {
	URL            string `json:"url"`
	Title          string `json:"title"`
	CharacterCount int    `json:"characterCount"`
}

// SearchOutput is the hybrid engine's response.
type SearchOutput struct {
	Results        []RankedResult
	AdditionalURLs []AdditionalURL
}

// Document is a fully assembled page returned by URL lookup.
type Document struct {
	ID      string
	URL     string
	Title   string
	Content string
}

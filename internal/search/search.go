// Package search indexes saved document content so users can find
// documents by what they say, not just their titles. Meilisearch is the
// primary backend with a PostgreSQL full-text fallback.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// DocumentRecord is the data indexed per document, refreshed after every
// committed save.
type DocumentRecord struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Text    string `json:"text"`
	SavedAt int64  `json:"savedAt"`
}

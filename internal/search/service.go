package search

import "log"

// Service is the facade that tries Meilisearch first and falls back to
// PG FTS. meili may be nil when Meilisearch is not configured.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexDocument pushes a record to Meilisearch, fire-and-forget so a
// slow index never delays the save path.
func (s *Service) IndexDocument(doc DocumentRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexDocument(doc); err != nil {
			log.Printf("search: index document %s: %v", doc.ID, err)
		}
	}()
}

// DeleteDocument removes a document from the index, fire-and-forget.
func (s *Service) DeleteDocument(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteDocument(id); err != nil {
			log.Printf("search: delete document %s: %v", id, err)
		}
	}()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"redline/engine/internal/archive"
	"redline/engine/internal/autosave"
	"redline/engine/internal/config"
	"redline/engine/internal/docmodel"
	"redline/engine/internal/export"
	"redline/engine/internal/history"
	"redline/engine/internal/revision"
	"redline/engine/internal/search"
	"redline/engine/internal/session"
	"redline/engine/internal/store"
	"redline/engine/internal/stream"
	"redline/engine/internal/util"
)

type dataStore interface {
	Ping(ctx context.Context) error
	CreateDocument(ctx context.Context, id, title string) (store.Document, error)
	GetDocument(ctx context.Context, id string) (store.Document, error)
	ListDocuments(ctx context.Context) ([]store.Document, error)
	UpdateDocumentText(ctx context.Context, id, plainText string) error
	RecordSave(ctx context.Context, rec store.SaveRecord) error
	RecentSaves(ctx context.Context, documentID string, limit int) ([]store.SaveRecord, error)
}

type gitService interface {
	EnsureRepo(documentID string, content, state []byte, author string) error
	CommitSnapshot(documentID string, content, state []byte, trigger, author string) (history.CommitInfo, error)
	HeadSnapshot(documentID string) ([]byte, []byte, history.CommitInfo, error)
	History(documentID string, limit int) ([]history.CommitInfo, error)
	SnapshotByHash(documentID, hash string) ([]byte, error)
}

type sessionStore interface {
	PublishState(ctx context.Context, documentID string, status autosave.Status) error
	ClearState(ctx context.Context, documentID string) error
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
	DeleteDocument(id string)
}

type archiveStore interface {
	ShouldArchive(seq int64) bool
	Put(ctx context.Context, documentID string, seq int64, content []byte) error
}

// openDoc bundles the live editing state of one document: the tree, the
// revision engine operating on it, the save scheduler and the stream
// router. saveSeq counts committed saves for archive sampling.
type openDoc struct {
	id        string
	title     string
	doc       *docmodel.Document
	engine    *revision.Engine
	scheduler *autosave.Scheduler
	router    *stream.Router

	seqMu   sync.Mutex
	saveSeq int64

	unsubscribe []func()
}

type Service struct {
	cfg      config.Config
	store    dataStore
	git      gitService
	sessions sessionStore
	search   searchService
	archive  archiveStore

	mu   sync.Mutex
	open map[string]*openDoc
}

// New wires the service. sessions, searchSvc and archiveSvc may be nil
// when the corresponding backend is not configured.
func New(cfg config.Config, dataStore *store.PostgresStore, gitSvc *history.Service, sessions *session.RedisStore, searchSvc *search.Service, archiveSvc *archive.Store) *Service {
	s := &Service{
		cfg:   cfg,
		store: dataStore,
		git:   gitSvc,
		open:  make(map[string]*openDoc),
	}
	if sessions != nil {
		s.sessions = sessions
	}
	if searchSvc != nil {
		s.search = searchSvc
	}
	if archiveSvc != nil {
		s.archive = archiveSvc
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// DocumentPayload is the wire shape of an open document.
type DocumentPayload struct {
	ID        string             `json:"id"`
	Title     string             `json:"title"`
	Content   json.RawMessage    `json:"content"`
	State     json.RawMessage    `json:"state"`
	Revisions []revision.Pending `json:"revisions"`
	Save      autosave.Status    `json:"save"`
}

// CreateDocument registers a new document, seeds its snapshot repository
// and opens it for editing.
func (s *Service) CreateDocument(ctx context.Context, title string, content json.RawMessage) (*DocumentPayload, error) {
	if title == "" {
		title = "Untitled"
	}

	var doc *docmodel.Document
	if len(content) > 0 {
		parsed, err := docmodel.FromJSON(content)
		if err != nil {
			return nil, domainError(http.StatusBadRequest, "INVALID_CONTENT", "Document content is not a valid node tree", err.Error())
		}
		doc = parsed
	} else {
		doc = docmodel.New()
	}

	record, err := s.store.CreateDocument(ctx, util.NewID("doc"), title)
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}

	snapshot, state := doc.Snapshot()
	if err := s.git.EnsureRepo(record.ID, snapshot, state, "redline"); err != nil {
		return nil, fmt.Errorf("init document repo: %w", err)
	}

	d := s.wire(record.ID, record.Title, doc)
	s.mu.Lock()
	s.open[record.ID] = d
	s.mu.Unlock()

	if s.search != nil {
		s.search.IndexDocument(search.DocumentRecord{
			ID:      record.ID,
			Title:   record.Title,
			Text:    doc.PlainText(),
			SavedAt: time.Now().Unix(),
		})
	}

	return s.payload(d), nil
}

// GetDocument returns the live state of a document, opening it from the
// store and its snapshot repository if needed.
func (s *Service) GetDocument(ctx context.Context, id string) (*DocumentPayload, error) {
	d, err := s.openDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.payload(d), nil
}

func (s *Service) ListDocuments(ctx context.Context) ([]store.Document, error) {
	return s.store.ListDocuments(ctx)
}

// ProposeInput is the wire shape of a revision proposal.
type ProposeInput struct {
	Kind        string           `json:"kind"`
	Original    string           `json:"original"`
	Replacement string           `json:"replacement"`
	Comment     string           `json:"comment"`
	At          *docmodel.Anchor `json:"at"`
}

func (s *Service) ProposeRevision(ctx context.Context, id string, input ProposeInput) (string, error) {
	d, err := s.openDocument(ctx, id)
	if err != nil {
		return "", err
	}
	revID, err := d.engine.Propose(revision.Proposal{
		Kind:        revision.Kind(input.Kind),
		Original:    input.Original,
		Replacement: input.Replacement,
		Comment:     input.Comment,
		At:          input.At,
		Origin:      docmodel.OriginAI,
	})
	if err != nil {
		return "", domainError(http.StatusBadRequest, "INVALID_REVISION", "Revision proposal rejected", err.Error())
	}
	return revID, nil
}

func (s *Service) PendingRevisions(ctx context.Context, id string) ([]revision.Pending, error) {
	d, err := s.openDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.engine.PendingRevisions(), nil
}

// ResolveRevision accepts or rejects one pending revision.
func (s *Service) ResolveRevision(ctx context.Context, id, revID string, accept bool) error {
	d, err := s.openDocument(ctx, id)
	if err != nil {
		return err
	}
	var ok bool
	if accept {
		ok = d.engine.Accept(revID)
	} else {
		ok = d.engine.Reject(revID)
	}
	if !ok {
		return domainError(http.StatusNotFound, "REVISION_NOT_FOUND", "No pending revision with that id", nil)
	}
	return nil
}

// ResolveAllRevisions accepts or rejects every pending revision and
// returns how many were resolved.
func (s *Service) ResolveAllRevisions(ctx context.Context, id string, accept bool) (int, error) {
	d, err := s.openDocument(ctx, id)
	if err != nil {
		return 0, err
	}
	if accept {
		return d.engine.AcceptAll(), nil
	}
	return d.engine.RejectAll(), nil
}

// ApplyChange replaces the document content with a client-supplied tree
// and schedules an autosave for the given trigger.
func (s *Service) ApplyChange(ctx context.Context, id string, content json.RawMessage, trigger autosave.Trigger) error {
	d, err := s.openDocument(ctx, id)
	if err != nil {
		return err
	}
	var root docmodel.Node
	if err := json.Unmarshal(content, &root); err != nil {
		return domainError(http.StatusBadRequest, "INVALID_CONTENT", "Document content is not a valid node tree", err.Error())
	}
	if root.Type != docmodel.TypeDoc {
		return domainError(http.StatusBadRequest, "INVALID_CONTENT", "Document content is not a valid node tree",
			fmt.Sprintf("root type %q", root.Type))
	}
	origin := docmodel.OriginUser
	if trigger == autosave.TriggerAIContent {
		origin = docmodel.OriginAI
	}
	return d.doc.Apply(origin, func(target *docmodel.Node) error {
		*target = *root.Clone()
		return nil
	})
}

// NotifyChange reports an external editing event, e.g. a window blur or
// file switch, to the document's save scheduler.
func (s *Service) NotifyChange(ctx context.Context, id string, trigger autosave.Trigger) error {
	d, err := s.openDocument(ctx, id)
	if err != nil {
		return err
	}
	d.scheduler.NotifyChange(trigger)
	return nil
}

// ForceSave persists the current snapshot immediately.
func (s *Service) ForceSave(ctx context.Context, id string, trigger autosave.Trigger) (autosave.Status, error) {
	d, err := s.openDocument(ctx, id)
	if err != nil {
		return autosave.Status{}, err
	}
	if err := d.scheduler.ForceSave(ctx, trigger); err != nil {
		return d.scheduler.Status(), domainError(http.StatusBadGateway, "SAVE_FAILED", "Save failed", err.Error())
	}
	return d.scheduler.Status(), nil
}

func (s *Service) SaveStatus(ctx context.Context, id string) (autosave.Status, error) {
	d, err := s.openDocument(ctx, id)
	if err != nil {
		return autosave.Status{}, err
	}
	return d.scheduler.Status(), nil
}

func (s *Service) History(ctx context.Context, id string, limit int) ([]history.CommitInfo, error) {
	if _, err := s.store.GetDocument(ctx, id); err != nil {
		return nil, err
	}
	return s.git.History(id, limit)
}

func (s *Service) SnapshotByHash(ctx context.Context, id, hash string) (json.RawMessage, error) {
	if _, err := s.store.GetDocument(ctx, id); err != nil {
		return nil, err
	}
	content, err := s.git.SnapshotByHash(id, hash)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "SNAPSHOT_NOT_FOUND", "No snapshot for that hash", nil)
	}
	return content, nil
}

func (s *Service) RecentSaves(ctx context.Context, id string, limit int) ([]store.SaveRecord, error) {
	if _, err := s.store.GetDocument(ctx, id); err != nil {
		return nil, err
	}
	return s.store.RecentSaves(ctx, id, limit)
}

// StreamInput carries a consumed response stream plus the selection the
// stream's actions target.
type StreamInput struct {
	Selection *docmodel.Anchor  `json:"selection"`
	Fragments []stream.Fragment `json:"fragments"`
}

// ProcessStream routes a finite fragment sequence through the document's
// stream router.
func (s *Service) ProcessStream(ctx context.Context, id string, input StreamInput) (stream.Result, error) {
	d, err := s.openDocument(ctx, id)
	if err != nil {
		return stream.Result{}, err
	}
	if input.Selection != nil {
		d.router.SetActiveSelection(*input.Selection)
	} else {
		d.router.ClearActiveSelection()
	}
	return d.router.Process(input.Fragments), nil
}

func (s *Service) Export(ctx context.Context, id string, format export.Format) (*export.Result, error) {
	d, err := s.openDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	content, _ := d.doc.Snapshot()
	return export.Export(d.title, content, format)
}

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// Close force-saves and shuts down every open document. Used on process
// shutdown.
func (s *Service) Close(ctx context.Context) {
	s.mu.Lock()
	docs := make([]*openDoc, 0, len(s.open))
	for _, d := range s.open {
		docs = append(docs, d)
	}
	s.open = make(map[string]*openDoc)
	s.mu.Unlock()

	for _, d := range docs {
		if err := d.scheduler.ForceSave(ctx, autosave.TriggerAppClose); err != nil {
			log.Printf("app: close save for %s failed: %v", d.id, err)
		}
		d.scheduler.Close()
		for _, unsub := range d.unsubscribe {
			unsub()
		}
		if s.sessions != nil {
			if err := s.sessions.ClearState(ctx, d.id); err != nil {
				log.Printf("app: clear session state for %s failed: %v", d.id, err)
			}
		}
	}
}

func (s *Service) openDocument(ctx context.Context, id string) (*openDoc, error) {
	s.mu.Lock()
	if d, ok := s.open[id]; ok {
		s.mu.Unlock()
		return d, nil
	}
	s.mu.Unlock()

	record, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}

	content, _, _, err := s.git.HeadSnapshot(id)
	if err != nil {
		return nil, fmt.Errorf("load snapshot for %s: %w", id, err)
	}
	doc, err := docmodel.FromJSON(content)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot for %s: %w", id, err)
	}

	d := s.wire(record.ID, record.Title, doc)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.open[id]; ok {
		// Lost the race to another opener; discard our wiring.
		d.scheduler.Close()
		for _, unsub := range d.unsubscribe {
			unsub()
		}
		return existing, nil
	}
	s.open[id] = d
	return d, nil
}

// wire builds the per-document engine, scheduler and router, and hooks
// document mutations into the scheduler's trigger pipeline.
func (s *Service) wire(id, title string, doc *docmodel.Document) *openDoc {
	d := &openDoc{id: id, title: title, doc: doc}
	d.engine = revision.New(doc)
	d.scheduler = autosave.New(doc, s.persistFunc(d), autosave.Config{
		UserInputDelay:   s.cfg.UserInputDelay,
		AIContentDelay:   s.cfg.AIContentDelay,
		PeriodicInterval: s.cfg.PeriodicInterval,
		MaxRetries:       s.cfg.MaxRetries,
		RetryDelay:       s.cfg.RetryDelay,
		Enabled:          s.cfg.AutosaveEnabled,
	})
	d.router = stream.NewRouter(doc, d.engine)

	unsubChange := doc.OnChange(func(origin docmodel.Origin) {
		switch origin {
		case docmodel.OriginAI:
			d.scheduler.NotifyChange(autosave.TriggerAIContent)
		case docmodel.OriginLoad:
			// Loading a snapshot is not an edit.
		default:
			d.scheduler.NotifyChange(autosave.TriggerUserInput)
		}
	})
	unsubStatus := d.scheduler.Subscribe(func(st autosave.Status) {
		if s.sessions == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.sessions.PublishState(ctx, id, st); err != nil {
			log.Printf("app: publish save state for %s: %v", id, err)
		}
	})
	d.unsubscribe = []func(){unsubChange, unsubStatus}
	return d
}

// persistFunc builds the scheduler's save callback for one document. A
// save is committed when the git snapshot and the journal row land; the
// plain-text refresh, search indexing and archive upload are best-effort.
func (s *Service) persistFunc(d *openDoc) autosave.SaveFunc {
	return func(ctx context.Context, info autosave.TaskInfo, content, state []byte) error {
		started := time.Now()
		commit, err := s.git.CommitSnapshot(d.id, content, state, string(info.Trigger), "redline")
		// The row id is per attempt; retries of one task journal
		// separate rows grouped by TaskID.
		rec := store.SaveRecord{
			ID:         util.NewID("jrnl"),
			TaskID:     info.ID,
			DocumentID: d.id,
			Trigger:    string(info.Trigger),
			RetryCount: info.RetryCount,
			DurationMS: time.Since(started).Milliseconds(),
		}
		if err != nil {
			rec.Outcome = store.OutcomeFailed
			rec.Error = err.Error()
			if recErr := s.store.RecordSave(ctx, rec); recErr != nil {
				log.Printf("app: record failed save for %s: %v", d.id, recErr)
			}
			return fmt.Errorf("commit snapshot: %w", err)
		}

		rec.Outcome = store.OutcomeCommitted
		rec.CommitHash = commit.Hash
		if err := s.store.RecordSave(ctx, rec); err != nil {
			return fmt.Errorf("record save: %w", err)
		}

		plain := d.doc.PlainText()
		if err := s.store.UpdateDocumentText(ctx, d.id, plain); err != nil {
			log.Printf("app: refresh document text for %s: %v", d.id, err)
		}
		if s.search != nil {
			s.search.IndexDocument(search.DocumentRecord{
				ID:      d.id,
				Title:   d.title,
				Text:    plain,
				SavedAt: time.Now().Unix(),
			})
		}

		d.seqMu.Lock()
		d.saveSeq++
		seq := d.saveSeq
		d.seqMu.Unlock()
		if s.archive != nil && s.archive.ShouldArchive(seq) {
			if err := s.archive.Put(ctx, d.id, seq, content); err != nil {
				log.Printf("app: archive snapshot %d for %s: %v", seq, d.id, err)
			}
		}
		return nil
	}
}

func (s *Service) payload(d *openDoc) *DocumentPayload {
	content, state := d.doc.Snapshot()
	return &DocumentPayload{
		ID:        d.id,
		Title:     d.title,
		Content:   content,
		State:     state,
		Revisions: d.engine.PendingRevisions(),
		Save:      d.scheduler.Status(),
	}
}

// Package stream routes an ordered sequence of AI response fragments to
// either a growing thinking block or the revision engine. Fragments are
// processed strictly in arrival order; later fragments depend on state
// mutated by earlier ones.
package stream

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"

	"redline/engine/internal/docmodel"
	"redline/engine/internal/revision"
)

// FragmentType classifies a stream fragment.
type FragmentType string

const (
	FragmentThinking FragmentType = "thinking"
	FragmentAction   FragmentType = "action"
	FragmentError    FragmentType = "error"
)

// Fragment is one element of a finite, non-restartable response stream.
type Fragment struct {
	Type    FragmentType `json:"type"`
	Content string       `json:"content"`
	Partial bool         `json:"partial,omitempty"`
}

// ThinkingBlock is a coalesced reasoning trace: many small thinking
// fragments join into one growing block, not one block per fragment.
type ThinkingBlock struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Result summarizes one consumed stream.
type Result struct {
	Thinking    []ThinkingBlock `json:"thinking"`
	RevisionIDs []string        `json:"revisionIds"`
	Errors      []string        `json:"errors,omitempty"`
}

type activeSelection struct {
	anchor docmodel.Anchor
	text   string
	// revID is set once the first (partial) fragment proposed a
	// substitution; later partials update that same revision.
	revID string
}

// Router dispatches fragments for one document. Entry points serialize
// through an internal lock so one stream's side effects are never
// reordered relative to another's.
type Router struct {
	doc    *docmodel.Document
	engine *revision.Engine

	mu      sync.Mutex
	current *ThinkingBlock
	active  *activeSelection

	// OnThinking, if set, receives the thinking block after each append.
	OnThinking func(ThinkingBlock)
	// OnError, if set, receives surfaced stream errors.
	OnError func(string)
}

// NewRouter returns a router proposing edits on doc through engine.
func NewRouter(doc *docmodel.Document, engine *revision.Engine) *Router {
	return &Router{doc: doc, engine: engine}
}

// SetActiveSelection records the anchored range an incoming action will
// substitute. The range's current text is captured now; the anchor stays
// fixed across partial fragments.
func (r *Router) SetActiveSelection(a docmodel.Anchor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	text := ""
	r.doc.Read(func(root *docmodel.Node) {
		block, err := docmodel.BlockAt(root, a.Block)
		if err != nil {
			return
		}
		working := block.Clone()
		if cut, err := docmodel.CutRange(working, a.From, a.To); err == nil {
			text = cut
		}
	})
	r.active = &activeSelection{anchor: a, text: text}
	r.doc.SetSelection(a)
}

// ClearActiveSelection drops the recorded selection.
func (r *Router) ClearActiveSelection() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearActiveLocked()
}

func (r *Router) clearActiveLocked() {
	r.active = nil
	r.doc.ClearSelection()
}

// Consume drains a finite fragment stream in arrival order. The stream
// is not restartable; each chat turn opens a fresh one. A still-open
// thinking block is closed when the stream ends. An error fragment
// terminates handling: the rest of the stream is drained without side
// effects so the producer never blocks.
func (r *Router) Consume(ctx context.Context, fragments <-chan Fragment) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res Result
	for {
		select {
		case <-ctx.Done():
			r.closeThinking(&res)
			return res
		case f, ok := <-fragments:
			if !ok {
				r.closeThinking(&res)
				return res
			}
			if stop := r.handle(f, &res); stop {
				r.drain(ctx, fragments)
				return res
			}
		}
	}
}

// drain discards the remainder of a terminated stream.
func (r *Router) drain(ctx context.Context, fragments <-chan Fragment) {
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-fragments:
			if !ok {
				return
			}
			log.Printf("stream: dropping %s fragment after stream error", f.Type)
		}
	}
}

// Process handles an already-ordered batch of fragments. Fragments
// after an error fragment are dropped.
func (r *Router) Process(fragments []Fragment) Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res Result
	for i, f := range fragments {
		if stop := r.handle(f, &res); stop {
			if dropped := len(fragments) - i - 1; dropped > 0 {
				log.Printf("stream: dropping %d fragments after stream error", dropped)
			}
			return res
		}
	}
	r.closeThinking(&res)
	return res
}

// handle dispatches one fragment. It reports whether the stream is
// terminated and no further fragments may take effect.
func (r *Router) handle(f Fragment, res *Result) bool {
	switch f.Type {
	case FragmentThinking:
		if r.current == nil {
			r.current = &ThinkingBlock{ID: uuid.NewString()}
			r.current.Text = f.Content
		} else if f.Content != "" {
			if r.current.Text != "" {
				r.current.Text += "\n"
			}
			r.current.Text += f.Content
		}
		if r.OnThinking != nil {
			r.OnThinking(*r.current)
		}

	case FragmentAction:
		r.closeThinking(res)
		r.routeAction(f, res)

	case FragmentError:
		r.closeThinking(res)
		r.clearActiveLocked()
		res.Errors = append(res.Errors, f.Content)
		if r.OnError != nil {
			r.OnError(f.Content)
		}
		return true

	default:
		log.Printf("stream: dropping fragment of unknown type %q", f.Type)
	}
	return false
}

// routeAction turns an action payload into a revision proposal: a
// substitution over the active selection when one is anchored, an
// addition at the cursor otherwise.
func (r *Router) routeAction(f Fragment, res *Result) {
	if f.Content == "" {
		log.Printf("stream: dropping empty action fragment")
		return
	}
	if r.active != nil && r.active.text == "" {
		// A collapsed selection has nothing to substitute.
		r.clearActiveLocked()
	}
	if r.active != nil {
		if r.active.revID != "" {
			if !r.engine.UpdateReplacement(r.active.revID, f.Content) {
				log.Printf("stream: revision %s vanished mid-stream", r.active.revID)
				r.active = nil
			}
		} else {
			anchor := r.active.anchor
			id, err := r.engine.Propose(revision.Proposal{
				Kind:        revision.KindSubstitution,
				Original:    r.active.text,
				Replacement: f.Content,
				At:          &anchor,
				Origin:      docmodel.OriginAI,
			})
			if err != nil {
				res.Errors = append(res.Errors, err.Error())
				r.active = nil
				return
			}
			r.active.revID = id
			res.RevisionIDs = append(res.RevisionIDs, id)
		}
		if !f.Partial {
			r.clearActiveLocked()
		}
		return
	}

	id, err := r.engine.Propose(revision.Proposal{
		Kind:        revision.KindAddition,
		Replacement: f.Content,
		Origin:      docmodel.OriginAI,
	})
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return
	}
	res.RevisionIDs = append(res.RevisionIDs, id)
}

func (r *Router) closeThinking(res *Result) {
	if r.current == nil {
		return
	}
	res.Thinking = append(res.Thinking, *r.current)
	r.current = nil
}

// Package revision owns the lifecycle of proposed-edit nodes embedded in
// the document tree: proposal, accept/reject transitions and bulk
// resolution. The tree is the single source of truth for pending
// revisions; the engine keeps no registry of its own.
package revision

import (
	"errors"
	"fmt"
	"sync"

	"redline/engine/internal/docmodel"
	"redline/engine/internal/util"
)

// Kind classifies a proposed edit.
type Kind string

const (
	KindAddition     Kind = "addition"
	KindDeletion     Kind = "deletion"
	KindSubstitution Kind = "substitution"
)

// ErrInvalidRevisionKind is returned when a proposal's content fields do
// not match its kind, e.g. a substitution missing either side.
var ErrInvalidRevisionKind = errors.New("invalid revision proposal for kind")

// errNotFound aborts a resolution transaction without mutating the tree.
var errNotFound = errors.New("revision not found")

const (
	attrID          = "id"
	attrKind        = "kind"
	attrStatus      = "status"
	attrOriginal    = "original"
	attrReplacement = "replacement"
	attrComment     = "comment"

	statusPending = "pending"
)

// Proposal describes a revision to embed in the document.
type Proposal struct {
	Kind        Kind
	Original    string
	Replacement string
	Comment     string
	// At anchors the proposal; nil uses the document's active selection,
	// falling back to the end of the last block.
	At *docmodel.Anchor
	// Origin tags the committing transaction; defaults to OriginUser.
	Origin docmodel.Origin
}

// Pending is a traversal snapshot of one unresolved revision. Position is
// the plain-text offset of the node's start; it is stale as soon as the
// document mutates.
type Pending struct {
	ID          string `json:"id"`
	Kind        Kind   `json:"kind"`
	Original    string `json:"original,omitempty"`
	Replacement string `json:"replacement,omitempty"`
	Comment     string `json:"comment,omitempty"`
	Position    int    `json:"position"`
}

// Engine mutates a document's revision nodes through atomic transactions.
type Engine struct {
	doc *docmodel.Document

	mu      sync.Mutex
	subs    map[int]func(count int)
	nextSub int
}

// New returns an engine operating on doc.
func New(doc *docmodel.Document) *Engine {
	return &Engine{doc: doc, subs: make(map[int]func(int))}
}

// Propose validates the proposal and inserts a revision node at its
// anchor as one atomic transaction. It returns the new revision's id.
// This is the only construction path for revision nodes.
func (e *Engine) Propose(p Proposal) (string, error) {
	anchor := p.At
	if anchor == nil {
		anchor = e.doc.Selection()
	}
	if err := validate(p, anchor); err != nil {
		return "", err
	}
	origin := p.Origin
	if origin == "" {
		origin = docmodel.OriginUser
	}

	id := util.NewID("rev")
	err := e.doc.Apply(origin, func(root *docmodel.Node) error {
		a := anchor
		if a == nil {
			a = endOfDocument(root)
		}
		block, err := docmodel.BlockAt(root, a.Block)
		if err != nil {
			return fmt.Errorf("resolve anchor: %w", err)
		}

		visible := p.Replacement
		original := p.Original
		if p.Kind != KindAddition {
			removed, err := docmodel.CutRange(block, a.From, a.To)
			if err != nil {
				return fmt.Errorf("cut anchored range: %w", err)
			}
			// The tree, not the caller, is authoritative for what the
			// proposal covers.
			if removed != "" {
				original = removed
			}
			if original == "" {
				return fmt.Errorf("empty anchored range: %w", ErrInvalidRevisionKind)
			}
			visible = original
		}

		node := &docmodel.Node{
			Type:    docmodel.TypeRevision,
			Content: []*docmodel.Node{docmodel.NewTextNode(visible)},
		}
		node.SetAttr(attrID, id)
		node.SetAttr(attrKind, string(p.Kind))
		node.SetAttr(attrStatus, statusPending)
		node.SetAttr(attrOriginal, original)
		node.SetAttr(attrReplacement, p.Replacement)
		if p.Comment != "" {
			node.SetAttr(attrComment, p.Comment)
		}
		docmodel.InsertInline(block, min(a.From, a.To), node)
		return nil
	})
	if err != nil {
		return "", err
	}
	e.emitPendingChanged()
	return id, nil
}

// Accept resolves the revision in favour of the proposed change. It
// returns false, with no mutation, when no pending node carries the id.
func (e *Engine) Accept(id string) bool {
	return e.resolve(id, true)
}

// Reject resolves the revision by restoring the prior content. Same
// not-found semantics as Accept.
func (e *Engine) Reject(id string) bool {
	return e.resolve(id, false)
}

func (e *Engine) resolve(id string, accept bool) bool {
	err := e.doc.Apply(docmodel.OriginRevision, func(root *docmodel.Node) error {
		var parent *docmodel.Node
		index := -1
		docmodel.Walk(root, func(n, p *docmodel.Node, i int) bool {
			if n.Type == docmodel.TypeRevision && n.Attr(attrID) == id && n.Attr(attrStatus) == statusPending {
				parent, index = p, i
				return false
			}
			return true
		})
		if parent == nil {
			return errNotFound
		}
		node := parent.Content[index]
		final := resolution(Kind(node.Attr(attrKind)), node, accept)
		if final == "" {
			docmodel.ReplaceChild(parent, index)
		} else {
			docmodel.ReplaceChild(parent, index, docmodel.NewTextNode(final))
		}
		return nil
	})
	if err != nil {
		return false
	}
	e.emitPendingChanged()
	return true
}

// resolution returns the text that replaces the revision node, empty when
// the node disappears entirely.
func resolution(kind Kind, node *docmodel.Node, accept bool) string {
	switch kind {
	case KindDeletion:
		if accept {
			return ""
		}
		return node.Attr(attrOriginal)
	case KindAddition:
		if accept {
			return node.Attr(attrReplacement)
		}
		return ""
	case KindSubstitution:
		if accept {
			return node.Attr(attrReplacement)
		}
		return node.Attr(attrOriginal)
	default:
		return ""
	}
}

// UpdateReplacement rewrites the proposed content of a pending revision
// in place, keeping its anchor and original text fixed. Used by streaming
// producers that refine one proposal across partial fragments. Fails
// closed like Accept/Reject.
func (e *Engine) UpdateReplacement(id, replacement string) bool {
	if replacement == "" {
		return false
	}
	err := e.doc.Apply(docmodel.OriginAI, func(root *docmodel.Node) error {
		found := false
		docmodel.Walk(root, func(n, p *docmodel.Node, i int) bool {
			if n.Type == docmodel.TypeRevision && n.Attr(attrID) == id && n.Attr(attrStatus) == statusPending {
				n.SetAttr(attrReplacement, replacement)
				if Kind(n.Attr(attrKind)) == KindAddition {
					n.Content = []*docmodel.Node{docmodel.NewTextNode(replacement)}
				}
				found = true
				return false
			}
			return true
		})
		if !found {
			return errNotFound
		}
		return nil
	})
	if err != nil {
		return false
	}
	e.emitPendingChanged()
	return true
}

// AcceptAll resolves every pending revision in document order, one
// transaction per node, re-deriving the pending set between steps so
// position shifts from earlier resolutions cannot go stale. Returns the
// number of revisions resolved.
func (e *Engine) AcceptAll() int {
	return e.resolveAll(true)
}

// RejectAll is the rejecting mirror of AcceptAll.
func (e *Engine) RejectAll() int {
	return e.resolveAll(false)
}

func (e *Engine) resolveAll(accept bool) int {
	count := 0
	for {
		pending := e.PendingRevisions()
		if len(pending) == 0 {
			break
		}
		if !e.resolve(pending[0].ID, accept) {
			break
		}
		count++
	}
	// Observers converge on the final count even when nothing was pending.
	e.emitPendingChanged()
	return count
}

// PendingRevisions snapshots the pending set via a fresh traversal, in
// document order. Never cached; stale after any document mutation.
func (e *Engine) PendingRevisions() []Pending {
	var out []Pending
	e.doc.Read(func(root *docmodel.Node) {
		offset := 0
		for bi, block := range root.Content {
			if bi > 0 {
				offset++ // newline between blocks in plain text
			}
			for _, child := range block.Content {
				if child.Type == docmodel.TypeRevision && child.Attr(attrStatus) == statusPending {
					out = append(out, Pending{
						ID:          child.Attr(attrID),
						Kind:        Kind(child.Attr(attrKind)),
						Original:    child.Attr(attrOriginal),
						Replacement: child.Attr(attrReplacement),
						Comment:     child.Attr(attrComment),
						Position:    offset,
					})
				}
				offset += len([]rune(child.PlainText()))
			}
		}
	})
	return out
}

// HasPending reports whether any revision is unresolved.
func (e *Engine) HasPending() bool {
	return len(e.PendingRevisions()) > 0
}

// OnPendingChanged subscribes to pending-set changes; the callback
// receives the fresh pending count. The returned function unsubscribes.
func (e *Engine) OnPendingChanged(fn func(count int)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}

func (e *Engine) emitPendingChanged() {
	count := len(e.PendingRevisions())
	e.mu.Lock()
	subs := make([]func(int), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.mu.Unlock()
	for _, fn := range subs {
		fn(count)
	}
}

// validate checks a proposal's shape. A deletion may omit its original
// text when a non-collapsed anchor supplies the covered range; the tree
// text fills it in during the transaction.
func validate(p Proposal, at *docmodel.Anchor) error {
	anchored := at != nil && at.From != at.To
	switch p.Kind {
	case KindAddition:
		if p.Replacement == "" || p.Original != "" {
			return ErrInvalidRevisionKind
		}
	case KindDeletion:
		if p.Replacement != "" {
			return ErrInvalidRevisionKind
		}
		if p.Original == "" && !anchored {
			return ErrInvalidRevisionKind
		}
	case KindSubstitution:
		if p.Original == "" || p.Replacement == "" {
			return ErrInvalidRevisionKind
		}
	default:
		return ErrInvalidRevisionKind
	}
	return nil
}

func endOfDocument(root *docmodel.Node) *docmodel.Anchor {
	last := len(root.Content) - 1
	if last < 0 {
		return &docmodel.Anchor{}
	}
	end := len([]rune(root.Content[last].PlainText()))
	return &docmodel.Anchor{Block: last, From: end, To: end}
}

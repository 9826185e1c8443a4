package docmodel

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Origin tags a committed transaction with what caused it.
type Origin string

const (
	OriginUser     Origin = "user"
	OriginAI       Origin = "ai"
	OriginRevision Origin = "revision"
	OriginLoad     Origin = "load"
)

// Anchor addresses a text range inside one block node: block index in the
// document root, rune offsets within the block's plain text. From == To
// addresses an insertion point.
type Anchor struct {
	Block int `json:"block"`
	From  int `json:"from"`
	To    int `json:"to"`
}

// DocState is the non-content editor state persisted alongside a snapshot.
type DocState struct {
	Version   int64     `json:"version"`
	Selection *Anchor   `json:"selection,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Document owns a node tree and serializes all mutation through atomic
// transactions. Every committed transaction produces exactly one change
// notification.
type Document struct {
	mu        sync.Mutex
	root      *Node
	version   int64
	updatedAt time.Time
	selection *Anchor
	subs      map[int]func(Origin)
	nextSub   int
}

// New returns a document holding a single empty paragraph.
func New() *Document {
	return &Document{
		root: &Node{
			Type:    TypeDoc,
			Content: []*Node{{Type: TypeParagraph}},
		},
		updatedAt: time.Now(),
		subs:      make(map[int]func(Origin)),
	}
}

// FromJSON restores a document from a content snapshot. The restored
// document starts with a fresh version counter and no subscribers.
func FromJSON(content []byte) (*Document, error) {
	var root Node
	if err := json.Unmarshal(content, &root); err != nil {
		return nil, fmt.Errorf("decode document content: %w", err)
	}
	if root.Type != TypeDoc {
		return nil, fmt.Errorf("decode document content: root type %q", root.Type)
	}
	d := New()
	d.root = &root
	return d, nil
}

// Apply runs fn against a working copy of the tree and commits the result
// atomically. If fn returns an error the document is left untouched and no
// change notification fires.
func (d *Document) Apply(origin Origin, fn func(root *Node) error) error {
	d.mu.Lock()
	working := d.root.Clone()
	if err := fn(working); err != nil {
		d.mu.Unlock()
		return err
	}
	d.root = working
	d.version++
	d.updatedAt = time.Now()
	subs := d.snapshotSubs()
	d.mu.Unlock()

	for _, fn := range subs {
		fn(origin)
	}
	return nil
}

// Read runs fn with the live tree under the document lock. fn must not
// mutate the tree or call back into the document.
func (d *Document) Read(fn func(root *Node)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.root)
}

// Snapshot serializes the current content and editor state. The two byte
// slices are independent of the live tree.
func (d *Document) Snapshot() (content, state []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	content, _ = json.Marshal(d.root)
	state, _ = json.Marshal(DocState{
		Version:   d.version,
		Selection: d.selection,
		UpdatedAt: d.updatedAt,
	})
	return content, state
}

// PlainText returns the concatenated text of the document.
func (d *Document) PlainText() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.root.PlainText()
}

// Version returns the number of committed transactions.
func (d *Document) Version() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version
}

// Selection returns the active selection, nil when none.
func (d *Document) Selection() *Anchor {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.selection == nil {
		return nil
	}
	a := *d.selection
	return &a
}

// SetSelection records the active selection.
func (d *Document) SetSelection(a Anchor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.selection = &a
}

// ClearSelection drops the active selection.
func (d *Document) ClearSelection() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.selection = nil
}

// OnChange subscribes to committed transactions. The returned function
// removes the subscription.
func (d *Document) OnChange(fn func(Origin)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subs, id)
	}
}

func (d *Document) snapshotSubs() []func(Origin) {
	out := make([]func(Origin), 0, len(d.subs))
	for _, fn := range d.subs {
		out = append(out, fn)
	}
	return out
}

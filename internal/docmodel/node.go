// Package docmodel provides the structured document tree the revision and
// autosave machinery operates on: typed nodes with attributes, atomic
// transactions, snapshot serialization and change subscriptions.
package docmodel

import "strings"

// Node is a node in the document tree. Block nodes carry Content,
// leaf text nodes carry Text. Attrs hold node-type-specific values.
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []*Node        `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

// Mark is a text formatting mark (bold, italic, link, ...).
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

const (
	TypeDoc       = "doc"
	TypeParagraph = "paragraph"
	TypeText      = "text"
	// TypeRevision marks a proposed-but-unapplied edit embedded in the tree.
	TypeRevision = "revision"
)

// NewTextNode returns a leaf text node.
func NewTextNode(text string) *Node {
	return &Node{Type: TypeText, Text: text}
}

// Clone returns a deep copy of the node and its subtree.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := &Node{Type: n.Type, Text: n.Text}
	if n.Attrs != nil {
		out.Attrs = make(map[string]any, len(n.Attrs))
		for k, v := range n.Attrs {
			out.Attrs[k] = v
		}
	}
	if n.Marks != nil {
		out.Marks = make([]Mark, len(n.Marks))
		for i, m := range n.Marks {
			out.Marks[i] = Mark{Type: m.Type}
			if m.Attrs != nil {
				out.Marks[i].Attrs = make(map[string]any, len(m.Attrs))
				for k, v := range m.Attrs {
					out.Marks[i].Attrs[k] = v
				}
			}
		}
	}
	if n.Content != nil {
		out.Content = make([]*Node, len(n.Content))
		for i, c := range n.Content {
			out.Content[i] = c.Clone()
		}
	}
	return out
}

// Attr reads a string attribute, empty if absent or not a string.
func (n *Node) Attr(key string) string {
	if n.Attrs == nil {
		return ""
	}
	s, _ := n.Attrs[key].(string)
	return s
}

// SetAttr sets a string attribute, allocating the map on first use.
func (n *Node) SetAttr(key, value string) {
	if n.Attrs == nil {
		n.Attrs = make(map[string]any)
	}
	n.Attrs[key] = value
}

// PlainText concatenates the text of every leaf under n, blocks joined
// with newlines.
func (n *Node) PlainText() string {
	if n == nil {
		return ""
	}
	if n.Type == TypeText {
		return n.Text
	}
	var b strings.Builder
	writePlainText(n, &b)
	return b.String()
}

func writePlainText(n *Node, b *strings.Builder) {
	for i, child := range n.Content {
		switch child.Type {
		case TypeText:
			b.WriteString(child.Text)
		default:
			if isBlock(child) && i > 0 {
				b.WriteString("\n")
			}
			writePlainText(child, b)
		}
	}
}

func isBlock(n *Node) bool {
	return n.Type == TypeParagraph || n.Type == TypeDoc
}

// Visitor receives each node with its parent and index within the
// parent's content. Returning false stops the walk.
type Visitor func(n, parent *Node, index int) bool

// Walk traverses the subtree in document order (parents before children,
// siblings left to right).
func Walk(root *Node, visit Visitor) {
	walk(root, nil, 0, visit)
}

func walk(n, parent *Node, index int, visit Visitor) bool {
	if n == nil {
		return true
	}
	if !visit(n, parent, index) {
		return false
	}
	for i, child := range n.Content {
		if !walk(child, n, i, visit) {
			return false
		}
	}
	return true
}

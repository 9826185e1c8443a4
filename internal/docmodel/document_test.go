package docmodel

import (
	"errors"
	"testing"
)

func docWithText(text string) *Document {
	d := New()
	if err := d.Apply(OriginLoad, func(root *Node) error {
		root.Content = []*Node{{Type: TypeParagraph, Content: []*Node{NewTextNode(text)}}}
		return nil
	}); err != nil {
		panic(err)
	}
	return d
}

func TestApplyCommitsAtomically(t *testing.T) {
	d := docWithText("hello")

	if err := d.Apply(OriginUser, func(root *Node) error {
		root.Content[0].Content[0].Text = "hello world"
		return nil
	}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if got := d.PlainText(); got != "hello world" {
		t.Fatalf("PlainText() = %q, want %q", got, "hello world")
	}
}

func TestApplyRollsBackOnError(t *testing.T) {
	d := docWithText("hello")
	before := d.Version()

	boom := errors.New("boom")
	notified := 0
	unsub := d.OnChange(func(Origin) { notified++ })
	defer unsub()

	err := d.Apply(OriginUser, func(root *Node) error {
		root.Content[0].Content[0].Text = "mutated"
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Apply() error = %v, want %v", err, boom)
	}
	if got := d.PlainText(); got != "hello" {
		t.Fatalf("PlainText() after failed apply = %q, want %q", got, "hello")
	}
	if d.Version() != before {
		t.Fatalf("version advanced on failed apply")
	}
	if notified != 0 {
		t.Fatalf("change notification fired on failed apply")
	}
}

func TestApplyNotifiesOncePerCommit(t *testing.T) {
	d := docWithText("hello")

	var origins []Origin
	unsub := d.OnChange(func(o Origin) { origins = append(origins, o) })
	defer unsub()

	for i := 0; i < 3; i++ {
		if err := d.Apply(OriginAI, func(root *Node) error { return nil }); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}
	if len(origins) != 3 {
		t.Fatalf("got %d notifications, want 3", len(origins))
	}
	for _, o := range origins {
		if o != OriginAI {
			t.Fatalf("origin = %q, want %q", o, OriginAI)
		}
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	d := docWithText("hello")
	count := 0
	unsub := d.OnChange(func(Origin) { count++ })
	unsub()

	if err := d.Apply(OriginUser, func(root *Node) error { return nil }); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if count != 0 {
		t.Fatalf("unsubscribed callback fired %d times", count)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	d := docWithText("first block")
	if err := d.Apply(OriginUser, func(root *Node) error {
		root.Content = append(root.Content, &Node{
			Type:    TypeParagraph,
			Content: []*Node{NewTextNode("second block")},
		})
		return nil
	}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	content, state := d.Snapshot()
	if len(state) == 0 {
		t.Fatal("expected state payload")
	}

	restored, err := FromJSON(content)
	if err != nil {
		t.Fatalf("FromJSON() error = %v", err)
	}
	want := "first block\nsecond block"
	if got := restored.PlainText(); got != want {
		t.Fatalf("restored PlainText() = %q, want %q", got, want)
	}
}

func TestFromJSONRejectsNonDocRoot(t *testing.T) {
	if _, err := FromJSON([]byte(`{"type":"paragraph"}`)); err == nil {
		t.Fatal("expected error for non-doc root")
	}
	if _, err := FromJSON([]byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestSelectionLifecycle(t *testing.T) {
	d := docWithText("hello")
	if d.Selection() != nil {
		t.Fatal("new document should have no selection")
	}

	d.SetSelection(Anchor{Block: 0, From: 1, To: 4})
	sel := d.Selection()
	if sel == nil || sel.From != 1 || sel.To != 4 {
		t.Fatalf("Selection() = %+v", sel)
	}

	// The returned anchor is a copy.
	sel.From = 99
	if fresh := d.Selection(); fresh.From != 1 {
		t.Fatalf("selection mutated through returned copy")
	}

	d.ClearSelection()
	if d.Selection() != nil {
		t.Fatal("selection survived ClearSelection")
	}
}

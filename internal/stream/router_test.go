package stream

import (
	"context"
	"strings"
	"testing"

	"redline/engine/internal/docmodel"
	"redline/engine/internal/revision"
)

func newFixture(t *testing.T, text string) (*docmodel.Document, *revision.Engine, *Router) {
	t.Helper()
	d := docmodel.New()
	if err := d.Apply(docmodel.OriginLoad, func(root *docmodel.Node) error {
		root.Content = []*docmodel.Node{{
			Type:    docmodel.TypeParagraph,
			Content: []*docmodel.Node{docmodel.NewTextNode(text)},
		}}
		return nil
	}); err != nil {
		t.Fatalf("seed document: %v", err)
	}
	engine := revision.New(d)
	return d, engine, NewRouter(d, engine)
}

func TestThinkingFragmentsCoalesceIntoOneBlock(t *testing.T) {
	_, _, router := newFixture(t, "content")

	res := router.Process([]Fragment{
		{Type: FragmentThinking, Content: "first"},
		{Type: FragmentThinking, Content: "second"},
		{Type: FragmentThinking, Content: "third"},
	})

	if len(res.Thinking) != 1 {
		t.Fatalf("got %d thinking blocks, want 1", len(res.Thinking))
	}
	want := "first\nsecond\nthird"
	if res.Thinking[0].Text != want {
		t.Fatalf("thinking text = %q, want %q", res.Thinking[0].Text, want)
	}
	if res.Thinking[0].ID == "" {
		t.Fatal("thinking block has no id")
	}
}

func TestActionClosesThinkingBlock(t *testing.T) {
	_, engine, router := newFixture(t, "content")

	res := router.Process([]Fragment{
		{Type: FragmentThinking, Content: "pondering"},
		{Type: FragmentAction, Content: "inserted text"},
		{Type: FragmentThinking, Content: "more pondering"},
	})

	if len(res.Thinking) != 2 {
		t.Fatalf("got %d thinking blocks, want 2", len(res.Thinking))
	}
	if res.Thinking[0].Text != "pondering" || res.Thinking[1].Text != "more pondering" {
		t.Fatalf("thinking = %+v", res.Thinking)
	}
	if res.Thinking[0].ID == res.Thinking[1].ID {
		t.Fatal("separate blocks share an id")
	}
	if len(res.RevisionIDs) != 1 {
		t.Fatalf("got %d revisions, want 1", len(res.RevisionIDs))
	}
	if !engine.HasPending() {
		t.Fatal("action did not leave a pending revision")
	}
}

func TestActionWithoutSelectionProposesAddition(t *testing.T) {
	doc, engine, router := newFixture(t, "existing")

	res := router.Process([]Fragment{
		{Type: FragmentAction, Content: " appended"},
	})

	if len(res.RevisionIDs) != 1 {
		t.Fatalf("got %d revisions, want 1", len(res.RevisionIDs))
	}
	pending := engine.PendingRevisions()
	if len(pending) != 1 || pending[0].Kind != revision.KindAddition {
		t.Fatalf("pending = %+v, want one addition", pending)
	}

	if !engine.Accept(res.RevisionIDs[0]) {
		t.Fatal("Accept() = false")
	}
	if got := doc.PlainText(); got != "existing appended" {
		t.Fatalf("PlainText() = %q, want %q", got, "existing appended")
	}
}

func TestActionOverSelectionProposesSubstitution(t *testing.T) {
	doc, engine, router := newFixture(t, "Hello world")
	router.SetActiveSelection(docmodel.Anchor{Block: 0, From: 0, To: 5})

	res := router.Process([]Fragment{
		{Type: FragmentAction, Content: "Howdy"},
	})

	if len(res.RevisionIDs) != 1 {
		t.Fatalf("got %d revisions, want 1", len(res.RevisionIDs))
	}
	pending := engine.PendingRevisions()
	if len(pending) != 1 || pending[0].Kind != revision.KindSubstitution {
		t.Fatalf("pending = %+v, want one substitution", pending)
	}
	if pending[0].Original != "Hello" || pending[0].Replacement != "Howdy" {
		t.Fatalf("pending = %+v", pending[0])
	}

	if !engine.Accept(res.RevisionIDs[0]) {
		t.Fatal("Accept() = false")
	}
	if got := doc.PlainText(); got != "Howdy world" {
		t.Fatalf("PlainText() = %q, want %q", got, "Howdy world")
	}

	// A completed non-partial action consumes the selection.
	if doc.Selection() != nil {
		t.Fatal("selection survived a completed action")
	}
}

func TestPartialActionsRefineOneRevision(t *testing.T) {
	doc, engine, router := newFixture(t, "Hello world")
	router.SetActiveSelection(docmodel.Anchor{Block: 0, From: 0, To: 5})

	res := router.Process([]Fragment{
		{Type: FragmentAction, Content: "How", Partial: true},
		{Type: FragmentAction, Content: "Howd", Partial: true},
		{Type: FragmentAction, Content: "Howdy"},
	})

	if len(res.RevisionIDs) != 1 {
		t.Fatalf("partial stream produced %d revisions, want 1", len(res.RevisionIDs))
	}
	pending := engine.PendingRevisions()
	if len(pending) != 1 || pending[0].Replacement != "Howdy" {
		t.Fatalf("pending = %+v, want final replacement Howdy", pending)
	}

	if !engine.Accept(res.RevisionIDs[0]) {
		t.Fatal("Accept() = false")
	}
	if got := doc.PlainText(); got != "Howdy world" {
		t.Fatalf("PlainText() = %q, want %q", got, "Howdy world")
	}
}

func TestCollapsedSelectionFallsBackToAddition(t *testing.T) {
	_, engine, router := newFixture(t, "Hello")
	router.SetActiveSelection(docmodel.Anchor{Block: 0, From: 2, To: 2})

	res := router.Process([]Fragment{
		{Type: FragmentAction, Content: "inserted"},
	})

	if len(res.Errors) != 0 {
		t.Fatalf("errors = %v", res.Errors)
	}
	pending := engine.PendingRevisions()
	if len(pending) != 1 || pending[0].Kind != revision.KindAddition {
		t.Fatalf("pending = %+v, want one addition", pending)
	}
}

func TestErrorFragmentTerminatesStream(t *testing.T) {
	doc, engine, router := newFixture(t, "content")

	var surfaced []string
	router.OnError = func(msg string) { surfaced = append(surfaced, msg) }

	res := router.Process([]Fragment{
		{Type: FragmentThinking, Content: "planning"},
		{Type: FragmentError, Content: "provider hiccup"},
		{Type: FragmentAction, Content: "must not be applied"},
	})

	if len(res.Errors) != 1 || res.Errors[0] != "provider hiccup" {
		t.Fatalf("errors = %v", res.Errors)
	}
	if len(surfaced) != 1 {
		t.Fatalf("OnError fired %d times, want 1", len(surfaced))
	}
	// Thinking up to the error still surfaces, closed by the error.
	if len(res.Thinking) != 1 || res.Thinking[0].Text != "planning" {
		t.Fatalf("thinking = %+v", res.Thinking)
	}
	if len(res.RevisionIDs) != 0 {
		t.Fatalf("action after error produced %d revisions, want 0", len(res.RevisionIDs))
	}
	if engine.HasPending() {
		t.Fatal("action after error left a pending revision")
	}
	if got := doc.PlainText(); got != "content" {
		t.Fatalf("PlainText() = %q, want untouched %q", got, "content")
	}
}

func TestErrorFragmentDropsActiveSelection(t *testing.T) {
	doc, _, router := newFixture(t, "Hello world")
	router.SetActiveSelection(docmodel.Anchor{Block: 0, From: 0, To: 5})

	router.Process([]Fragment{
		{Type: FragmentError, Content: "stream cut"},
	})

	if doc.Selection() != nil {
		t.Fatal("selection survived a stream error")
	}
}

func TestConsumeDrainsRemainderAfterError(t *testing.T) {
	_, engine, router := newFixture(t, "content")

	fragments := make(chan Fragment, 3)
	fragments <- Fragment{Type: FragmentError, Content: "transport failure"}
	fragments <- Fragment{Type: FragmentAction, Content: "late action"}
	fragments <- Fragment{Type: FragmentThinking, Content: "late thinking"}
	close(fragments)

	res := router.Consume(context.Background(), fragments)
	if len(res.Errors) != 1 || res.Errors[0] != "transport failure" {
		t.Fatalf("errors = %v", res.Errors)
	}
	if len(res.RevisionIDs) != 0 || len(res.Thinking) != 0 {
		t.Fatalf("result after error = %+v, want no revisions or thinking", res)
	}
	if engine.HasPending() {
		t.Fatal("drained fragment created a revision")
	}
	if len(fragments) != 0 {
		t.Fatalf("%d fragments left unconsumed", len(fragments))
	}
}

func TestEmptyAndUnknownFragmentsAreDropped(t *testing.T) {
	_, engine, router := newFixture(t, "content")

	res := router.Process([]Fragment{
		{Type: FragmentAction, Content: ""},
		{Type: FragmentType("telemetry"), Content: "ignored"},
	})

	if len(res.RevisionIDs) != 0 || len(res.Errors) != 0 {
		t.Fatalf("result = %+v, want empty", res)
	}
	if engine.HasPending() {
		t.Fatal("dropped fragments created revisions")
	}
}

func TestConsumeDrainsChannelAndClosesThinking(t *testing.T) {
	_, _, router := newFixture(t, "content")

	fragments := make(chan Fragment, 3)
	fragments <- Fragment{Type: FragmentThinking, Content: "a"}
	fragments <- Fragment{Type: FragmentThinking, Content: "b"}
	close(fragments)

	res := router.Consume(context.Background(), fragments)
	if len(res.Thinking) != 1 || res.Thinking[0].Text != "a\nb" {
		t.Fatalf("thinking = %+v", res.Thinking)
	}
}

func TestConsumeStopsOnContextCancel(t *testing.T) {
	_, _, router := newFixture(t, "content")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fragments := make(chan Fragment) // never written, never closed
	res := router.Consume(ctx, fragments)
	if len(res.Thinking) != 0 || len(res.RevisionIDs) != 0 {
		t.Fatalf("result = %+v, want empty", res)
	}
}

func TestOnThinkingStreamsGrowingBlock(t *testing.T) {
	_, _, router := newFixture(t, "content")

	var snapshots []string
	router.OnThinking = func(b ThinkingBlock) { snapshots = append(snapshots, b.Text) }

	router.Process([]Fragment{
		{Type: FragmentThinking, Content: "one"},
		{Type: FragmentThinking, Content: "two"},
	})

	if len(snapshots) != 2 {
		t.Fatalf("OnThinking fired %d times, want 2", len(snapshots))
	}
	if snapshots[0] != "one" || !strings.HasSuffix(snapshots[1], "two") {
		t.Fatalf("snapshots = %v", snapshots)
	}
}

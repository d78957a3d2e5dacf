package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/resourcefinder/models"
	"github.com/mohammad-safakhou/resourcefinder/tools/deep_research"
)

type fakeDistiller struct {
	query string
	err   error
	seen  models.Conversation
}

func (f *fakeDistiller) Distill(_ context.Context, c models.Conversation) (string, error) {
	f.seen = c
	return f.query, f.err
}

type fakeResearcher struct {
	report         string
	err            error
	calls          int
	query          string
	breadth, depth int
}

func (f *fakeResearcher) Research(_ context.Context, q string, breadth, depth int) (string, error) {
	f.calls++
	f.query, f.breadth, f.depth = q, breadth, depth
	return f.report, f.err
}

func conversation() models.Conversation {
	return models.Conversation{
		{Role: models.RoleSystem, Content: "sys"},
		{Role: models.RoleUser, Content: "I need shelter in Oakland"},
	}
}

func TestDefinitions(t *testing.T) {
	defs := Definitions()
	if len(defs) != 1 || defs[0].Name != "list_eligible_resources" {
		t.Fatalf("unexpected catalog %+v", defs)
	}
	if defs[0].Parameters["type"] != "object" {
		t.Fatalf("expected an empty object schema")
	}
	if _, ok := Lookup("list_eligible_resources"); !ok {
		t.Fatalf("registered tool not found")
	}
	if _, ok := Lookup("delete_everything"); ok {
		t.Fatalf("unexpected tool found")
	}
}

func TestDispatchListEligibleResources(t *testing.T) {
	dist := &fakeDistiller{query: "emergency shelter Oakland"}
	res := &fakeResearcher{report: "# Shelters\n- St. Vincent de Paul"}
	d := NewDispatcher(dist, res, 1, 2, nil)

	conv := conversation()
	exec, err := d.Dispatch(context.Background(), models.ToolCall{ID: "call_1", Name: "list_eligible_resources"}, conv)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if exec.ToolCallID != "call_1" || exec.Name != "list_eligible_resources" || exec.Content != res.report {
		t.Fatalf("unexpected result %+v", exec.ToolResult)
	}
	if exec.Query != "emergency shelter Oakland" {
		t.Fatalf("unexpected query %q", exec.Query)
	}
	if res.query != exec.Query || res.breadth != 1 || res.depth != 2 {
		t.Fatalf("unexpected research call %+v", res)
	}
	if len(dist.seen) != len(conv) {
		t.Fatalf("distiller must see the full history")
	}
	dist.seen[1].Content = "mutated"
	if conv[1].Content == "mutated" {
		t.Fatalf("dispatcher must hand out a copy of the conversation")
	}
}

func TestDispatchEmptyReport(t *testing.T) {
	d := NewDispatcher(&fakeDistiller{query: "food bank Fresno"}, &fakeResearcher{}, 1, 2, nil)
	exec, err := d.Dispatch(context.Background(), models.ToolCall{ID: "c", Name: "list_eligible_resources"}, conversation())
	if err != nil {
		t.Fatalf("empty report must not fail: %v", err)
	}
	if !strings.Contains(exec.Content, "no matching resources") || !strings.Contains(exec.Content, "food bank Fresno") {
		t.Fatalf("unexpected content %q", exec.Content)
	}
}

func TestDispatchSanitizesReport(t *testing.T) {
	res := &fakeResearcher{report: "<div>Dolores Street Community Services</div><script>track()</script>\n\n\n\nOpen 24h"}
	d := NewDispatcher(&fakeDistiller{query: "shelter"}, res, 1, 2, nil)
	exec, err := d.Dispatch(context.Background(), models.ToolCall{ID: "c", Name: "list_eligible_resources"}, conversation())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if exec.Content != "Dolores Street Community Services\n\nOpen 24h" {
		t.Fatalf("unexpected content %q", exec.Content)
	}

	res.report = "<h2>Shelters</h2>\n- Larkin Street Youth: <https://larkinstreetyouth.org>, ages <25, call <tel:4155551234>"
	exec, err = d.Dispatch(context.Background(), models.ToolCall{ID: "c", Name: "list_eligible_resources"}, conversation())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	for _, want := range []string{"<https://larkinstreetyouth.org>", "ages <25", "<tel:4155551234>"} {
		if !strings.Contains(exec.Content, want) {
			t.Fatalf("contact details lost: %q missing from %q", want, exec.Content)
		}
	}
	if strings.Contains(exec.Content, "<h2>") {
		t.Fatalf("markup should be stripped, got %q", exec.Content)
	}

	res.report = "<p> </p>"
	exec, err = d.Dispatch(context.Background(), models.ToolCall{ID: "c", Name: "list_eligible_resources"}, conversation())
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !strings.Contains(exec.Content, "no matching resources") {
		t.Fatalf("markup-only report should count as empty, got %q", exec.Content)
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	res := &fakeResearcher{}
	d := NewDispatcher(&fakeDistiller{query: "q"}, res, 1, 2, nil)
	_, err := d.Dispatch(context.Background(), models.ToolCall{ID: "c", Name: "send_email"}, conversation())
	var uerr *UnknownToolError
	if !errors.As(err, &uerr) || uerr.Name != "send_email" || !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected UnknownToolError, got %v", err)
	}
	if res.calls != 0 {
		t.Fatalf("no research expected")
	}
}

func TestDispatchPropagatesFailures(t *testing.T) {
	distErr := errors.New("distill broke")
	researchErr := &deep_research.Error{Kind: deep_research.ErrServiceUnreachable}

	res := &fakeResearcher{}
	d := NewDispatcher(&fakeDistiller{err: distErr}, res, 1, 2, nil)
	if _, err := d.Dispatch(context.Background(), models.ToolCall{Name: "list_eligible_resources"}, conversation()); !errors.Is(err, distErr) {
		t.Fatalf("expected distill error, got %v", err)
	}
	if res.calls != 0 {
		t.Fatalf("research must not run after a distill failure")
	}

	d = NewDispatcher(&fakeDistiller{query: "q"}, &fakeResearcher{err: researchErr}, 1, 2, nil)
	_, err := d.Dispatch(context.Background(), models.ToolCall{Name: "list_eligible_resources"}, conversation())
	if !errors.Is(err, deep_research.ErrServiceUnreachable) {
		t.Fatalf("expected unreachable error, got %v", err)
	}
}

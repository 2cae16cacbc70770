package multicall

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestExecutor_FailingMiddleCallDoesNotAbort(t *testing.T) {
	var order []string
	inv := InvokerFunc(func(_ context.Context, tool string, _ map[string]any) (string, error) {
		order = append(order, tool)
		if tool == "delete" {
			return "", errors.New("Instance not found")
		}
		return "ok " + tool, nil
	})
	rep := New(inv, 1<<20).Run(context.Background(), []Call{
		{Tool: "tree"}, {Tool: "delete", Args: map[string]any{"path": "game.Missing"}}, {Tool: "get"},
	})

	if strings.Join(order, ",") != "tree,delete,get" {
		t.Fatalf("calls out of order: %v", order)
	}
	if rep.Succeeded != 2 || rep.Failed != 1 || !rep.IsError() {
		t.Fatalf("counts: %+v", rep)
	}
	if rep.Entries[1].Success || rep.Entries[1].Output != "Instance not found" {
		t.Fatalf("middle entry: %+v", rep.Entries[1])
	}

	text := rep.Text()
	for _, want := range []string{
		"=== Multi Tool Results (3 calls) ===",
		"[1] TREE: ✅ Success\nok tree",
		"[2] DELETE: ❌ Error\nInstance not found",
		"[3] GET: ✅ Success\nok get",
		"Summary: 2 succeeded, 1 failed",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("report missing %q:\n%s", want, text)
		}
	}
}

func TestExecutor_TruncatesPastHalfBudget(t *testing.T) {
	big := strings.Repeat("x", 60)
	calls := 0
	inv := InvokerFunc(func(_ context.Context, tool string, _ map[string]any) (string, error) {
		calls++
		if tool == "fail" {
			return "", errors.New("boom")
		}
		return big, nil
	})
	// Budget is 50 bytes: the first entry fits, everything after is truncated.
	rep := New(inv, 100).Run(context.Background(), []Call{{Tool: "tree"}, {Tool: "get"}, {Tool: "fail"}})

	if calls != 3 {
		t.Fatalf("truncation must not stop execution, ran %d calls", calls)
	}
	if rep.Entries[0].Truncated || rep.Entries[0].Output != big {
		t.Fatalf("first entry should be intact: %+v", rep.Entries[0])
	}
	for _, e := range rep.Entries[1:] {
		if !e.Truncated || e.Output != TruncatedMarker {
			t.Fatalf("expected truncated entry: %+v", e)
		}
	}
	if rep.Entries[2].Success {
		t.Fatalf("truncated entry must keep its real status")
	}
	if rep.Failed != 1 {
		t.Fatalf("failed count: %d", rep.Failed)
	}
}

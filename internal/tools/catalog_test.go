package tools

import (
	"errors"
	"strings"
	"testing"

	"github.com/basket/toolrelay/internal/relay"
)

func TestCatalog_KnowsEveryAgentTool(t *testing.T) {
	c := MustCatalog()
	want := []string{
		"tree", "create", "get", "modifyObject", "delete", "copy", "readLine", "deleteLines",
		"insertLines", "getScriptInfo", "scriptSearch", "scriptSearchOnly", "editScript", "convertScript",
	}
	for _, name := range want {
		if !c.Has(name) {
			t.Errorf("catalog missing %s", name)
		}
	}
	if got := len(c.Names()); got != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), got)
	}
}

func TestCatalog_Validate(t *testing.T) {
	c := MustCatalog()
	if err := c.Validate("deleteLines", map[string]any{"path": "game.S", "startLine": 1, "endLine": 3.0}); err != nil {
		t.Fatalf("valid args rejected: %v", err)
	}

	err := c.Validate("copy", map[string]any{"sourcePath": "workspace.Model"})
	if !errors.Is(err, relay.ErrValidation) {
		t.Fatalf("missing targetPath should fail validation, got %v", err)
	}
	if strings.Contains(err.Error(), "\n") {
		t.Fatalf("validation message should be a single line: %q", err.Error())
	}

	if err := c.Validate("convertScript", map[string]any{"path": "game.S", "targetType": "Folder"}); err == nil {
		t.Fatalf("targetType outside the enum should fail")
	}
	if err := c.Validate("nope", nil); err == nil || err.Error() != "Unknown tool: nope" {
		t.Fatalf("unknown tool: %v", err)
	}
}

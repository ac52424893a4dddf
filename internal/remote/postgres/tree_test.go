package postgres

import (
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"github.com/PumpeDie/teamup/internal/remote"
)

func TestFlattenAssembleRoundTrip(t *testing.T) {
	raw := json.RawMessage(`{"teamName":"Alpha","memberIds":["u1","u2"],"meta":{"createdAt":1735689600123,"empty":{}},"gone":null}`)
	leaves, err := flatten("teams/t1", raw)
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	var paths []string
	for _, l := range leaves {
		paths = append(paths, l.Path)
	}
	want := []string{"teams/t1/memberIds", "teams/t1/meta/createdAt", "teams/t1/teamName"}
	if !slices.Equal(paths, want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}

	out, err := assemble("teams/t1", leaves)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	var got struct {
		TeamName  string   `json:"teamName"`
		MemberIDs []string `json:"memberIds"`
		Meta      struct {
			CreatedAt int64 `json:"createdAt"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.TeamName != "Alpha" || len(got.MemberIDs) != 2 || got.Meta.CreatedAt != 1735689600123 {
		t.Fatalf("unexpected value %s", out)
	}
}

func TestAssembleScalarAndMissing(t *testing.T) {
	out, err := assemble("users/u1/username", []leaf{{Path: "users/u1/username", Value: json.RawMessage(`"ada"`)}})
	if err != nil || string(out) != `"ada"` {
		t.Fatalf("scalar assemble: %s %v", out, err)
	}
	if _, err := assemble("users/u2", nil); !errors.Is(err, remote.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFlattenRejectsBadInput(t *testing.T) {
	if _, err := flatten("", json.RawMessage(`"scalar"`)); err == nil {
		t.Fatalf("expected error for scalar root")
	}
	if _, err := flatten("teams", json.RawMessage(`{"a/b":1}`)); err == nil {
		t.Fatalf("expected error for key with a slash")
	}
	leaves, err := flatten("teams/t1", json.RawMessage(`null`))
	if err != nil || len(leaves) != 0 {
		t.Fatalf("null should flatten to nothing: %v %v", leaves, err)
	}
}

func TestPathHelpers(t *testing.T) {
	if got := ancestors("teams/t1/tasks/x"); !slices.Equal(got, []string{"teams", "teams/t1", "teams/t1/tasks"}) {
		t.Fatalf("ancestors = %v", got)
	}
	if got := likePrefix("teams/t_1"); got != `teams/t\_1/%` {
		t.Fatalf("likePrefix = %q", got)
	}
	if got := likePrefix(""); got != "%" {
		t.Fatalf("likePrefix root = %q", got)
	}
	if got := lockKey("teams/t1/messages/r1/m1"); got != "teams/t1" {
		t.Fatalf("lockKey = %q", got)
	}
	if got := lockKey("users"); got != "users" {
		t.Fatalf("lockKey short = %q", got)
	}
}

func TestFieldPathsStayBelowNode(t *testing.T) {
	fields := map[string]any{"teamName": "Beta", "memberIds": []string{"u1"}, "adminIds": []string{"u1"}}
	got, err := fieldPaths("teams/t1", fields)
	if err != nil {
		t.Fatalf("fieldPaths: %v", err)
	}
	var paths []string
	for _, f := range got {
		paths = append(paths, f.path)
		if _, ok := fields[f.key]; !ok {
			t.Fatalf("unknown key %q", f.key)
		}
	}
	want := []string{"teams/t1/adminIds", "teams/t1/memberIds", "teams/t1/teamName"}
	if !slices.Equal(paths, want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	// Only these rows are cleared, so the team's collections survive.
	for _, p := range paths {
		if likePrefix(p) == likePrefix("teams/t1") {
			t.Fatalf("%s would clear the whole team", p)
		}
	}
	if _, err := fieldPaths("teams/t1", map[string]any{"/": 1}); err == nil {
		t.Fatalf("expected error for empty field name")
	}
}

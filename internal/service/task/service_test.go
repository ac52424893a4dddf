package task

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/PumpeDie/teamup/internal/auth"
	"github.com/PumpeDie/teamup/internal/directory"
	"github.com/PumpeDie/teamup/internal/domain"
	"github.com/PumpeDie/teamup/internal/remote"
	"github.com/PumpeDie/teamup/internal/remote/memory"
	"github.com/PumpeDie/teamup/internal/service/team"
)

func as(userID string) context.Context {
	return auth.WithUser(context.Background(), userID)
}

// newService returns a task service over a team owned by U1 with U2 as
// admin and U3, U4 as plain members.
func newService(t *testing.T) (Service, *memory.Store, string) {
	t.Helper()
	store := memory.New()
	t.Cleanup(store.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := directory.New(store)
	teams := team.New(store, dir, logger)

	created, err := teams.Create(as("U1"), "Alpha")
	if err != nil {
		t.Fatalf("Create team: %v", err)
	}
	for _, u := range []string{"U2", "U3", "U4"} {
		if _, err := teams.Join(as(u), created.ID); err != nil {
			t.Fatalf("Join %s: %v", u, err)
		}
	}
	if _, err := teams.Promote(as("U1"), created.ID, "U2"); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	_ = store.Set(context.Background(), "users/U3/username", "Grace")
	_ = store.Set(context.Background(), "users/U4/username", "Linus")

	clk := testclock.NewClock(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))
	return New(store, teams, dir, clk, logger), store, created.ID
}

func TestCreateResolvesNames(t *testing.T) {
	svc, _, teamID := newService(t)
	item, err := svc.Create(as("U3"), teamID, Input{Title: " Write report ", DueDate: "2024-12-31", AssignedTo: "U4"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if item.Title != "Write report" || item.CreatedByName != "Grace" {
		t.Fatalf("unexpected task %+v", item)
	}
	if item.AssignedTo == nil || *item.AssignedTo != "U4" || *item.AssignedToName != "Linus" {
		t.Fatalf("unexpected assignment %+v", item)
	}
	if item.Completed || item.CompletedByUserName != nil {
		t.Fatalf("new task should be open: %+v", item)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, store, teamID := newService(t)
	cases := []struct {
		name string
		in   Input
		want error
	}{
		{"blank title", Input{Title: "  "}, ErrEmptyTitle},
		{"bad date", Input{Title: "x", DueDate: "31/12/2024"}, ErrInvalidDueDate},
		{"outside assignee", Input{Title: "x", AssignedTo: "U9"}, ErrAssigneeOutside},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(as("U1"), teamID, tc.in)
			if !errors.Is(err, tc.want) || !domain.IsCode(err, domain.CodeInvalidInput) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if _, err := svc.Create(as("U9"), teamID, Input{Title: "x"}); !domain.IsCode(err, domain.CodeNotAuthorized) {
		t.Fatalf("outsider create: %v", err)
	}
	if _, err := store.Get(context.Background(), tasksPath(teamID)); !errors.Is(err, remote.ErrNotFound) {
		t.Fatalf("nothing should have been written, got %v", err)
	}
}

func TestToggleCompletionPermissions(t *testing.T) {
	svc, _, teamID := newService(t)
	item, _ := svc.Create(as("U1"), teamID, Input{Title: "Ship", AssignedTo: "U3"})

	if _, err := svc.ToggleCompletion(as("U4"), teamID, item.ID); !domain.IsCode(err, domain.CodeNotAuthorized) {
		t.Fatalf("unrelated member toggled: %v", err)
	}
	done, err := svc.ToggleCompletion(as("U3"), teamID, item.ID)
	if err != nil {
		t.Fatalf("assignee toggle: %v", err)
	}
	if !done.Completed || done.CompletedByUserName == nil || *done.CompletedByUserName != "Grace" {
		t.Fatalf("expected completion by Grace, got %+v", done)
	}
	reopened, err := svc.ToggleCompletion(as("U2"), teamID, item.ID)
	if err != nil {
		t.Fatalf("admin toggle: %v", err)
	}
	if reopened.Completed || reopened.CompletedByUserName != nil {
		t.Fatalf("expected reopened task, got %+v", reopened)
	}

	tasks, err := svc.List(as("U4"), teamID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Completed || tasks[0].CompletedByUserName != nil {
		t.Fatalf("stored task not reopened: %+v", tasks)
	}
}

func TestListOrdersOpenTasksFirst(t *testing.T) {
	svc, _, teamID := newService(t)
	var ids []string
	for _, title := range []string{"a", "b", "c", "d"} {
		item, err := svc.Create(as("U1"), teamID, Input{Title: title})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, item.ID)
	}
	for _, id := range []string{ids[0], ids[2]} {
		if _, err := svc.ToggleCompletion(as("U1"), teamID, id); err != nil {
			t.Fatalf("Toggle: %v", err)
		}
	}
	tasks, err := svc.List(as("U1"), teamID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var got string
	for _, it := range tasks {
		got += it.Title
	}
	if got != "bdac" {
		t.Fatalf("expected open tasks in insertion order then completed ones, got %q", got)
	}
}

func TestUpdateAssignAndDelete(t *testing.T) {
	svc, _, teamID := newService(t)
	item, _ := svc.Create(as("U3"), teamID, Input{Title: "Draft"})

	if _, err := svc.UpdateTitle(as("U4"), teamID, item.ID, "Hijack"); !domain.IsCode(err, domain.CodeNotAuthorized) {
		t.Fatalf("non-author rename: %v", err)
	}
	renamed, err := svc.UpdateTitle(as("U3"), teamID, item.ID, "Final")
	if err != nil || renamed.Title != "Final" {
		t.Fatalf("UpdateTitle: %+v %v", renamed, err)
	}

	assigned, err := svc.Assign(as("U2"), teamID, item.ID, "U4")
	if err != nil || assigned.AssignedTo == nil || *assigned.AssignedToName != "Linus" {
		t.Fatalf("Assign: %+v %v", assigned, err)
	}
	unassigned, err := svc.Assign(as("U3"), teamID, item.ID, "")
	if err != nil || unassigned.AssignedTo != nil || unassigned.AssignedToName != nil {
		t.Fatalf("unassign: %+v %v", unassigned, err)
	}

	if err := svc.Delete(as("U4"), teamID, item.ID); !domain.IsCode(err, domain.CodeNotAuthorized) {
		t.Fatalf("non-author delete: %v", err)
	}
	if err := svc.Delete(as("U2"), teamID, item.ID); err != nil {
		t.Fatalf("admin delete: %v", err)
	}
	if _, err := svc.ToggleCompletion(as("U1"), teamID, item.ID); !domain.IsCode(err, domain.CodeNotFound) {
		t.Fatalf("expected not_found after delete, got %v", err)
	}
}

func TestWatchSeesNewTasks(t *testing.T) {
	svc, _, teamID := newService(t)
	ctx, cancel := context.WithCancel(as("U1"))
	defer cancel()
	s, err := svc.Watch(ctx, teamID)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer s.Stop()

	if _, err := svc.Create(as("U2"), teamID, Input{Title: "New"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap, ok := <-s.Changes():
			if !ok {
				t.Fatalf("stream closed: %v", s.Err())
			}
			if len(snap) == 1 && snap[0].Title == "New" {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for the new task")
		}
	}
}

func TestTeamChangesKeepTasks(t *testing.T) {
	svc, store, teamID := newService(t)
	if _, err := svc.Create(as("U1"), teamID, Input{Title: "write report"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	teams := team.New(store, directory.New(store), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, err := teams.Join(as("U5"), teamID); err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := teams.Promote(as("U1"), teamID, "U5"); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if _, err := teams.Rename(as("U1"), teamID, "Beta"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	items, err := svc.List(as("U5"), teamID)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 1 || items[0].Title != "write report" {
		t.Fatalf("tasks lost after team changes: %+v", items)
	}
}

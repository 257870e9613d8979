package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"opsline/internal/db"
	"opsline/internal/domain"
	"opsline/internal/engine"
	"opsline/internal/migrate"
	"opsline/internal/repo"
)

var testNow = time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu   sync.Mutex
	evts []domain.Event
}

func (r *recorder) Publish(evt domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evts = append(r.evts, evt)
}

func (r *recorder) kinds(kind string) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Event
	for _, evt := range r.evts {
		if evt.Kind == kind {
			out = append(out, evt)
		}
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.evts)
}

type testEnv struct {
	Engine engine.Engine
	Bus    *recorder
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	bus := &recorder{}
	eng := engine.New(conn, bus, zerolog.Nop())
	eng.Now = func() time.Time { return testNow }
	for _, u := range []engine.UserCreateOptions{
		{ID: "mgr", FullName: "Mona Manager", Email: "mgr@example.com", Role: domain.RoleManager},
		{ID: "sec", FullName: "Sam Secretary", Email: "sec@example.com", Role: domain.RoleSecretary},
		{ID: "web", FullName: "Wen Web", Email: "web@example.com", Role: domain.RoleProjectLeadWeb},
		{ID: "mob", FullName: "Mo Mobile", Email: "mob@example.com", Role: domain.RoleProjectLeadMobile},
	} {
		if _, err := eng.CreateUser(ctx, u); err != nil {
			t.Fatalf("seed user %s: %v", u.ID, err)
		}
	}
	return testEnv{Engine: eng, Bus: bus, Ctx: ctx}
}

func (env testEnv) meeting(t *testing.T, date time.Time, participants ...string) domain.Meeting {
	t.Helper()
	m, err := env.Engine.CreateMeeting(env.Ctx, engine.MeetingCreateOptions{
		Title:        "Weekly sync",
		Agenda:       "Status round",
		Date:         date,
		Participants: participants,
		ActorID:      "sec",
	})
	if err != nil {
		t.Fatalf("create meeting: %v", err)
	}
	return m
}

func (env testEnv) task(t *testing.T, assignee string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:      "Ship release",
		Category:   "web",
		AssignedTo: assignee,
		Deadline:   testNow.Add(48 * time.Hour),
		ActorID:    "mgr",
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestCreateMeetingValidatesInput(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateMeeting(env.Ctx, engine.MeetingCreateOptions{Title: "Sync", Date: testNow, Participants: []string{"web"}})
	var verr domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "agenda" {
		t.Fatalf("expected agenda validation error, got %v", err)
	}
	_, err = env.Engine.CreateMeeting(env.Ctx, engine.MeetingCreateOptions{Title: "Sync", Agenda: "x", Date: testNow, Participants: []string{"web", "ghost"}})
	if !errors.As(err, &verr) || verr.Field != "participants" {
		t.Fatalf("expected participants validation error, got %v", err)
	}
	m := env.meeting(t, testNow.Add(72*time.Hour), "web", "mob", "web")
	if m.Status != domain.MeetingScheduled || len(m.Participants) != 2 || len(m.ConfirmedParticipants) != 0 {
		t.Fatalf("unexpected new meeting: %+v", m)
	}
}

func TestConfirmAttendanceReachesConfirmed(t *testing.T) {
	env := newTestEnv(t)
	m := env.meeting(t, testNow.Add(72*time.Hour), "web", "mob")

	m, err := env.Engine.ConfirmAttendance(env.Ctx, m.ID, "web")
	if err != nil {
		t.Fatalf("confirm web: %v", err)
	}
	if m.Status != domain.MeetingScheduled {
		t.Fatalf("expected scheduled after partial confirmation, got %s", m.Status)
	}
	if _, err := env.Engine.ConfirmAttendance(env.Ctx, m.ID, "web"); err != nil {
		t.Fatalf("repeat confirm should be a no-op: %v", err)
	}
	m, err = env.Engine.ConfirmAttendance(env.Ctx, m.ID, "mob")
	if err != nil {
		t.Fatalf("confirm mob: %v", err)
	}
	if m.Status != domain.MeetingConfirmed || len(m.ConfirmedParticipants) != 2 {
		t.Fatalf("expected confirmed with both participants, got %+v", m)
	}
	changed := env.Bus.kinds(domain.EventMeetingStatusChanged)
	if len(changed) != 1 || changed[0].Status != domain.MeetingConfirmed {
		t.Fatalf("expected one status change to confirmed, got %+v", changed)
	}
}

func TestConfirmAttendanceRejectsOutsiders(t *testing.T) {
	env := newTestEnv(t)
	m := env.meeting(t, testNow.Add(72*time.Hour), "web")

	_, err := env.Engine.ConfirmAttendance(env.Ctx, m.ID, "mob")
	var conflict domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict for non-participant, got %v", err)
	}
	_, err = env.Engine.ConfirmAttendance(env.Ctx, "missing", "web")
	var nf domain.NotFoundError
	if !errors.As(err, &nf) || nf.Entity != "meeting" {
		t.Fatalf("expected meeting not found, got %v", err)
	}
	if _, err := env.Engine.CloseMeeting(env.Ctx, m.ID, "sec", "done"); err != nil {
		t.Fatalf("close: %v", err)
	}
	_, err = env.Engine.ConfirmAttendance(env.Ctx, m.ID, "web")
	if !errors.As(err, &conflict) || conflict.State != domain.MeetingCompleted {
		t.Fatalf("expected conflict on completed meeting, got %v", err)
	}
}

func TestCloseMeetingRules(t *testing.T) {
	env := newTestEnv(t)
	m := env.meeting(t, testNow.Add(2*time.Hour), "web")

	var authErr domain.AuthorizationError
	if _, err := env.Engine.CloseMeeting(env.Ctx, "missing", "web", "notes"); !errors.As(err, &authErr) {
		t.Fatalf("role check must come first, got %v", err)
	}
	if _, err := env.Engine.CloseMeeting(env.Ctx, m.ID, "ghost", "notes"); !errors.As(err, &authErr) {
		t.Fatalf("unknown actor must be denied, got %v", err)
	}
	var verr domain.ValidationError
	if _, err := env.Engine.CloseMeeting(env.Ctx, m.ID, "sec", "   "); !errors.As(err, &verr) || verr.Field != "minutes" {
		t.Fatalf("expected minutes validation error, got %v", err)
	}
	closed, err := env.Engine.CloseMeeting(env.Ctx, m.ID, "sec", "Agreed on the release date")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != domain.MeetingCompleted || closed.Minutes != "Agreed on the release date" {
		t.Fatalf("unexpected closed meeting: %+v", closed)
	}
	_, err = env.Engine.CloseMeeting(env.Ctx, m.ID, "sec", "again")
	var conflict domain.ConflictError
	if !errors.As(err, &conflict) || conflict.State != domain.MeetingCompleted {
		t.Fatalf("expected completed conflict, got %v", err)
	}
}

func TestSweepMarksUnconfirmedMeetingsOnce(t *testing.T) {
	env := newTestEnv(t)
	soon := env.meeting(t, testNow.Add(2*time.Hour), "web", "mob")
	later := env.meeting(t, testNow.Add(48*time.Hour), "web")
	ready := env.meeting(t, testNow.Add(3*time.Hour), "web")
	if _, err := env.Engine.ConfirmAttendance(env.Ctx, ready.ID, "web"); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	moved, err := env.Engine.SweepAtRisk(env.Ctx, testNow, 24*time.Hour)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if moved != 1 {
		t.Fatalf("expected 1 meeting moved, got %d", moved)
	}
	for id, want := range map[string]string{
		soon.ID:  domain.MeetingAtRisk,
		later.ID: domain.MeetingScheduled,
		ready.ID: domain.MeetingConfirmed,
	} {
		got, err := env.Engine.GetMeeting(env.Ctx, id)
		if err != nil {
			t.Fatalf("get meeting: %v", err)
		}
		if got.Status != want {
			t.Fatalf("meeting %s: expected %s, got %s", id, want, got.Status)
		}
	}
	before := len(env.Bus.kinds(domain.EventMeetingStatusChanged))
	moved, err = env.Engine.SweepAtRisk(env.Ctx, testNow, 24*time.Hour)
	if err != nil || moved != 0 {
		t.Fatalf("second sweep should be a no-op: moved=%d err=%v", moved, err)
	}
	if after := len(env.Bus.kinds(domain.EventMeetingStatusChanged)); after != before {
		t.Fatalf("second sweep published %d extra events", after-before)
	}

	m, err := env.Engine.ConfirmAttendance(env.Ctx, soon.ID, "web")
	if err != nil {
		t.Fatalf("confirm web: %v", err)
	}
	m, err = env.Engine.ConfirmAttendance(env.Ctx, m.ID, "mob")
	if err != nil {
		t.Fatalf("confirm mob: %v", err)
	}
	if m.Status != domain.MeetingConfirmed {
		t.Fatalf("at_risk meeting should confirm once everyone replies, got %s", m.Status)
	}
}

func TestTaskStatusIsPermissive(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, "web")
	for _, status := range []string{domain.TaskDone, domain.TaskTodo, domain.TaskReview} {
		updated, err := env.Engine.UpdateTaskStatus(env.Ctx, task.ID, status, "web")
		if err != nil {
			t.Fatalf("to %s: %v", status, err)
		}
		if updated.Status != status {
			t.Fatalf("expected %s, got %s", status, updated.Status)
		}
	}
	published := env.Bus.count()
	if _, err := env.Engine.UpdateTaskStatus(env.Ctx, task.ID, domain.TaskReview, "web"); err != nil {
		t.Fatalf("same status: %v", err)
	}
	if env.Bus.count() != published {
		t.Fatalf("same-status update must not publish")
	}
	var verr domain.ValidationError
	if _, err := env.Engine.UpdateTaskStatus(env.Ctx, task.ID, "archived", "web"); !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var nf domain.NotFoundError
	if _, err := env.Engine.UpdateTaskStatus(env.Ctx, "missing", domain.TaskDone, "web"); !errors.As(err, &nf) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestBlockTaskAlertsAssigneeAndManagers(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, "web")
	if _, err := env.Engine.UpdateTaskStatus(env.Ctx, task.ID, domain.TaskInProgress, "web"); err != nil {
		t.Fatalf("start: %v", err)
	}
	var verr domain.ValidationError
	if _, err := env.Engine.BlockTask(env.Ctx, task.ID, " ", "web"); !errors.As(err, &verr) {
		t.Fatalf("expected reason validation, got %v", err)
	}
	blocked, err := env.Engine.BlockTask(env.Ctx, task.ID, "waiting on API keys", "web")
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if !blocked.IsBlocked || blocked.BlockReason != "waiting on API keys" || blocked.Status != domain.TaskInProgress {
		t.Fatalf("block must keep status and set reason: %+v", blocked)
	}
	evts := env.Bus.kinds(domain.EventTaskBlocked)
	if len(evts) != 1 {
		t.Fatalf("expected one blocked event, got %d", len(evts))
	}
	targets := map[string]bool{}
	for _, id := range evts[0].TargetUsers {
		targets[id] = true
	}
	if !targets["web"] || !targets["mgr"] || len(targets) != 2 {
		t.Fatalf("expected assignee and manager targets, got %v", evts[0].TargetUsers)
	}

	unblocked, err := env.Engine.UnblockTask(env.Ctx, task.ID, "mgr")
	if err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if unblocked.IsBlocked || unblocked.BlockReason != "" {
		t.Fatalf("unblock must clear the flag: %+v", unblocked)
	}
	if _, err := env.Engine.UnblockTask(env.Ctx, task.ID, "mgr"); err != nil {
		t.Fatalf("second unblock: %v", err)
	}
	if n := len(env.Bus.kinds(domain.EventTaskUnblocked)); n != 1 {
		t.Fatalf("expected one unblocked event, got %d", n)
	}
}

func TestCommentsKeepTaskState(t *testing.T) {
	env := newTestEnv(t)
	task := env.task(t, "web")
	if _, err := env.Engine.AddComment(env.Ctx, task.ID, "mgr", ""); err == nil {
		t.Fatalf("expected empty comment to fail")
	}
	for _, body := range []string{"first", "second"} {
		if _, err := env.Engine.AddComment(env.Ctx, task.ID, "mgr", body); err != nil {
			t.Fatalf("comment: %v", err)
		}
	}
	comments, err := env.Engine.ListComments(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(comments) != 2 || comments[0].Content != "first" {
		t.Fatalf("expected comments in posting order, got %+v", comments)
	}
	got, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != domain.TaskTodo || got.IsBlocked {
		t.Fatalf("comments must not change task state: %+v", got)
	}
}

func TestLeaveLeadTimeAndDecision(t *testing.T) {
	env := newTestEnv(t)
	var verr domain.ValidationError
	_, err := env.Engine.SubmitLeaveRequest(env.Ctx, engine.LeaveRequestOptions{
		UserID: "web",
		Start:  testNow.Add(14 * 24 * time.Hour),
		End:    testNow.Add(16 * 24 * time.Hour),
	})
	if !errors.As(err, &verr) || verr.Field != "start_date" {
		t.Fatalf("expected lead time validation, got %v", err)
	}
	l, err := env.Engine.SubmitLeaveRequest(env.Ctx, engine.LeaveRequestOptions{
		UserID: "web",
		Start:  testNow.Add(engine.LeaveLeadTime),
		End:    testNow.Add(engine.LeaveLeadTime + 48*time.Hour),
		Reason: "family trip",
	})
	if err != nil {
		t.Fatalf("submit at exactly the lead time: %v", err)
	}
	if l.Status != domain.LeavePending {
		t.Fatalf("expected pending, got %s", l.Status)
	}
	submitted := env.Bus.kinds(domain.EventLeaveSubmitted)
	if len(submitted) != 1 || len(submitted[0].TargetUsers) != 1 || submitted[0].TargetUsers[0] != "mgr" {
		t.Fatalf("expected managers notified of submission, got %+v", submitted)
	}

	var authErr domain.AuthorizationError
	if _, err := env.Engine.ApproveLeaveRequest(env.Ctx, l.ID, "web"); !errors.As(err, &authErr) {
		t.Fatalf("expected non-manager denial, got %v", err)
	}
	approved, err := env.Engine.ApproveLeaveRequest(env.Ctx, l.ID, "mgr")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != domain.LeaveApproved || approved.DecidedBy != "mgr" || approved.DecidedAt == nil {
		t.Fatalf("unexpected decision: %+v", approved)
	}
	var conflict domain.ConflictError
	if _, err := env.Engine.RejectLeaveRequest(env.Ctx, l.ID, "mgr"); !errors.As(err, &conflict) || conflict.State != domain.LeaveApproved {
		t.Fatalf("expected conflict on decided request, got %v", err)
	}
	decision := env.Bus.kinds(domain.EventLeaveDecision)
	if len(decision) != 1 || decision[0].TargetUsers[0] != "web" {
		t.Fatalf("expected requester notified, got %+v", decision)
	}

	own, err := env.Engine.ListLeaveRequests(env.Ctx, "mob", "")
	if err != nil || len(own) != 0 {
		t.Fatalf("non-managers see only their own requests: %v %+v", err, own)
	}
	all, err := env.Engine.ListLeaveRequests(env.Ctx, "mgr", domain.LeaveApproved)
	if err != nil || len(all) != 1 {
		t.Fatalf("managers see every request: %v %+v", err, all)
	}
}

func TestEquipmentIsManagerOnly(t *testing.T) {
	env := newTestEnv(t)
	var authErr domain.AuthorizationError
	if _, err := env.Engine.RegisterEquipment(env.Ctx, "Laptop", "web", "web"); !errors.As(err, &authErr) {
		t.Fatalf("expected denial, got %v", err)
	}
	eq, err := env.Engine.RegisterEquipment(env.Ctx, "Laptop", "web", "mgr")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if eq.AssignedTo != "web" || !eq.AssignedDate.Equal(testNow) {
		t.Fatalf("unexpected equipment: %+v", eq)
	}
	list, err := env.Engine.ListEquipment(env.Ctx)
	if err != nil || len(list) != 1 {
		t.Fatalf("list equipment: %v %+v", err, list)
	}
}

func TestDecisionAttachesToNextMeeting(t *testing.T) {
	env := newTestEnv(t)
	msg, err := env.Engine.PostMessage(env.Ctx, "web", "web", "[DECISION] freeze the API")
	if err != nil {
		t.Fatalf("post without meetings: %v", err)
	}
	if !msg.IsDecision || msg.DecisionMeetingID != "" {
		t.Fatalf("decision without meeting stays on the message: %+v", msg)
	}

	past := env.meeting(t, testNow.Add(-2*time.Hour), "web")
	far := env.meeting(t, testNow.Add(72*time.Hour), "web")
	near := env.meeting(t, testNow.Add(24*time.Hour), "web", "mob")

	msg, err = env.Engine.PostMessage(env.Ctx, "web", "web", "[DECISION] ship on Friday")
	if err != nil {
		t.Fatalf("post decision: %v", err)
	}
	if msg.DecisionMeetingID != near.ID {
		t.Fatalf("expected nearest upcoming meeting %s, got %s", near.ID, msg.DecisionMeetingID)
	}
	got, err := env.Engine.GetMeeting(env.Ctx, near.ID)
	if err != nil {
		t.Fatalf("get meeting: %v", err)
	}
	if len(got.Decisions) != 1 || got.Decisions[0] != "ship on Friday" {
		t.Fatalf("expected decision text on meeting, got %v", got.Decisions)
	}
	for _, id := range []string{past.ID, far.ID} {
		other, err := env.Engine.GetMeeting(env.Ctx, id)
		if err != nil {
			t.Fatalf("get meeting: %v", err)
		}
		if len(other.Decisions) != 0 {
			t.Fatalf("meeting %s should have no decisions", id)
		}
	}

	plain, err := env.Engine.PostMessage(env.Ctx, "web", "mob", "decision pending")
	if err != nil {
		t.Fatalf("post plain: %v", err)
	}
	if plain.IsDecision {
		t.Fatalf("message without marker is not a decision")
	}
	var verr domain.ValidationError
	if _, err := env.Engine.PostMessage(env.Ctx, "random", "web", "hi"); !errors.As(err, &verr) {
		t.Fatalf("expected channel validation, got %v", err)
	}
	list, err := env.Engine.ListMessages(env.Ctx, "web", 10)
	if err != nil || len(list) != 3 {
		t.Fatalf("list messages: %v %d", err, len(list))
	}
}

func TestComplianceReportsAreAnonymous(t *testing.T) {
	env := newTestEnv(t)
	c, err := env.Engine.SubmitComplianceReport(env.Ctx, "expense reports are being padded")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	evts, err := env.Engine.EventLog(env.Ctx, "mgr", 10, 0, domain.EventComplianceReportFiled, "", "")
	if err != nil {
		t.Fatalf("event log: %v", err)
	}
	if len(evts) != 1 || evts[0].ActorID != engine.AnonymousActor || evts[0].EntityID != c.ID {
		t.Fatalf("expected anonymous log entry, got %+v", evts)
	}
	filed := env.Bus.kinds(domain.EventComplianceReportFiled)
	if len(filed) != 1 || filed[0].ActorID != engine.AnonymousActor {
		t.Fatalf("expected anonymous bus event, got %+v", filed)
	}

	var authErr domain.AuthorizationError
	if _, err := env.Engine.ListComplianceReports(env.Ctx, "sec"); !errors.As(err, &authErr) {
		t.Fatalf("expected non-manager denial, got %v", err)
	}
	reports, err := env.Engine.ListComplianceReports(env.Ctx, "mgr")
	if err != nil || len(reports) != 1 {
		t.Fatalf("list reports: %v %+v", err, reports)
	}
}

func TestConcurrentConfirmationsConfirmOnce(t *testing.T) {
	env := newTestEnv(t)
	var participants []string
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("lead-%d", i)
		if _, err := env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{
			ID: id, FullName: "Lead " + id, Email: id + "@example.com", Role: domain.RoleProjectLeadOther,
		}); err != nil {
			t.Fatalf("create user: %v", err)
		}
		participants = append(participants, id)
	}
	m := env.meeting(t, testNow.Add(72*time.Hour), participants...)

	var wg sync.WaitGroup
	errs := make(chan error, len(participants)*2)
	for _, id := range participants {
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				if _, err := env.Engine.ConfirmAttendance(env.Ctx, m.ID, id); err != nil {
					errs <- err
				}
			}(id)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("confirm: %v", err)
	}
	got, err := env.Engine.GetMeeting(env.Ctx, m.ID)
	if err != nil {
		t.Fatalf("get meeting: %v", err)
	}
	if got.Status != domain.MeetingConfirmed || len(got.ConfirmedParticipants) != len(participants) {
		t.Fatalf("expected all confirmed, got %+v", got)
	}
	if n := len(env.Bus.kinds(domain.EventMeetingStatusChanged)); n != 1 {
		t.Fatalf("expected exactly one status change, got %d", n)
	}
}

func TestFailedOperationsLeaveNoTrace(t *testing.T) {
	env := newTestEnv(t)
	published := env.Bus.count()
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title: "Orphan", Category: "web", AssignedTo: "ghost", Deadline: testNow, ActorID: "mgr",
	}); err == nil {
		t.Fatalf("expected unknown assignee to fail")
	}
	tasks, err := env.Engine.ListTasks(env.Ctx, repo.TaskFilters{})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("failed create left %d tasks", len(tasks))
	}
	evts, err := env.Engine.EventLog(env.Ctx, "mgr", 10, 0, domain.EventTaskCreated, "", "")
	if err != nil {
		t.Fatalf("event log: %v", err)
	}
	if len(evts) != 0 || env.Bus.count() != published {
		t.Fatalf("failed create must not log or publish")
	}
}

func TestDuplicateUserConflicts(t *testing.T) {
	env := newTestEnv(t)
	var conflict domain.ConflictError
	_, err := env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{ID: "web", FullName: "Dup", Email: "dup@example.com", Role: domain.RoleMarketing})
	if !errors.As(err, &conflict) {
		t.Fatalf("expected id conflict, got %v", err)
	}
	_, err = env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{FullName: "Dup", Email: "WEB@example.com", Role: domain.RoleMarketing})
	if !errors.As(err, &conflict) {
		t.Fatalf("expected email conflict, got %v", err)
	}
	var authErr domain.AuthorizationError
	_, err = env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{FullName: "New", Email: "new@example.com", Role: domain.RoleMarketing, ActorID: "web"})
	if !errors.As(err, &authErr) {
		t.Fatalf("expected only managers to add users, got %v", err)
	}
}

func TestConcurrentSignupsWithOneEmailConflict(t *testing.T) {
	env := newTestEnv(t)
	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.Engine.CreateUser(env.Ctx, engine.UserCreateOptions{
				ID:       fmt.Sprintf("dup-%d", i),
				FullName: "Dana Dup",
				Email:    "dana@example.com",
				Role:     domain.RoleMarketing,
			})
		}(i)
	}
	wg.Wait()
	created := 0
	for i, err := range errs {
		var conflict domain.ConflictError
		switch {
		case err == nil:
			created++
		case errors.As(err, &conflict):
		default:
			t.Fatalf("signup %d: expected success or conflict, got %v", i, err)
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one signup to win, got %d", created)
	}
}

package deploy_test

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	samson "github.com/zendesk/samson-sub001"
	"github.com/zendesk/samson-sub001/deploy"
	"github.com/zendesk/samson-sub001/execution"
	"github.com/zendesk/samson-sub001/job"
	"github.com/zendesk/samson-sub001/lock"
	"github.com/zendesk/samson-sub001/middleware"
	"github.com/zendesk/samson-sub001/store/memory"
)

type fixture struct {
	store *memory.Store
	sched *execution.Scheduler
	svc   *deploy.Service
	now   time.Time
}

func newFixture(t *testing.T, buddy bool, schedOpts ...execution.Option) *fixture {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	f := &fixture{store: memory.New(), now: time.Now().UTC()}
	opts := append([]execution.Option{
		execution.WithWorkspaceDir(t.TempDir()),
		execution.WithCacheDir(t.TempDir()),
		execution.WithMiddleware(middleware.Recover(slog.Default())),
	}, schedOpts...)
	f.sched = execution.NewScheduler(f.store, lock.New(lock.NewMemory()), opts...)

	projects := []*deploy.Project{{
		ID:   "web",
		Name: "Web",
		Stages: []*deploy.Stage{
			{ID: "web-production", Name: "Production", ProjectID: "web", Production: true,
				Commands: []string{`echo "deploying $REFERENCE to $STAGE_NAME as $DEPLOYER ($DEPLOY_ID)"`}},
			{ID: "web-staging", Name: "Staging", ProjectID: "web",
				Commands: []string{"sleep 0.2"}},
		},
	}}
	f.svc = deploy.NewService(f.store, f.store, f.sched, projects,
		deploy.WithBuddyCheck(deploy.BuddyCheck{Enabled: buddy, TimeLimit: 10 * time.Minute}),
		deploy.WithClock(func() time.Time { return f.now }),
	)
	return f
}

func waitDone(t *testing.T, e *execution.Execution) execution.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := e.Wait(ctx)
	if err != nil {
		t.Fatalf("execution did not finish: %v", err)
	}
	return res
}

func TestService_DeployStartsImmediately(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	d, e, err := f.svc.Deploy(ctx, deploy.Request{ProjectID: "web", StageID: "web-production", Reference: "v1.2", User: "alice"})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if e == nil {
		t.Fatal("expected an execution")
	}
	if e.QueueKey() != "stage-web-production" {
		t.Errorf("QueueKey = %q", e.QueueKey())
	}
	if res := waitDone(t, e); res.Status != job.StatusSucceeded {
		t.Fatalf("status = %q\n%s", res.Status, e.Output().String())
	}

	want := "deploying v1.2 to Production as alice (" + d.ID + ")"
	if out := e.Output().String(); !strings.Contains(out, want) {
		t.Errorf("output = %q, want %q", out, want)
	}
	got, err := f.svc.Get(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.WaitingForBuddy() {
		t.Error("started deploy still waiting for buddy")
	}
}

func TestService_DeployWaitsForBuddy(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	d, e, err := f.svc.Deploy(ctx, deploy.Request{StageID: "web-production", Reference: "main", User: "alice"})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if e != nil {
		t.Fatal("deploy needing a buddy started")
	}
	if !d.WaitingForBuddy() {
		t.Error("deploy not waiting for buddy")
	}
	j, _ := f.store.GetJob(ctx, d.JobID)
	if j.Status != job.StatusPending {
		t.Errorf("job status = %q, want pending", j.Status)
	}

	if _, _, err := f.svc.Approve(ctx, d.ID, "alice"); !errors.Is(err, samson.ErrSelfApproval) {
		t.Errorf("self approval = %v", err)
	}

	approved, e, err := f.svc.Approve(ctx, d.ID, "bob")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.Buddy != "bob" || approved.StartedAt == nil {
		t.Errorf("approved deploy = %+v", approved)
	}
	if res := waitDone(t, e); res.Status != job.StatusSucceeded {
		t.Errorf("status = %q", res.Status)
	}

	if _, _, err := f.svc.Approve(ctx, d.ID, "carol"); !errors.Is(err, samson.ErrNotWaitingForBuddy) {
		t.Errorf("second approval = %v", err)
	}
}

func TestService_ApproveExpired(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	d, _, err := f.svc.Deploy(ctx, deploy.Request{StageID: "web-production", Reference: "main", User: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	f.now = f.now.Add(time.Hour)
	if _, _, err := f.svc.Approve(ctx, d.ID, "bob"); !errors.Is(err, samson.ErrBuddyExpired) {
		t.Errorf("Approve = %v, want expired", err)
	}
}

func TestService_BypassRecordsDeployerAsBuddy(t *testing.T) {
	f := newFixture(t, true)

	d, e, err := f.svc.Deploy(context.Background(), deploy.Request{StageID: "web-production", Reference: "main", User: "alice", Bypass: true})
	if err != nil {
		t.Fatal(err)
	}
	if e == nil {
		t.Fatal("bypassed deploy did not start")
	}
	if d.Buddy != "alice" || !d.Bypass {
		t.Errorf("deploy = %+v", d)
	}
	waitDone(t, e)
}

func TestService_NonProductionSkipsBuddy(t *testing.T) {
	f := newFixture(t, true)
	_, e, err := f.svc.Deploy(context.Background(), deploy.Request{StageID: "web-staging", Reference: "main", User: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if e == nil {
		t.Fatal("staging deploy waited for buddy")
	}
	waitDone(t, e)
}

func TestService_DeployValidation(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	tests := []struct {
		name string
		req  deploy.Request
		want error
	}{
		{"unknown stage", deploy.Request{StageID: "nope", Reference: "main", User: "alice"}, samson.ErrStageNotFound},
		{"wrong project", deploy.Request{ProjectID: "api", StageID: "web-staging", Reference: "main", User: "alice"}, samson.ErrStageNotFound},
		{"no reference", deploy.Request{StageID: "web-staging", User: "alice"}, samson.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := f.svc.Deploy(ctx, tt.req); !errors.Is(err, tt.want) {
				t.Errorf("Deploy = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestService_DeployWhileDisabled(t *testing.T) {
	f := newFixture(t, false, execution.WithEnabled(false))
	_, _, err := f.svc.Deploy(context.Background(), deploy.Request{StageID: "web-staging", Reference: "main", User: "alice"})
	if !errors.Is(err, samson.ErrSchedulerDisabled) {
		t.Errorf("Deploy = %v, want disabled", err)
	}
	if list, _ := f.svc.List(context.Background(), deploy.ListOpts{}); len(list) != 0 {
		t.Errorf("deploy recorded while disabled: %+v", list)
	}
}

func TestService_StopRunning(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	d, e, err := f.svc.Deploy(ctx, deploy.Request{StageID: "web-staging", Reference: "main", User: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Stop(ctx, d.ID, "bob"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if res := waitDone(t, e); res.Status != job.StatusCancelled {
		t.Errorf("status = %q, want cancelled", res.Status)
	}
	if err := f.svc.Stop(ctx, d.ID, "bob"); !errors.Is(err, samson.ErrAlreadyFinished) {
		t.Errorf("Stop after finish = %v", err)
	}
}

func TestService_StopWaitingForBuddy(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	d, _, err := f.svc.Deploy(ctx, deploy.Request{StageID: "web-production", Reference: "main", User: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Stop(ctx, d.ID, "alice"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	j, _ := f.store.GetJob(ctx, d.JobID)
	if j.Status != job.StatusCancelled {
		t.Errorf("job status = %q, want cancelled", j.Status)
	}
	if _, _, err := f.svc.Approve(ctx, d.ID, "bob"); !errors.Is(err, samson.ErrNotWaitingForBuddy) {
		t.Errorf("Approve after stop = %v", err)
	}
}

func TestService_ListNewestFirst(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	var ids []string
	for range 3 {
		d, _, err := f.svc.Deploy(ctx, deploy.Request{StageID: "web-production", Reference: "main", User: "alice"})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, d.ID)
	}
	list, err := f.svc.List(ctx, deploy.ListOpts{StageID: "web-production", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != ids[2] || list[1].ID != ids[1] {
		t.Errorf("List = %v, want newest two of %v", list, ids)
	}
}

func TestService_ConcurrentApprovalsStartOnce(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	d, _, err := f.svc.Deploy(ctx, deploy.Request{StageID: "web-production", Reference: "main", User: "alice"})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}

	type outcome struct {
		buddy string
		e     *execution.Execution
		err   error
	}
	buddies := []string{"bob", "carol", "dave"}
	results := make(chan outcome, len(buddies))
	var wg sync.WaitGroup
	for _, b := range buddies {
		wg.Add(1)
		go func(buddy string) {
			defer wg.Done()
			_, e, err := f.svc.Approve(ctx, d.ID, buddy)
			results <- outcome{buddy, e, err}
		}(b)
	}
	wg.Wait()
	close(results)

	var winner outcome
	wins := 0
	for r := range results {
		switch {
		case r.err == nil:
			wins++
			winner = r
		case !errors.Is(r.err, samson.ErrNotWaitingForBuddy):
			t.Errorf("Approve(%s) error = %v", r.buddy, r.err)
		}
	}
	if wins != 1 {
		t.Fatalf("%d approvals started the deploy, want 1", wins)
	}
	if res := waitDone(t, winner.e); res.Status != job.StatusSucceeded {
		t.Errorf("status = %q", res.Status)
	}
	got, err := f.svc.Get(ctx, d.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Buddy != winner.buddy {
		t.Errorf("stored buddy = %q, want %q", got.Buddy, winner.buddy)
	}
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"marko-dashboard/internal/clock"
	apperrors "marko-dashboard/internal/errors"
	"marko-dashboard/internal/models"
)

type fakeBackend struct {
	mu        sync.Mutex
	list      []models.Instance
	listErr   error
	listCalls int
	control   func(id string, action models.ControlAction) (string, error)
	deleted   []string
	deleteFn  func(id string) (string, error)
}

func (b *fakeBackend) ListInstances(ctx context.Context) ([]models.Instance, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listCalls++
	if b.listErr != nil {
		return nil, b.listErr
	}
	return models.CloneInstances(b.list), nil
}

func (b *fakeBackend) Control(ctx context.Context, id string, action models.ControlAction) (string, error) {
	b.mu.Lock()
	fn := b.control
	b.mu.Unlock()
	if fn == nil {
		return "ok", nil
	}
	return fn(id, action)
}

func (b *fakeBackend) DeleteInstance(ctx context.Context, id string) (string, error) {
	b.mu.Lock()
	fn := b.deleteFn
	b.mu.Unlock()
	if fn != nil {
		if msg, err := fn(id); err != nil {
			return msg, err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, id)
	kept := b.list[:0]
	for _, inst := range b.list {
		if inst.ID != id {
			kept = append(kept, inst)
		}
	}
	b.list = kept
	return "deleted", nil
}

func (b *fakeBackend) setList(list ...models.Instance) {
	b.mu.Lock()
	b.list = list
	b.listErr = nil
	b.mu.Unlock()
}

func (b *fakeBackend) setListErr(err error) {
	b.mu.Lock()
	b.listErr = err
	b.mu.Unlock()
}

func (b *fakeBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listCalls
}

func inst(id string) models.Instance {
	return models.Instance{ID: id, Symbol: "BTC/USD", Timeframe: models.Timeframe1h, Status: models.StatusRunning}
}

func newTestRegistry(b Backend, clk clock.Clock) *Registry {
	cfg := DefaultConfig()
	cfg.Clock = clk
	return New(b, cfg)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func ids(list []models.Instance) []string {
	out := make([]string, len(list))
	for i, inst := range list {
		out[i] = inst.ID
	}
	return out
}

func TestSelectionSurvivesRefresh(t *testing.T) {
	b := &fakeBackend{}
	r := newTestRegistry(b, clock.NewFake(time.Unix(0, 0)))
	defer r.Close()
	ctx := context.Background()

	b.setList(inst("A"), inst("B"), inst("C"))
	if _, err := r.List(ctx); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got := r.Selected(); got != "A" {
		t.Fatalf("initial selection = %q, want A", got)
	}
	if !r.Select("B") {
		t.Fatal("Select(B) should succeed")
	}

	b.setList(inst("A"), inst("B"), inst("D"))
	r.List(ctx)
	if got := r.Selected(); got != "B" {
		t.Errorf("selection after [A,B,D] = %q, want B", got)
	}

	b.setList(inst("A"), inst("D"))
	r.List(ctx)
	if got := r.Selected(); got != "A" {
		t.Errorf("selection after [A,D] = %q, want A", got)
	}

	b.setList()
	r.List(ctx)
	if got := r.Selected(); got != "" {
		t.Errorf("selection after empty list = %q, want empty", got)
	}
}

func TestProperty_SelectionKeptIffPresent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	idGen := gen.SliceOf(gen.IntRange(0, 6)).Map(func(ns []int) []string {
		out := make([]string, len(ns))
		for i, n := range ns {
			out[i] = fmt.Sprintf("I%d", n)
		}
		return out
	})

	properties.Property("selection is kept when present, else first instance", prop.ForAll(
		func(first, second []string, pick int) bool {
			b := &fakeBackend{}
			r := newTestRegistry(b, clock.NewFake(time.Unix(0, 0)))
			defer r.Close()

			list := func(names []string) []models.Instance {
				out := make([]models.Instance, len(names))
				for i, n := range names {
					out[i] = inst(n)
				}
				return out
			}

			b.setList(list(first)...)
			r.List(context.Background())
			current := r.Instances()
			if len(current) > 0 {
				r.Select(current[pick%len(current)].ID)
			}
			before := r.Selected()

			b.setList(list(second)...)
			r.List(context.Background())
			after := r.Instances()

			if _, ok := models.FindInstance(after, before); ok && before != "" {
				return r.Selected() == before
			}
			if len(after) == 0 {
				return r.Selected() == ""
			}
			return r.Selected() == after[0].ID
		},
		idGen, idGen, gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

func TestListDeduplicatesIDs(t *testing.T) {
	b := &fakeBackend{}
	r := newTestRegistry(b, clock.NewFake(time.Unix(0, 0)))
	defer r.Close()

	second := inst("A")
	second.ActivePnl = 9
	b.setList(inst("A"), inst("B"), second)
	r.List(context.Background())

	got := r.Instances()
	if !reflect.DeepEqual(ids(got), []string{"A", "B"}) {
		t.Fatalf("ids = %v", ids(got))
	}
	if got[0].ActivePnl != 9 {
		t.Errorf("later duplicate should replace in place, pnl = %v", got[0].ActivePnl)
	}
}

func TestListFailureKeepsPreviousList(t *testing.T) {
	clk := clock.NewFake(time.Unix(100, 0))
	b := &fakeBackend{}
	r := newTestRegistry(b, clk)
	defer r.Close()
	ctx := context.Background()

	b.setList(inst("A"), inst("B"))
	r.List(ctx)
	r.Select("B")

	b.setListErr(errors.New("connection refused"))
	if _, err := r.List(ctx); err == nil {
		t.Fatal("expected List() error")
	}

	st := r.State()
	if !reflect.DeepEqual(ids(st.Instances), []string{"A", "B"}) {
		t.Errorf("instances = %v, want previous list", ids(st.Instances))
	}
	if st.SelectedID != "B" {
		t.Errorf("selection = %q", st.SelectedID)
	}
	if !st.Stale || st.Error == "" {
		t.Errorf("state should be stale with error, got %+v", st)
	}
	if !st.LastUpdated.Equal(time.Unix(100, 0)) {
		t.Errorf("LastUpdated = %v", st.LastUpdated)
	}

	b.setList(inst("A"), inst("B"))
	r.List(ctx)
	if st := r.State(); st.Stale || st.Error != "" {
		t.Errorf("successful list should clear stale state, got %+v", st)
	}
}

func TestSelectIgnoresUnknownID(t *testing.T) {
	b := &fakeBackend{}
	r := newTestRegistry(b, clock.NewFake(time.Unix(0, 0)))
	defer r.Close()

	b.setList(inst("A"), inst("B"))
	r.List(context.Background())

	if r.Select("Z") {
		t.Error("Select(Z) should report false")
	}
	if r.Selected() != "A" {
		t.Errorf("selection = %q, want A", r.Selected())
	}
}

func TestControlRollsBackExactly(t *testing.T) {
	b := &fakeBackend{}
	r := newTestRegistry(b, clock.NewFake(time.Unix(0, 0)))
	defer r.Close()

	x := models.Instance{
		ID: "X", Symbol: "ETH/USD", Timeframe: models.Timeframe15m, Status: models.StatusRunning,
		ActivePnl: -320.1, BrokerType: models.BrokerPaper, Params: map[string]interface{}{"rsi_period": 14.0},
	}
	b.setList(inst("A"), x)
	r.List(context.Background())
	before := r.Instances()

	entered := make(chan struct{})
	release := make(chan struct{})
	b.control = func(id string, action models.ControlAction) (string, error) {
		close(entered)
		<-release
		return "", apperrors.NewRejectionError("control", id, "broker unavailable")
	}

	result := make(chan models.ActionResult, 1)
	go func() { result <- r.Control(context.Background(), "X", models.ActionStop) }()

	<-entered
	got, _ := r.Instance("X")
	if got.Status != models.StatusStopped {
		t.Errorf("optimistic status = %s, want STOPPED", got.Status)
	}
	if m := r.State().Mutation; m == nil || m.State != MutationOptimistic {
		t.Errorf("mutation = %+v, want optimistic", m)
	}
	close(release)

	res := <-result
	if res.Success || res.Error != "broker unavailable" {
		t.Errorf("result = %+v", res)
	}
	if after := r.Instances(); !reflect.DeepEqual(after, before) {
		t.Errorf("list after rollback = %+v, want %+v", after, before)
	}
	if m := r.State().Mutation; m == nil || m.State != MutationRolledBack {
		t.Errorf("mutation = %+v, want rolled back", m)
	}
}

func TestRollbackAfterInterveningListRestoresOnlyTarget(t *testing.T) {
	b := &fakeBackend{}
	r := newTestRegistry(b, clock.NewFake(time.Unix(0, 0)))
	defer r.Close()

	b.setList(inst("A"), inst("X"))
	r.List(context.Background())

	entered := make(chan struct{})
	release := make(chan struct{})
	b.control = func(id string, action models.ControlAction) (string, error) {
		close(entered)
		<-release
		return "", errors.New("timeout")
	}

	result := make(chan models.ActionResult, 1)
	go func() { result <- r.Control(context.Background(), "X", models.ActionPause) }()
	<-entered

	refreshed := inst("X")
	refreshed.Status = models.StatusPaused
	refreshed.ActivePnl = 5
	b.setList(inst("A"), refreshed, inst("Y"))
	r.List(context.Background())
	close(release)
	<-result

	got := r.Instances()
	if !reflect.DeepEqual(ids(got), []string{"A", "X", "Y"}) {
		t.Fatalf("ids = %v, newer list should be kept", ids(got))
	}
	if got[1].Status != models.StatusRunning || got[1].ActivePnl != 0 {
		t.Errorf("X = %+v, want pre-mutation entry", got[1])
	}
}

func TestRollbackKeepsConcurrentOptimisticControl(t *testing.T) {
	b := &fakeBackend{}
	r := newTestRegistry(b, clock.NewFake(time.Unix(0, 0)))
	defer r.Close()

	b.setList(inst("A"), inst("X"))
	r.List(context.Background())

	enteredA := make(chan struct{})
	releaseA := make(chan struct{})
	b.control = func(id string, action models.ControlAction) (string, error) {
		if id == "A" {
			close(enteredA)
			<-releaseA
			return "ok", nil
		}
		return "", apperrors.NewRejectionError("control", id, "engine busy")
	}

	resultA := make(chan models.ActionResult, 1)
	go func() { resultA <- r.Control(context.Background(), "A", models.ActionPause) }()
	<-enteredA

	if res := r.Control(context.Background(), "X", models.ActionStop); res.Success {
		t.Fatalf("X control = %+v, want rejection", res)
	}

	a, _ := r.Instance("A")
	if a.Status != models.StatusPaused {
		t.Errorf("A = %s, rollback of X must keep A's optimistic PAUSED", a.Status)
	}
	x, _ := r.Instance("X")
	if x.Status != models.StatusRunning {
		t.Errorf("X = %s, want RUNNING after rollback", x.Status)
	}

	close(releaseA)
	<-resultA
}

func TestControlValidatesInput(t *testing.T) {
	b := &fakeBackend{}
	r := newTestRegistry(b, clock.NewFake(time.Unix(0, 0)))
	defer r.Close()
	b.setList(inst("A"))
	r.List(context.Background())

	if res := r.Control(context.Background(), "missing", models.ActionStart); res.Success {
		t.Error("unknown instance should fail")
	}
	if res := r.Control(context.Background(), "A", models.ControlAction("restart")); res.Success {
		t.Error("unknown action should fail")
	}
	if got, _ := r.Instance("A"); got.Status != models.StatusRunning {
		t.Errorf("status changed to %s", got.Status)
	}
}

func TestControlSuccessReconciles(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	b := &fakeBackend{}
	r := newTestRegistry(b, clk)
	defer r.Close()

	b.setList(inst("A"))
	r.List(context.Background())

	res := r.Control(context.Background(), "A", models.ActionStop)
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if got, _ := r.Instance("A"); got.Status != models.StatusStopped {
		t.Fatalf("optimistic status = %s", got.Status)
	}

	// The server still reports RUNNING; the confirming list wins.
	waitFor(t, func() bool { return clk.Waiters() == 1 })
	if b.calls() != 1 {
		t.Fatalf("confirming list issued before delay, calls = %d", b.calls())
	}
	clk.Advance(200 * time.Millisecond)

	waitFor(t, func() bool {
		m := r.State().Mutation
		return m != nil && m.State == MutationReconciled
	})
	if got, _ := r.Instance("A"); got.Status != models.StatusRunning {
		t.Errorf("reconciled status = %s, want server value RUNNING", got.Status)
	}
}

func TestConfirmRetriesWithBackoff(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	b := &fakeBackend{}
	r := newTestRegistry(b, clk)
	defer r.Close()

	b.setList(inst("A"))
	r.List(context.Background())
	b.setListErr(errors.New("503"))

	r.Control(context.Background(), "A", models.ActionStart)

	for want := 2; want <= 4; want++ {
		waitFor(t, func() bool { return clk.Waiters() == 1 || b.calls() >= 4 })
		if b.calls() >= 4 {
			break
		}
		clk.Advance(5 * time.Second)
		w := want
		waitFor(t, func() bool { return b.calls() >= w })
	}

	if got := b.calls(); got != 4 {
		t.Errorf("list calls = %d, want 1 + 3 confirming attempts", got)
	}
	if m := r.State().Mutation; m == nil || m.State != MutationOptimistic {
		t.Errorf("mutation = %+v, want still optimistic", m)
	}
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	b := &fakeBackend{}
	r := newTestRegistry(b, clk)
	defer r.Close()
	ctx := context.Background()

	b.setList(inst("A"), inst("B"))
	r.List(ctx)

	if _, err := r.RequestDelete("Z"); !apperrors.Is(err, apperrors.ErrUnknownInstance) {
		t.Errorf("RequestDelete(Z) error = %v", err)
	}
	if res := r.ConfirmDelete(ctx, "bogus"); res.Success {
		t.Error("unknown token should not delete")
	}

	token, err := r.RequestDelete("B")
	if err != nil {
		t.Fatalf("RequestDelete() error = %v", err)
	}
	if len(r.Instances()) != 2 {
		t.Fatal("request alone must not remove anything")
	}

	entered := make(chan struct{})
	release := make(chan struct{})
	b.deleteFn = func(id string) (string, error) {
		close(entered)
		<-release
		return "", nil
	}
	result := make(chan models.ActionResult, 1)
	go func() { result <- r.ConfirmDelete(ctx, token) }()

	<-entered
	st := r.State()
	if st.Deleting != "B" {
		t.Errorf("Deleting = %q", st.Deleting)
	}
	if _, ok := models.FindInstance(st.Instances, "B"); !ok {
		t.Error("instance removed before server confirmed")
	}
	close(release)

	if res := <-result; !res.Success {
		t.Fatalf("ConfirmDelete() = %+v", res)
	}
	if got := ids(r.Instances()); !reflect.DeepEqual(got, []string{"A"}) {
		t.Errorf("ids after delete = %v", got)
	}
	if res := r.ConfirmDelete(ctx, token); res.Success {
		t.Error("token must be single use")
	}
}

func TestDeleteTokenExpires(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	b := &fakeBackend{}
	r := newTestRegistry(b, clk)
	defer r.Close()

	b.setList(inst("A"))
	r.List(context.Background())

	token, _ := r.RequestDelete("A")
	clk.Advance(31 * time.Second)

	res := r.ConfirmDelete(context.Background(), token)
	if res.Success || res.Error != apperrors.ErrConfirmationExpired.Error() {
		t.Errorf("result = %+v", res)
	}
	if len(b.deleted) != 0 {
		t.Errorf("backend delete called: %v", b.deleted)
	}
}

func TestDeleteFailureSurfaced(t *testing.T) {
	b := &fakeBackend{}
	r := newTestRegistry(b, clock.NewFake(time.Unix(0, 0)))
	defer r.Close()

	b.setList(inst("A"))
	r.List(context.Background())
	b.deleteFn = func(id string) (string, error) {
		return "", apperrors.NewRejectionError("delete", id, "instance is running")
	}

	token, _ := r.RequestDelete("A")
	res := r.ConfirmDelete(context.Background(), token)
	if res.Success || res.Error != "instance is running" {
		t.Errorf("result = %+v", res)
	}
	if len(r.Instances()) != 1 || r.State().Deleting != "" {
		t.Errorf("state after failed delete = %+v", r.State())
	}
}

func TestRunPollsAndPublishes(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	b := &fakeBackend{}
	b.setList(inst("A"))
	r := newTestRegistry(b, clk)
	ch := r.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	waitFor(t, func() bool { return b.calls() == 1 && clk.Waiters() == 1 })
	clk.Advance(5 * time.Second)
	waitFor(t, func() bool { return b.calls() == 2 })

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() = %v", err)
	}

	var last State
	for st := range ch {
		last = st
	}
	if last.SelectedID != "A" || len(last.Instances) != 1 {
		t.Errorf("last published state = %+v", last)
	}
}

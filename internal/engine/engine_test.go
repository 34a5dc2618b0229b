package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"opsbell/internal/alert"
	"opsbell/internal/transport"
	"opsbell/pkg/logx"
)

type fakePusher struct {
	mu          sync.Mutex
	connects    []string
	disconnects int
	status      transport.Status
	onState     func(transport.Status)
}

func (f *fakePusher) Connect(credential string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, credential)
	f.status = transport.Status{State: transport.StateConnected}
}

func (f *fakePusher) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.status = transport.Status{State: transport.StateDisconnected}
}

func (f *fakePusher) Status() transport.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakePusher) OnStateChange(fn func(transport.Status)) { f.onState = fn }

func (f *fakePusher) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects)
}

func (f *fakePusher) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

type fakeRenderer struct {
	mu       sync.Mutex
	shown    []string
	closed   []string
	closeAll int
	activate func(id string)
}

func (f *fakeRenderer) Show(n alert.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown = append(f.shown, n.ID)
	return nil
}

func (f *fakeRenderer) Close(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
}

func (f *fakeRenderer) CloseAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeAll++
}

func (f *fakeRenderer) OnActivate(fn func(id string))        { f.activate = fn }
func (f *fakeRenderer) OnAction(fn func(id, action string))  {}

func (f *fakeRenderer) shownIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.shown...)
}

func (f *fakeRenderer) closedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...)
}

type harness struct {
	engine   *Engine
	pusher   *fakePusher
	renderer *fakeRenderer
	inbound  func(alert.Notification)
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	h := &harness{pusher: &fakePusher{}, renderer: &fakeRenderer{}}
	opts.Log = logx.Nop()
	opts.Dispatcher = h.renderer
	opts.NewSession = func(cfg transport.Config, log logx.Logger, handler func(alert.Notification)) Pusher {
		h.inbound = handler
		return h.pusher
	}
	if opts.Now == nil {
		noon := time.Date(2026, 3, 14, 12, 0, 0, 0, time.Local)
		opts.Now = func() time.Time { return noon }
	}
	h.engine = New(opts)
	return h
}

func note(id string, cat alert.Category, prio alert.Priority) alert.Notification {
	return alert.Notification{
		ID:        id,
		Type:      alert.TypeInfo,
		Category:  cat,
		Title:     "t-" + id,
		Message:   "m-" + id,
		Timestamp: time.Date(2026, 3, 14, 11, 0, 0, 0, time.Local),
		Priority:  prio,
	}
}

func TestStartLoadsBulkFetchAndConnects(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{
		Credential: "tok-1",
		Fetch: func(ctx context.Context) ([]alert.Notification, error) {
			return []alert.Notification{
				note("a", alert.CategoryInvoice, alert.PriorityMedium),
				note("b", alert.CategorySystem, alert.PriorityLow),
			}, nil
		},
	})
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if got := len(h.engine.Notifications()); got != 2 {
		t.Fatalf("notifications after fetch = %d, want 2", got)
	}
	if err := h.engine.FetchErr(); err != nil {
		t.Fatalf("FetchErr = %v, want nil", err)
	}
	if got := h.pusher.connects; len(got) != 1 || got[0] != "tok-1" {
		t.Fatalf("connects = %v, want one with tok-1", got)
	}
}

func TestStartRecordsFetchFailure(t *testing.T) {
	t.Parallel()

	fetchErr := errors.New("503")
	h := newHarness(t, Options{
		Fetch: func(ctx context.Context) ([]alert.Notification, error) {
			return nil, fetchErr
		},
	})
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := h.engine.FetchErr(); !errors.Is(err, fetchErr) {
		t.Fatalf("FetchErr = %v, want wrapped %v", err, fetchErr)
	}
	if got := len(h.engine.Notifications()); got != 0 {
		t.Fatalf("notifications = %d, want 0", got)
	}
	// A failed fetch does not block the live session.
	if got := h.pusher.connectCount(); got != 1 {
		t.Fatalf("connects = %d, want 1", got)
	}
}

func TestRetriedStartClearsFetchFailure(t *testing.T) {
	t.Parallel()

	fetchErr := errors.New("503")
	calls := 0
	h := newHarness(t, Options{
		Fetch: func(ctx context.Context) ([]alert.Notification, error) {
			calls++
			if calls == 1 {
				return nil, fetchErr
			}
			return []alert.Notification{note("a", alert.CategoryInvoice, alert.PriorityMedium)}, nil
		},
	})
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.engine.FetchErr(); !errors.Is(err, fetchErr) {
		t.Fatalf("FetchErr after failure = %v, want wrapped %v", err, fetchErr)
	}

	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("retried Start: %v", err)
	}
	if err := h.engine.FetchErr(); err != nil {
		t.Fatalf("FetchErr after successful retry = %v, want nil", err)
	}
	if got := len(h.engine.Notifications()); got != 1 {
		t.Fatalf("notifications = %d, want 1", got)
	}
}

func TestStartSkipsConnectWhenPushDisabled(t *testing.T) {
	t.Parallel()

	over := alert.DefaultSettings()
	over.EnablePush = false
	h := newHarness(t, Options{Settings: &over})
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := h.pusher.connectCount(); got != 0 {
		t.Fatalf("connects = %d, want 0", got)
	}
}

func TestInboundPipeline(t *testing.T) {
	t.Parallel()

	over := alert.DefaultSettings()
	over.Categories[alert.CategoryReminder] = false
	h := newHarness(t, Options{Settings: &over})

	h.inbound(note("urgent", alert.CategorySecurity, alert.PriorityUrgent))
	h.inbound(note("muted", alert.CategoryReminder, alert.PriorityHigh))

	if got := h.engine.UnreadCount(); got != 2 {
		t.Fatalf("UnreadCount = %d, want 2 (suppressed alerts are still stored)", got)
	}
	if got := h.renderer.shownIDs(); len(got) != 1 || got[0] != "urgent" {
		t.Fatalf("shown = %v, want [urgent]", got)
	}
}

func TestDuplicatePushRefreshesExistingAlert(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	n := note("dup", alert.CategoryPayment, alert.PriorityHigh)
	h.inbound(n)
	h.inbound(n)

	if got := len(h.engine.Notifications()); got != 1 {
		t.Fatalf("stored notifications = %d, want 1", got)
	}
	// The second push re-renders under the same tag rather than stacking.
	if got := h.renderer.shownIDs(); len(got) != 2 {
		t.Fatalf("shown = %v, want two renders of the same id", got)
	}
}

func TestCreateNotificationUsesSamePipeline(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	n := h.engine.CreateNotification(CreateParams{
		Type:     alert.TypeSuccess,
		Category: alert.CategoryInvoice,
		Title:    "Invoice sent",
		Message:  "Invoice #42 delivered",
		Priority: alert.PriorityMedium,
	})

	if n.ID == "" {
		t.Fatal("CreateNotification did not assign an id")
	}
	if n.Timestamp.IsZero() {
		t.Fatal("CreateNotification did not stamp a time")
	}
	if got := h.engine.UnreadCount(); got != 1 {
		t.Fatalf("UnreadCount = %d, want 1", got)
	}
	if got := h.renderer.shownIDs(); len(got) != 1 || got[0] != n.ID {
		t.Fatalf("shown = %v, want [%s]", got, n.ID)
	}
}

func TestMarkReadClosesDesktopAlert(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	h.inbound(note("n1", alert.CategorySystem, alert.PriorityHigh))

	h.engine.MarkRead("n1")
	if got := h.engine.UnreadCount(); got != 0 {
		t.Fatalf("UnreadCount = %d, want 0", got)
	}
	if got := h.renderer.closedIDs(); len(got) != 1 || got[0] != "n1" {
		t.Fatalf("closed = %v, want [n1]", got)
	}
}

func TestMarkAllReadClosesOnlyUnreadAlerts(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	h.inbound(note("n1", alert.CategorySystem, alert.PriorityHigh))
	h.inbound(note("n2", alert.CategoryPayment, alert.PriorityHigh))
	h.engine.MarkRead("n1")

	h.engine.MarkAllRead()
	if got := h.engine.UnreadCount(); got != 0 {
		t.Fatalf("UnreadCount = %d, want 0", got)
	}
	if got := h.renderer.closedIDs(); len(got) != 2 {
		t.Fatalf("closed = %v, want [n1 n2]", got)
	}
}

func TestClickMarksReadAndRaises(t *testing.T) {
	t.Parallel()

	raised := 0
	h := newHarness(t, Options{RaiseApp: func() { raised++ }})
	h.inbound(note("n1", alert.CategorySecurity, alert.PriorityUrgent))

	h.renderer.activate("n1")
	if got := h.engine.UnreadCount(); got != 0 {
		t.Fatalf("UnreadCount after click = %d, want 0", got)
	}
	if raised != 1 {
		t.Fatalf("raised = %d, want 1", raised)
	}
}

func TestUpdateSettingsFollowsPushToggle(t *testing.T) {
	t.Parallel()

	var persisted []alert.Settings
	h := newHarness(t, Options{OnSettings: func(s alert.Settings) { persisted = append(persisted, s) }})
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s := h.engine.Settings()
	s.EnablePush = false
	if err := h.engine.UpdateSettings(s); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if got := h.pusher.disconnectCount(); got != 1 {
		t.Fatalf("disconnects = %d, want 1", got)
	}

	s.EnablePush = true
	if err := h.engine.UpdateSettings(s); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}
	if got := h.pusher.connectCount(); got != 2 {
		t.Fatalf("connects = %d, want 2", got)
	}
	if len(persisted) != 2 {
		t.Fatalf("persisted %d settings snapshots, want 2", len(persisted))
	}
}

func TestUpdateSettingsRejectsBadQuietHours(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	s := h.engine.Settings()
	s.QuietHours = alert.QuietHours{Enabled: true, Start: "25:00", End: "08:00"}
	if err := h.engine.UpdateSettings(s); err == nil {
		t.Fatal("UpdateSettings accepted an invalid quiet-hours bound")
	}
	if h.engine.Settings().QuietHours.Enabled {
		t.Fatal("rejected settings must not be applied")
	}
}

func TestSettingsOverrideMergesOntoDefaults(t *testing.T) {
	t.Parallel()

	over := alert.DefaultSettings()
	over.Categories = map[alert.Category]bool{alert.CategoryReminder: false}
	h := newHarness(t, Options{Settings: &over})

	s := h.engine.Settings()
	if s.CategoryEnabled(alert.CategoryReminder) {
		t.Fatal("override category not applied")
	}
	if !s.CategoryEnabled(alert.CategoryInvoice) {
		t.Fatal("untouched category lost its default")
	}
}

func TestCloseStopsPipeline(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Options{})
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	h.engine.Close()
	if got := h.pusher.disconnectCount(); got != 1 {
		t.Fatalf("disconnects = %d, want 1", got)
	}
	if h.renderer.closeAll != 1 {
		t.Fatalf("closeAll = %d, want 1", h.renderer.closeAll)
	}

	h.inbound(note("late", alert.CategorySystem, alert.PriorityUrgent))
	if got := len(h.engine.Notifications()); got != 0 {
		t.Fatalf("notifications after Close = %d, want 0", got)
	}
	h.engine.Close() // idempotent
}

func TestQuietHoursSuppressionEndToEnd(t *testing.T) {
	t.Parallel()

	over := alert.DefaultSettings()
	over.QuietHours = alert.QuietHours{Enabled: true, Start: "22:00", End: "08:00"}
	lateNight := time.Date(2026, 3, 14, 23, 30, 0, 0, time.Local)
	h := newHarness(t, Options{
		Settings: &over,
		Now:      func() time.Time { return lateNight },
	})

	h.inbound(note("routine", alert.CategoryInvoice, alert.PriorityMedium))
	h.inbound(note("breach", alert.CategorySecurity, alert.PriorityUrgent))

	if got := h.renderer.shownIDs(); len(got) != 1 || got[0] != "breach" {
		t.Fatalf("shown = %v, want only the urgent alert during quiet hours", got)
	}
	if got := h.engine.UnreadCount(); got != 2 {
		t.Fatalf("UnreadCount = %d, want 2", got)
	}
}

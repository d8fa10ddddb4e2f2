package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"uploadq/internal/queue"
	"uploadq/internal/testsupport"
	"uploadq/internal/transfer"
	"uploadq/internal/transport"
	"uploadq/internal/workflow"
)

type eventLog struct {
	mu     sync.Mutex
	events []workflow.Event
}

func (l *eventLog) HandleEvent(evt workflow.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, evt)
}

func (l *eventLog) forItem(id string) []workflow.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []workflow.Event
	for _, evt := range l.events {
		if evt.Item.ID == id {
			out = append(out, evt)
		}
	}
	return out
}

// lifecycle drops progress and part events.
func (l *eventLog) lifecycle(id string) []workflow.EventType {
	var out []workflow.EventType
	for _, evt := range l.forItem(id) {
		if evt.Type == workflow.EventProgress || evt.Type == workflow.EventPart {
			continue
		}
		out = append(out, evt.Type)
	}
	return out
}

func (l *eventLog) count(id string, kind workflow.EventType) int {
	n := 0
	for _, evt := range l.forItem(id) {
		if evt.Type == kind {
			n++
		}
	}
	return n
}

func newManager(t *testing.T, tr transport.Transport, cfgOpts ...testsupport.ConfigOption) (*workflow.Manager, *eventLog) {
	t.Helper()
	cfg := testsupport.NewConfig(t, cfgOpts...)
	mgr, err := workflow.New(cfg, tr)
	if err != nil {
		t.Fatalf("workflow.New: %v", err)
	}
	t.Cleanup(mgr.Close)
	log := &eventLog{}
	mgr.Subscribe(log)
	return mgr, log
}

func sources(n int, size int64) []queue.Source {
	out := make([]queue.Source, n)
	for i := range out {
		out[i] = queue.NewMemorySource(fmt.Sprintf("file-%d.bin", i), testsupport.Pattern(size))
	}
	return out
}

func byName(responders map[string]testsupport.Responder, fallback testsupport.Responder) testsupport.Responder {
	return func(ctx context.Context, call testsupport.FakeCall, progress transport.ProgressFunc) transport.Result {
		if r, ok := responders[call.Name]; ok {
			return r(ctx, call, progress)
		}
		return fallback(ctx, call, progress)
	}
}

func waitStatus(t *testing.T, mgr *workflow.Manager, id string, want queue.Status) queue.Item {
	t.Helper()
	var item queue.Item
	testsupport.Eventually(t, func() bool {
		var ok bool
		item, ok = mgr.Item(id)
		return ok && item.Status == want
	}, "item %s to reach %s", id, want)
	return item
}

func waitIdle(t *testing.T, mgr *workflow.Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := mgr.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func equalTypes(got, want []workflow.EventType) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	fake := testsupport.NewFakeTransport(testsupport.ChunkingCaps(), nil)
	for _, opt := range []testsupport.ConfigOption{testsupport.WithConcurrency(0), testsupport.WithPartSize(0)} {
		if _, err := workflow.New(testsupport.NewConfig(t, opt), fake); err == nil {
			t.Fatal("expected configuration error")
		}
	}
	if _, err := workflow.New(testsupport.NewConfig(t), nil); err == nil {
		t.Fatal("expected error for missing transport")
	}
}

func TestEnqueueAdmitsUpToCeiling(t *testing.T) {
	release := make(chan struct{})
	fake := testsupport.NewFakeTransport(testsupport.ChunkingCaps(), testsupport.Hold(release, testsupport.Accept()))
	mgr, _ := newManager(t, fake, testsupport.WithConcurrency(5))

	var (
		mu       sync.Mutex
		maxSeen  int
		observed int
	)
	mgr.Subscribe(workflow.SubscriberFunc(func(workflow.Event) {
		snap := mgr.Snapshot()
		mu.Lock()
		defer mu.Unlock()
		observed++
		if snap.Uploading > maxSeen {
			maxSeen = snap.Uploading
		}
	}))

	items := mgr.Enqueue(sources(6, 4096)...)
	if len(items) != 6 {
		t.Fatalf("expected 6 items, got %d", len(items))
	}
	for _, item := range items {
		if item.Status != queue.StatusAdded {
			t.Fatalf("enqueue should return items as added, got %s", item.Status)
		}
	}

	snap := mgr.Snapshot()
	if snap.Uploading != 5 || snap.Added != 1 {
		t.Fatalf("after first pass: uploading=%d added=%d, want 5/1", snap.Uploading, snap.Added)
	}
	last, _ := mgr.Item(items[5].ID)
	if last.Status != queue.StatusAdded {
		t.Fatalf("sixth item should wait, got %s", last.Status)
	}

	close(release)
	waitIdle(t, mgr)

	if got := mgr.Snapshot().Succeeded; got != 6 {
		t.Fatalf("expected 6 succeeded, got %d", got)
	}
	if fake.MaxInFlight() > 5 {
		t.Fatalf("transport saw %d concurrent sends", fake.MaxInFlight())
	}
	mu.Lock()
	defer mu.Unlock()
	if observed == 0 || maxSeen > 5 {
		t.Fatalf("ceiling violated: max uploading %d over %d events", maxSeen, observed)
	}
}

func TestTerminalItemPromotesWaitingItem(t *testing.T) {
	fake := testsupport.NewFakeTransport(testsupport.ChunkingCaps(), testsupport.Silent())
	mgr, _ := newManager(t, fake, testsupport.WithConcurrency(5))

	items := mgr.Enqueue(sources(6, 2048)...)
	if mgr.Snapshot().Uploading != 5 {
		t.Fatalf("expected 5 uploading, got %+v", mgr.Snapshot())
	}
	if err := mgr.CancelItem(items[0].ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	waitStatus(t, mgr, items[0].ID, queue.StatusCancelled)
	waitStatus(t, mgr, items[5].ID, queue.StatusUploading)
	if snap := mgr.Snapshot(); snap.Uploading != 5 || snap.Added != 0 {
		t.Fatalf("unexpected snapshot after promotion %+v", snap)
	}
}

func TestChunkedUploadAdvancesParts(t *testing.T) {
	fake := testsupport.NewFakeTransport(testsupport.ChunkingCaps(), nil)
	mgr, log := newManager(t, fake, testsupport.WithPartSize(1024))

	item := mgr.Enqueue(queue.NewMemorySource("five.bin", testsupport.Pattern(5000)))[0]
	final := waitStatus(t, mgr, item.ID, queue.StatusSucceeded)
	waitIdle(t, mgr)

	calls := fake.Calls()
	if len(calls) != 5 {
		t.Fatalf("expected 5 parts, got %d", len(calls))
	}
	var total int64
	for i, call := range calls {
		if call.PartIndex != i || call.PartCount != 5 || call.FileID != final.FileID {
			t.Fatalf("part %d: unexpected call %+v", i, call)
		}
		total += int64(len(call.Body))
	}
	if total != 5000 {
		t.Fatalf("sent %d bytes, want 5000", total)
	}

	var nextIndexes []int
	for _, evt := range log.forItem(item.ID) {
		if evt.Type == workflow.EventPart {
			nextIndexes = append(nextIndexes, evt.Item.NextPartIndex)
		}
	}
	if fmt.Sprint(nextIndexes) != "[1 2 3 4]" {
		t.Fatalf("part events = %v", nextIndexes)
	}
	if final.NextPartIndex != 4 || final.Loaded != 5000 || final.Percent() != 100 {
		t.Fatalf("unexpected final item %+v", final)
	}
	want := []workflow.EventType{workflow.EventAdded, workflow.EventCompleted, workflow.EventSucceeded}
	if got := log.lifecycle(item.ID); !equalTypes(got, want) {
		t.Fatalf("lifecycle = %v, want %v", got, want)
	}
}

func TestCancelWithoutHandleIsSynchronous(t *testing.T) {
	fake := testsupport.NewFakeTransport(testsupport.ChunkingCaps(), testsupport.Silent())
	mgr, log := newManager(t, fake, testsupport.WithConcurrency(1))

	items := mgr.Enqueue(sources(2, 1024)...)
	waiting := items[1]
	if err := mgr.CancelItem(waiting.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, _ := mgr.Item(waiting.ID)
	if got.Status != queue.StatusCancelled || got.FailureKind != string(transfer.UserCancelled) {
		t.Fatalf("expected synchronous cancel, got %+v", got)
	}
	want := []workflow.EventType{workflow.EventAdded, workflow.EventCompleted, workflow.EventCancelled}
	if types := log.lifecycle(waiting.ID); !equalTypes(types, want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	if log.count(waiting.ID, workflow.EventProgress) != 0 {
		t.Fatal("cancelled item reported progress")
	}
	if err := mgr.CancelItem(waiting.ID); err != nil {
		t.Fatalf("cancel of terminal item should be a no-op: %v", err)
	}
	if n := log.count(waiting.ID, workflow.EventCancelled); n != 1 {
		t.Fatalf("expected one cancelled event, got %d", n)
	}
}

func TestCancelActiveUploadReportsOnAbort(t *testing.T) {
	fake := testsupport.NewFakeTransport(testsupport.ChunkingCaps(), testsupport.Silent())
	mgr, log := newManager(t, fake)

	item := mgr.Enqueue(queue.NewMemorySource("a.bin", testsupport.Pattern(2048)))[0]
	fake.WaitForCalls(t, 1)
	if err := mgr.CancelItem(item.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitStatus(t, mgr, item.ID, queue.StatusCancelled)
	waitIdle(t, mgr)

	want := []workflow.EventType{workflow.EventAdded, workflow.EventCompleted, workflow.EventCancelled}
	if got := log.lifecycle(item.ID); !equalTypes(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestStallRestartsOnce(t *testing.T) {
	fake := testsupport.NewFakeTransport(testsupport.ChunkingCaps(), testsupport.Sequence(testsupport.Silent(), testsupport.Accept()))
	mgr, log := newManager(t, fake, testsupport.WithStallTimeout(50))

	item := mgr.Enqueue(queue.NewMemorySource("slow.bin", testsupport.Pattern(512)))[0]
	final := waitStatus(t, mgr, item.ID, queue.StatusSucceeded)
	waitIdle(t, mgr)

	if final.StallRetries != 1 || final.Attempts != 2 {
		t.Fatalf("expected one stall restart, got retries=%d attempts=%d", final.StallRetries, final.Attempts)
	}
	if len(fake.Calls()) != 2 {
		t.Fatalf("expected 2 sends, got %d", len(fake.Calls()))
	}
	if log.count(item.ID, workflow.EventFailed) != 0 || log.count(item.ID, workflow.EventCancelled) != 0 {
		t.Fatal("stall restart must not report failed or cancelled")
	}

	var restartStatus queue.Status
	for _, evt := range log.forItem(item.ID) {
		if evt.Type == workflow.EventCompleted {
			restartStatus = evt.Item.Status
			break
		}
	}
	if restartStatus != queue.StatusRetrying {
		t.Fatalf("first completed event should carry retrying, got %s", restartStatus)
	}
	want := []workflow.EventType{workflow.EventAdded, workflow.EventCompleted, workflow.EventCompleted, workflow.EventSucceeded}
	if got := log.lifecycle(item.ID); !equalTypes(got, want) {
		t.Fatalf("lifecycle = %v, want %v", got, want)
	}
}

func TestStallRetryCapFailsItem(t *testing.T) {
	fake := testsupport.NewFakeTransport(testsupport.ChunkingCaps(), testsupport.Silent())
	mgr, log := newManager(t, fake, testsupport.WithStallTimeout(30), testsupport.WithMaxStallRetries(1))

	item := mgr.Enqueue(queue.NewMemorySource("stuck.bin", testsupport.Pattern(512)))[0]
	final := waitStatus(t, mgr, item.ID, queue.StatusFailed)
	if final.FailureKind != string(transfer.StallTimeout) {
		t.Fatalf("failure kind = %q", final.FailureKind)
	}
	if final.StallRetries != 1 {
		t.Fatalf("stall retries = %d, want 1", final.StallRetries)
	}
	if log.count(item.ID, workflow.EventFailed) != 1 {
		t.Fatal("expected one failed event")
	}
}

func TestSuccessAfterStallCapStillSucceeds(t *testing.T) {
	// The server answers after the stall cap has cancelled the attempt.
	lateSuccess := func(ctx context.Context, _ testsupport.FakeCall, _ transport.ProgressFunc) transport.Result {
		<-ctx.Done()
		return transport.Result{Signal: transport.Loaded, StatusCode: 200, Body: []byte(`{"success":true}`)}
	}
	fake := testsupport.NewFakeTransport(testsupport.ChunkingCaps(), testsupport.Sequence(testsupport.Silent(), lateSuccess))
	mgr, log := newManager(t, fake, testsupport.WithStallTimeout(30), testsupport.WithMaxStallRetries(1))

	item := mgr.Enqueue(queue.NewMemorySource("late.bin", testsupport.Pattern(512)))[0]
	final := waitStatus(t, mgr, item.ID, queue.StatusSucceeded)
	waitIdle(t, mgr)

	if final.FailureKind != "" || final.ErrorMessage != "" {
		t.Fatalf("succeeded item carries failure %q: %q", final.FailureKind, final.ErrorMessage)
	}
	if log.count(item.ID, workflow.EventFailed) != 0 {
		t.Fatal("a completed transfer must not be reported as failed")
	}
	want := []workflow.EventType{workflow.EventAdded, workflow.EventCompleted, workflow.EventCompleted, workflow.EventSucceeded}
	if got := log.lifecycle(item.ID); !equalTypes(got, want) {
		t.Fatalf("lifecycle = %v, want %v", got, want)
	}
}

func TestRestartReportsProgressFromPartBoundary(t *testing.T) {
	never := make(chan struct{})
	fake := testsupport.NewFakeTransport(testsupport.ChunkingCaps(),
		testsupport.Sequence(testsupport.Accept(), testsupport.Hold(never, testsupport.Accept()), testsupport.Accept()))
	mgr, log := newManager(t, fake, testsupport.WithPartSize(1000), testsupport.WithStallTimeout(50))

	item := mgr.Enqueue(queue.NewMemorySource("restart.bin", testsupport.Pattern(3000)))[0]
	waitStatus(t, mgr, item.ID, queue.StatusSucceeded)
	waitIdle(t, mgr)

	var (
		restarted bool
		peak      int64
	)
	for _, evt := range log.forItem(item.ID) {
		switch {
		case evt.Type == workflow.EventCompleted && evt.Item.Status == queue.StatusRetrying:
			restarted = true
		case evt.Type == workflow.EventProgress && !restarted:
			peak = max(peak, evt.Loaded)
		case evt.Type == workflow.EventProgress && restarted:
			if peak != 1500 {
				t.Fatalf("first attempt peaked at %d, want 1500", peak)
			}
			if evt.Loaded != 1000 || evt.Total != 3000 {
				t.Fatalf("first progress after restart = %d/%d, want 1000/3000", evt.Loaded, evt.Total)
			}
			return
		}
	}
	t.Fatal("no progress reported after the restart")
}

func TestProgressRearmsStallTimer(t *testing.T) {
	release := make(chan struct{})
	trickle := func(ctx context.Context, call testsupport.FakeCall, progress transport.ProgressFunc) transport.Result {
		size := int64(len(call.Body))
		for loaded := int64(1); ; loaded++ {
			select {
			case <-ctx.Done():
				return transport.Result{Signal: transport.Aborted, Err: ctx.Err()}
			case <-release:
				progress(size, size)
				return transport.Result{Signal: transport.Loaded, StatusCode: 200, Body: []byte(`{"success":true}`)}
			case <-time.After(20 * time.Millisecond):
				progress(min(loaded, size-1), size)
			}
		}
	}
	fake := testsupport.NewFakeTransport(testsupport.ChunkingCaps(), trickle)
	mgr, _ := newManager(t, fake, testsupport.WithStallTimeout(80))

	item := mgr.Enqueue(queue.NewMemorySource("trickle.bin", testsupport.Pattern(1000)))[0]
	time.Sleep(300 * time.Millisecond)
	close(release)
	final := waitStatus(t, mgr, item.ID, queue.StatusSucceeded)
	if final.StallRetries != 0 || final.Attempts != 1 {
		t.Fatalf("steady progress should not stall, got retries=%d attempts=%d", final.StallRetries, final.Attempts)
	}
}

func TestRetrySucceededItemUploadsAgain(t *testing.T) {
	responder := byName(map[string]testsupport.Responder{"blocker.bin": testsupport.Silent()}, testsupport.Accept())
	fake := testsupport.NewFakeTransport(testsupport.ChunkingCaps(), responder)
	mgr, log := newManager(t, fake, testsupport.WithConcurrency(1))

	done := mgr.Enqueue(queue.NewMemorySource("done.bin", testsupport.Pattern(300)))[0]
	first := waitStatus(t, mgr, done.ID, queue.StatusSucceeded)

	blocker := mgr.Enqueue(queue.NewMemorySource("blocker.bin", testsupport.Pattern(300)))[0]
	waitStatus(t, mgr, blocker.ID, queue.StatusUploading)

	if err := mgr.RetryItem(done.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	retrying, _ := mgr.Item(done.ID)
	if retrying.Status != queue.StatusRetrying {
		t.Fatalf("expected retrying while the slot is busy, got %s", retrying.Status)
	}

	if err := mgr.CancelItem(blocker.ID); err != nil {
		t.Fatalf("cancel blocker: %v", err)
	}
	again := waitStatus(t, mgr, done.ID, queue.StatusSucceeded)
	waitIdle(t, mgr)

	if n := log.count(done.ID, workflow.EventSucceeded); n != 2 {
		t.Fatalf("expected succeeded twice, got %d", n)
	}
	if again.FileID != first.FileID || again.Attempts != 2 {
		t.Fatalf("re-upload should keep the file id: first=%+v again=%+v", first, again)
	}
}

func TestRetryWhileUploadingRestartsWithoutCancel(t *testing.T) {
	release := make(chan struct{})
	fake := testsupport.NewFakeTransport(testsupport.ChunkingCaps(), testsupport.Sequence(testsupport.Silent(), testsupport.Hold(release, testsupport.Accept())))
	mgr, log := newManager(t, fake)

	item := mgr.Enqueue(queue.NewMemorySource("r.bin", testsupport.Pattern(256)))[0]
	fake.WaitForCalls(t, 1)
	if err := mgr.RetryItem(item.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	fake.WaitForCalls(t, 2)
	close(release)
	waitStatus(t, mgr, item.ID, queue.StatusSucceeded)
	waitIdle(t, mgr)

	if log.count(item.ID, workflow.EventCancelled) != 0 {
		t.Fatal("restart must not emit cancelled")
	}
	want := []workflow.EventType{workflow.EventAdded, workflow.EventCompleted, workflow.EventCompleted, workflow.EventSucceeded}
	if got := log.lifecycle(item.ID); !equalTypes(got, want) {
		t.Fatalf("lifecycle = %v, want %v", got, want)
	}
}

func TestRetryIsNoOpForAddedItems(t *testing.T) {
	fake := testsupport.NewFakeTransport(testsupport.ChunkingCaps(), testsupport.Silent())
	mgr, _ := newManager(t, fake, testsupport.WithConcurrency(1))

	items := mgr.Enqueue(sources(2, 64)...)
	if err := mgr.RetryItem(items[1].ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	got, _ := mgr.Item(items[1].ID)
	if got.Status != queue.StatusAdded {
		t.Fatalf("retry of added item changed status to %s", got.Status)
	}
	if err := mgr.RetryItem("missing"); !errors.Is(err, workflow.ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem, got %v", err)
	}
}

func TestRejectedSingleShotFailsWithoutRetry(t *testing.T) {
	fake := testsupport.NewFakeTransport(transport.Capabilities{}, testsupport.Reject())
	mgr, log := newManager(t, fake)

	item := mgr.Enqueue(queue.NewMemorySource("doc.txt", []byte("hello")))[0]
	final := waitStatus(t, mgr, item.ID, queue.StatusFailed)
	waitIdle(t, mgr)
	time.Sleep(50 * time.Millisecond)

	if final.FailureKind != string(transfer.ApplicationFailure) {
		t.Fatalf("failure kind = %q", final.FailureKind)
	}
	want := []workflow.EventType{workflow.EventAdded, workflow.EventCompleted, workflow.EventFailed}
	if got := log.lifecycle(item.ID); !equalTypes(got, want) {
		t.Fatalf("lifecycle = %v, want %v", got, want)
	}
	calls := fake.Calls()
	if len(calls) != 1 || calls[0].Kind != transport.Whole {
		t.Fatalf("expected one whole-file send, got %+v", calls)
	}
}

func TestTransportErrorFailsItem(t *testing.T) {
	fake := testsupport.NewFakeTransport(testsupport.ChunkingCaps(), testsupport.Unreachable())
	mgr, _ := newManager(t, fake)

	item := mgr.Enqueue(queue.NewMemorySource("x.bin", testsupport.Pattern(10)))[0]
	final := waitStatus(t, mgr, item.ID, queue.StatusFailed)
	if final.FailureKind != string(transfer.TransportFailure) || final.ErrorMessage == "" {
		t.Fatalf("unexpected failure %+v", final)
	}
}

func TestUnknownSizeReportsUnknownProgress(t *testing.T) {
	respond := func(_ context.Context, _ testsupport.FakeCall, progress transport.ProgressFunc) transport.Result {
		progress(-1, -1)
		return transport.Result{Signal: transport.Loaded, StatusCode: 200, Body: []byte(`{"success":true}`)}
	}
	fake := testsupport.NewFakeTransport(testsupport.ChunkingCaps(), respond)
	mgr, log := newManager(t, fake)

	item := mgr.Enqueue(queue.NewStreamSource("stdin", strings.NewReader("piped")))[0]
	final := waitStatus(t, mgr, item.ID, queue.StatusSucceeded)
	waitIdle(t, mgr)

	for _, evt := range log.forItem(item.ID) {
		if evt.Type == workflow.EventProgress && (evt.Loaded != queue.UnknownSize || evt.Total != queue.UnknownSize) {
			t.Fatalf("expected unknown progress, got %d/%d", evt.Loaded, evt.Total)
		}
	}
	if final.FileID != "" || final.Percent() != 100 {
		t.Fatalf("unexpected final item %+v", final)
	}
	if fake.Calls()[0].Kind != transport.Whole {
		t.Fatal("unsized sources must be sent whole")
	}
}

func TestChunkingDisabledOption(t *testing.T) {
	fake := testsupport.NewFakeTransport(testsupport.ChunkingCaps(), nil)
	cfg := testsupport.NewConfig(t, testsupport.WithPartSize(100))
	mgr, err := workflow.New(cfg, fake, workflow.WithChunkingDisabled(true))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer mgr.Close()

	item := mgr.Enqueue(queue.NewMemorySource("big.bin", testsupport.Pattern(1000)))[0]
	waitStatus(t, mgr, item.ID, queue.StatusSucceeded)
	if calls := fake.Calls(); len(calls) != 1 || calls[0].Kind != transport.Whole {
		t.Fatalf("expected one whole-file send, got %d calls", len(calls))
	}
}

func TestRemoveItem(t *testing.T) {
	fake := testsupport.NewFakeTransport(testsupport.ChunkingCaps(), testsupport.Sequence(testsupport.Accept(), testsupport.Silent()))
	mgr, log := newManager(t, fake, testsupport.WithConcurrency(1))

	done := mgr.Enqueue(queue.NewMemorySource("done.bin", testsupport.Pattern(8)))[0]
	waitStatus(t, mgr, done.ID, queue.StatusSucceeded)
	busy := mgr.Enqueue(queue.NewMemorySource("busy.bin", testsupport.Pattern(8)))[0]
	waitStatus(t, mgr, busy.ID, queue.StatusUploading)

	if err := mgr.RemoveItem(busy.ID); !errors.Is(err, workflow.ErrNotRemovable) {
		t.Fatalf("expected ErrNotRemovable, got %v", err)
	}
	if err := mgr.RemoveItem(done.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := mgr.Item(done.ID); ok {
		t.Fatal("removed item still present")
	}
	if log.count(done.ID, workflow.EventRemoved) != 1 {
		t.Fatal("expected removed event")
	}
	if err := mgr.RemoveItem(done.ID); !errors.Is(err, workflow.ErrUnknownItem) {
		t.Fatalf("expected ErrUnknownItem, got %v", err)
	}
	if len(mgr.Items()) != 1 {
		t.Fatalf("expected one remaining item, got %d", len(mgr.Items()))
	}
}

func TestAutoClearRemovesSucceededItems(t *testing.T) {
	fake := testsupport.NewFakeTransport(testsupport.ChunkingCaps(), nil)
	mgr, log := newManager(t, fake, testsupport.WithAutoClear(20))

	item := mgr.Enqueue(queue.NewMemorySource("c.bin", testsupport.Pattern(8)))[0]
	testsupport.Eventually(t, func() bool {
		_, ok := mgr.Item(item.ID)
		return !ok
	}, "auto-clear of %s", item.ID)
	want := []workflow.EventType{workflow.EventAdded, workflow.EventCompleted, workflow.EventSucceeded, workflow.EventRemoved}
	testsupport.Eventually(t, func() bool { return equalTypes(log.lifecycle(item.ID), want) }, "removed event")
}

func TestAutoClearSkipsRetriedItems(t *testing.T) {
	fake := testsupport.NewFakeTransport(testsupport.ChunkingCaps(), testsupport.Sequence(testsupport.Accept(), testsupport.Silent()))
	mgr, log := newManager(t, fake, testsupport.WithAutoClear(100))

	item := mgr.Enqueue(queue.NewMemorySource("keep.bin", testsupport.Pattern(8)))[0]
	waitStatus(t, mgr, item.ID, queue.StatusSucceeded)
	if err := mgr.RetryItem(item.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}
	time.Sleep(250 * time.Millisecond)

	got, ok := mgr.Item(item.ID)
	if !ok {
		t.Fatal("retried item was auto-cleared")
	}
	if got.Status != queue.StatusUploading {
		t.Fatalf("expected second attempt in flight, got %s", got.Status)
	}
	if log.count(item.ID, workflow.EventRemoved) != 0 {
		t.Fatal("unexpected removed event")
	}
}

func TestCloseCancelsEverything(t *testing.T) {
	fake := testsupport.NewFakeTransport(testsupport.ChunkingCaps(), testsupport.Silent())
	cfg := testsupport.NewConfig(t, testsupport.WithConcurrency(1))
	mgr, err := workflow.New(cfg, fake)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	log := &eventLog{}
	mgr.Subscribe(log)

	items := mgr.Enqueue(sources(2, 128)...)
	fake.WaitForCalls(t, 1)
	mgr.Close()

	for _, item := range items {
		got, _ := mgr.Item(item.ID)
		if got.Status != queue.StatusCancelled {
			t.Fatalf("item %s left in %s", item.Name, got.Status)
		}
		if log.count(item.ID, workflow.EventCancelled) != 1 {
			t.Fatalf("item %s missing cancelled event", item.Name)
		}
	}
	if fake.InFlight() != 0 {
		t.Fatal("close returned with sends in flight")
	}
	if added := mgr.Enqueue(queue.NewMemorySource("late", nil)); added != nil {
		t.Fatal("closed manager accepted new items")
	}
	mgr.Close()
}

func TestSubscriberMayCallBackIntoManager(t *testing.T) {
	fake := testsupport.NewFakeTransport(testsupport.ChunkingCaps(), testsupport.Reject())
	mgr, log := newManager(t, fake)

	var once sync.Once
	mgr.Subscribe(workflow.SubscriberFunc(func(evt workflow.Event) {
		if evt.Type == workflow.EventFailed {
			once.Do(func() { _ = mgr.RemoveItem(evt.Item.ID) })
		}
	}))

	item := mgr.Enqueue(queue.NewMemorySource("bad.bin", testsupport.Pattern(16)))[0]
	testsupport.Eventually(t, func() bool { return log.count(item.ID, workflow.EventRemoved) == 1 }, "removal from subscriber")
	want := []workflow.EventType{workflow.EventAdded, workflow.EventCompleted, workflow.EventFailed, workflow.EventRemoved}
	if got := log.lifecycle(item.ID); !equalTypes(got, want) {
		t.Fatalf("lifecycle = %v, want %v", got, want)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	fake := testsupport.NewFakeTransport(testsupport.ChunkingCaps(), nil)
	mgr, _ := newManager(t, fake)

	extra := &eventLog{}
	unsubscribe := mgr.Subscribe(extra)
	unsubscribe()

	mgr.Enqueue(queue.NewMemorySource("a", testsupport.Pattern(4)))
	waitIdle(t, mgr)
	extra.mu.Lock()
	defer extra.mu.Unlock()
	if len(extra.events) != 0 {
		t.Fatalf("unsubscribed listener got %d events", len(extra.events))
	}
}

package watcher_test

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roseeng/SyncTrayzor/internal/adapter/fake"
	"github.com/roseeng/SyncTrayzor/internal/events"
	"github.com/roseeng/SyncTrayzor/internal/poller"
	"github.com/roseeng/SyncTrayzor/internal/watcher"
)

const testTimeout = 2 * time.Second

// transportErr is what a real client returns when the daemon is unreachable.
type transportErr struct{}

func (transportErr) Error() string   { return "dial tcp 127.0.0.1:8384: connection refused" }
func (transportErr) Transient() bool { return true }

// journal collects notifications in arrival order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	j.entries = append(j.entries, fmt.Sprintf(format, args...))
	j.mu.Unlock()
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return slices.Clone(j.entries)
}

func (j *journal) waitLen(t *testing.T, n int) []string {
	t.Helper()
	waitFor(t, fmt.Sprintf("%d notifications", n), func() bool { return len(j.snapshot()) >= n })
	return j.snapshot()
}

func observe(w *watcher.Watcher) *journal {
	j := &journal{}
	w.OnSyncStateChanged(func(n watcher.SyncStateChanged) { j.add("state:%s", n.Folder) })
	w.OnEventsSkipped(func(n watcher.EventsSkipped) { j.add("skipped:%d->%d", n.LastSeen, n.Resumed) })
	return j
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func stateChanged(folder string) events.StateChanged {
	return events.StateChanged{Folder: folder, From: "idle", To: "syncing"}
}

// seed appends n events named f1..fn.
func seed(log *fake.EventLog, n int) {
	for i := 1; i <= n; i++ {
		log.Append(stateChanged(fmt.Sprintf("f%d", i)))
	}
}

// startAt starts w against log and waits until the first poll has
// established the cursor at the log's newest id.
func startAt(t *testing.T, w *watcher.Watcher, log *fake.EventLog, j *journal) {
	t.Helper()
	w.Start()
	t.Cleanup(func() { _ = w.Close() })

	head := log.LastID()
	j.waitLen(t, 1)
	waitFor(t, "fetch since head", func() bool {
		for _, c := range log.Calls("FetchSince") {
			if c.Args[0] == head {
				return true
			}
		}
		return false
	})
}

func TestWatcher_FirstPollFetchesLatestOnly(t *testing.T) {
	log := fake.NewEventLog()
	seed(log, 5)

	w := watcher.New(watcher.Static(log))
	j := observe(w)
	startAt(t, w, log, j)

	if got := j.snapshot(); !slices.Equal(got, []string{"state:f5"}) {
		t.Fatalf("notifications = %v, want only the latest event", got)
	}
	if got := log.Methods()[0]; got != "FetchLatest" {
		t.Fatalf("first fetch = %s, want FetchLatest", got)
	}
	if log.Count("FetchLatest") != 1 {
		t.Fatalf("FetchLatest called %d times, want 1", log.Count("FetchLatest"))
	}
	if got := w.Cursor(); got != 5 {
		t.Fatalf("Cursor() = %d, want 5", got)
	}
}

func TestWatcher_ContiguousBatchDispatchesInOrder(t *testing.T) {
	log := fake.NewEventLog()
	seed(log, 42)

	w := watcher.New(watcher.Static(log))
	j := observe(w)
	startAt(t, w, log, j)

	log.Append(stateChanged("a"), stateChanged("b"), stateChanged("c"))

	got := j.waitLen(t, 4)
	want := []string{"state:f42", "state:a", "state:b", "state:c"}
	if !slices.Equal(got, want) {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
	waitFor(t, "cursor 45", func() bool { return w.Cursor() == 45 })
}

func TestWatcher_GapReportedOnceAfterBatch(t *testing.T) {
	log := fake.NewEventLog()
	seed(log, 42)

	w := watcher.New(watcher.Static(log))
	j := observe(w)
	startAt(t, w, log, j)

	log.Skip(7)
	log.Append(stateChanged("x"), stateChanged("y"))

	got := j.waitLen(t, 4)
	want := []string{"state:f42", "state:x", "state:y", "skipped:42->50"}
	if !slices.Equal(got, want) {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
	waitFor(t, "cursor 51", func() bool { return w.Cursor() == 51 })

	log.Append(stateChanged("z"))
	got = j.waitLen(t, 5)
	if got[4] != "state:z" {
		t.Fatalf("notification after gap = %s, want state:z", got[4])
	}
}

func TestWatcher_TransportFailureKeepsCursor(t *testing.T) {
	log := fake.NewEventLog()
	seed(log, 10)
	sleeper := fake.NewSleeper()

	w := watcher.New(watcher.Static(log), watcher.WithPollerOptions(poller.WithSleep(sleeper.Sleep)))
	j := observe(w)
	log.Faults.FailOnce(fake.FaultFetchSince, transportErr{})
	startAt(t, w, log, j)
	waitFor(t, "retried fetch", func() bool { return log.Count("FetchSince") >= 2 })

	if got := w.Cursor(); got != 10 {
		t.Fatalf("Cursor() after failure = %d, want 10", got)
	}
	if waits := sleeper.Waits(); !slices.Equal(waits, []time.Duration{10 * time.Second}) {
		t.Fatalf("waits = %v, want one errored interval of 10s", waits)
	}
	if log.Faults.Hits(fake.FaultFetchSince) != 1 {
		t.Fatalf("fault hits = %d, want 1", log.Faults.Hits(fake.FaultFetchSince))
	}

	log.Append(stateChanged("next"))
	got := j.waitLen(t, 2)
	if !slices.Equal(got, []string{"state:f10", "state:next"}) {
		t.Fatalf("notifications = %v", got)
	}
}

func TestWatcher_CustomErroredInterval(t *testing.T) {
	log := fake.NewEventLog()
	seed(log, 1)
	sleeper := fake.NewSleeper()

	w := watcher.New(watcher.Static(log),
		watcher.WithErroredInterval(250*time.Millisecond),
		watcher.WithPollerOptions(poller.WithSleep(sleeper.Sleep)),
	)
	j := observe(w)
	log.Faults.FailOnce(fake.FaultFetchLatest, errors.New("bad gateway"))
	startAt(t, w, log, j)

	if waits := sleeper.Waits(); !slices.Equal(waits, []time.Duration{250 * time.Millisecond}) {
		t.Fatalf("waits = %v, want [250ms]", waits)
	}
	if st := w.Status(); st.Failures != 0 || st.LastErr != "" {
		t.Fatalf("status after recovery = %+v", st)
	}
}

func TestWatcher_StopDuringFetch(t *testing.T) {
	log := fake.NewEventLog()
	w := watcher.New(watcher.Static(log))
	j := observe(w)

	w.Start()
	waitFor(t, "first fetch", func() bool { return log.Count("FetchLatest") == 1 })

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatal("Stop did not interrupt the blocked fetch")
	}
	if w.Running() {
		t.Fatal("watcher still running after Stop")
	}

	log.Append(stateChanged("late"))
	time.Sleep(20 * time.Millisecond)
	if got := j.snapshot(); len(got) != 0 {
		t.Fatalf("notifications after Stop = %v, want none", got)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func TestWatcher_RestartResetsCursor(t *testing.T) {
	log := fake.NewEventLog()
	seed(log, 3)

	w := watcher.New(watcher.Static(log))
	j := observe(w)
	startAt(t, w, log, j)
	w.Stop()

	log.Append(stateChanged("missed1"), stateChanged("missed2"))
	w.Start()
	got := j.waitLen(t, 2)
	if !slices.Equal(got, []string{"state:f3", "state:missed2"}) {
		t.Fatalf("notifications = %v, want restart to resume from the newest event", got)
	}
	if log.Count("FetchLatest") != 2 {
		t.Fatalf("FetchLatest called %d times, want once per session", log.Count("FetchLatest"))
	}
}

func TestWatcher_InvalidEventSkipped(t *testing.T) {
	log := fake.NewEventLog()
	seed(log, 42)

	w := watcher.New(watcher.Static(log))
	j := observe(w)
	startAt(t, w, log, j)

	now := time.Now()
	log.Script(
		events.New(43, now, stateChanged("ok1")),
		events.New(44, now, events.StateChanged{}),
		events.New(45, now, stateChanged("ok2")),
	)

	got := j.waitLen(t, 3)
	if !slices.Equal(got, []string{"state:f42", "state:ok1", "state:ok2"}) {
		t.Fatalf("notifications = %v", got)
	}
	waitFor(t, "cursor 45", func() bool { return w.Cursor() == 45 })
}

func TestWatcher_UnorderedAndStaleEvents(t *testing.T) {
	log := fake.NewEventLog()
	seed(log, 42)

	w := watcher.New(watcher.Static(log))
	j := observe(w)
	startAt(t, w, log, j)

	now := time.Now()
	log.Script(
		events.New(45, now, stateChanged("c")),
		events.New(41, now, stateChanged("old")),
		events.New(43, now, stateChanged("a")),
		events.New(42, now, stateChanged("dup")),
		events.New(44, now, stateChanged("b")),
	)

	got := j.waitLen(t, 4)
	if !slices.Equal(got, []string{"state:f42", "state:a", "state:b", "state:c"}) {
		t.Fatalf("notifications = %v", got)
	}

	log.Script(events.New(40, now, stateChanged("stale")))
	log.Script(events.New(46, now, stateChanged("fresh")))
	waitFor(t, "fresh event", func() bool { return len(j.snapshot()) >= 5 })
	got = j.snapshot()
	if got[4] != "state:fresh" || len(got) != 5 {
		t.Fatalf("notifications = %v, want stale batch ignored", got)
	}
}

func TestWatcher_SlowObserverDoesNotBlockFetch(t *testing.T) {
	log := fake.NewEventLog()
	seed(log, 1)

	w := watcher.New(watcher.Static(log))
	release := make(chan struct{})
	var (
		mu     sync.Mutex
		seen   []string
		active atomic.Int32
		maxAct atomic.Int32
	)
	w.OnSyncStateChanged(func(n watcher.SyncStateChanged) {
		cur := active.Add(1)
		for {
			old := maxAct.Load()
			if cur <= old || maxAct.CompareAndSwap(old, cur) {
				break
			}
		}
		if n.Folder == "block" {
			<-release
		}
		mu.Lock()
		seen = append(seen, n.Folder)
		mu.Unlock()
		active.Add(-1)
	})

	w.Start()
	t.Cleanup(func() { _ = w.Close() })
	waitFor(t, "first batch", func() bool { return log.Count("FetchSince") >= 1 })

	log.Append(stateChanged("block"))
	waitFor(t, "fetch past blocked batch", func() bool {
		for _, c := range log.Calls("FetchSince") {
			if c.Args[0] == int64(2) {
				return true
			}
		}
		return false
	})
	log.Append(stateChanged("after1"))
	log.Append(stateChanged("after2"))
	waitFor(t, "cursor 4", func() bool { return w.Cursor() == 4 })
	if st := w.Status(); st.Pending == 0 {
		t.Fatalf("Pending = 0 while observer is blocked")
	}

	close(release)
	waitFor(t, "all dispatched", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 4
	})
	mu.Lock()
	got := slices.Clone(seen)
	mu.Unlock()
	if !slices.Equal(got, []string{"f1", "block", "after1", "after2"}) {
		t.Fatalf("dispatch order = %v", got)
	}
	if maxAct.Load() != 1 {
		t.Fatalf("observers overlapped: max active %d", maxAct.Load())
	}
}

func TestWatcher_CloseDrainsDispatchAndCheckpoints(t *testing.T) {
	log := fake.NewEventLog()
	seed(log, 7)
	store := fake.NewCheckpointStore()

	w := watcher.New(watcher.Static(log), watcher.WithName("test-watcher"), watcher.WithCheckpoint(store))
	release := make(chan struct{})
	var delivered atomic.Int32
	w.OnSyncStateChanged(func(watcher.SyncStateChanged) {
		<-release
		delivered.Add(1)
	})

	w.Start()
	waitFor(t, "first fetch returned", func() bool { return log.Count("FetchSince") >= 1 })

	closed := make(chan error, 1)
	go func() { closed <- w.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned before the queued batch was dispatched")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)

	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("Close() error: %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Close did not return")
	}
	if delivered.Load() != 1 {
		t.Fatalf("delivered = %d, want 1", delivered.Load())
	}
	if id, ok := store.Cursor("test-watcher"); !ok || id != 7 {
		t.Fatalf("checkpoint = %d, %v; want 7", id, ok)
	}
}

func TestWatcher_CheckpointFailureDoesNotStopDispatch(t *testing.T) {
	log := fake.NewEventLog()
	seed(log, 1)
	store := fake.NewCheckpointStore()
	store.SetCursorErr = func(string, int64) error { return errors.New("disk full") }

	w := watcher.New(watcher.Static(log), watcher.WithCheckpoint(store))
	j := observe(w)
	startAt(t, w, log, j)

	log.Append(stateChanged("second"))
	j.waitLen(t, 2)
	waitFor(t, "two checkpoint attempts", func() bool { return store.Count("SetCursor") >= 2 })
}

func TestWatcher_BindsClientLazily(t *testing.T) {
	log := fake.NewEventLog()
	seed(log, 2)
	sleeper := fake.NewSleeper()

	var attempts atomic.Int32
	source := func() (watcher.Client, error) {
		if attempts.Add(1) <= 2 {
			return nil, errors.New("daemon not started")
		}
		return log, nil
	}

	w := watcher.New(source, watcher.WithPollerOptions(poller.WithSleep(sleeper.Sleep)))
	j := observe(w)
	startAt(t, w, log, j)

	if got := attempts.Load(); got != 3 {
		t.Fatalf("source consulted %d times, want 3", got)
	}
	if waits := sleeper.Waits(); len(waits) != 1 {
		t.Fatalf("waits = %v, want one errored wait", waits)
	}
}

func TestWatcher_SourcePanicAtStartIsRetried(t *testing.T) {
	log := fake.NewEventLog()
	seed(log, 3)
	sleeper := fake.NewSleeper()

	var attempts atomic.Int32
	source := func() (watcher.Client, error) {
		if attempts.Add(1) == 1 {
			panic("source exploded")
		}
		return log, nil
	}

	w := watcher.New(source, watcher.WithPollerOptions(poller.WithSleep(sleeper.Sleep)))
	j := observe(w)
	startAt(t, w, log, j)

	if got := attempts.Load(); got != 2 {
		t.Fatalf("source consulted %d times, want 2", got)
	}
	if got := j.snapshot(); !slices.Equal(got, []string{"state:f3"}) {
		t.Fatalf("notifications = %v, want the latest event", got)
	}
	if !w.Running() {
		t.Fatal("watcher stopped after the source panicked")
	}
}

func TestWatcher_NotificationFields(t *testing.T) {
	log := fake.NewEventLog()
	w := watcher.New(watcher.Static(log))

	var (
		mu  sync.Mutex
		got []string
	)
	add := func(s string) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	}
	w.OnItemFinished(func(n watcher.ItemFinished) { add(fmt.Sprintf("finished:%s/%s:%s", n.Folder, n.Item, n.Error)) })
	w.OnItemDownloadProgress(func(n watcher.ItemDownloadProgress) {
		add(fmt.Sprintf("progress:%s/%s:%d/%d", n.Folder, n.Item, n.BytesDone, n.BytesTotal))
	})
	w.OnDeviceConnected(func(n watcher.DeviceConnected) { add("connected:" + n.DeviceID + "@" + n.Address) })
	w.OnFolderRejected(func(n watcher.FolderRejected) { add("rejected:" + n.DeviceID + ":" + n.FolderID) })
	w.OnStartupComplete(func(n watcher.StartupComplete) { add("startup:" + n.DeviceID) })
	unsub := w.OnDevicePaused(func(n watcher.DevicePaused) { add("paused:" + n.DeviceID) })
	unsub()
	unsub()

	failed := "permission denied"
	log.Script(
		events.New(1, time.Now(), events.ItemFinished{Folder: "docs", Item: "a.txt", Error: &failed}),
		events.New(2, time.Now(), events.DownloadProgress{
			"photos": {"b.jpg": {BytesDone: 5, BytesTotal: 10}, "a.jpg": {BytesDone: 1, BytesTotal: 2}},
			"docs":   {"c.txt": {BytesDone: 3, BytesTotal: 3}},
		}),
		events.New(3, time.Now(), events.DeviceConnected{ID: "DEV1", Addr: "10.0.0.2:22000"}),
		events.New(4, time.Now(), events.DevicePaused{Device: "DEV1"}),
		events.New(5, time.Now(), events.FolderRejected{Device: "DEV2", Folder: "music"}),
		events.New(6, time.Now(), events.RemoteIndexUpdated{Device: "DEV1", Folder: "docs"}),
		events.New(7, time.Now(), events.StartupComplete{MyID: "ME"}),
	)

	w.Start()
	t.Cleanup(func() { _ = w.Close() })

	want := []string{
		"finished:docs/a.txt:permission denied",
		"progress:docs/c.txt:3/3",
		"progress:photos/a.jpg:1/2",
		"progress:photos/b.jpg:5/10",
		"connected:DEV1@10.0.0.2:22000",
		"rejected:DEV2:music",
		"startup:ME",
	}
	waitFor(t, "all notifications", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= len(want)
	})
	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(got, want) {
		t.Fatalf("notifications =\n%v\nwant\n%v", got, want)
	}
}

func TestWatcher_PanickingObserverIsIsolated(t *testing.T) {
	log := fake.NewEventLog()
	seed(log, 1)

	w := watcher.New(watcher.Static(log))
	w.OnSyncStateChanged(func(watcher.SyncStateChanged) { panic("observer bug") })
	j := observe(w)
	startAt(t, w, log, j)

	log.Append(stateChanged("next"))
	got := j.waitLen(t, 2)
	if got[1] != "state:next" {
		t.Fatalf("notifications = %v", got)
	}
}

func TestWatcher_StatusReportsCursor(t *testing.T) {
	log := fake.NewEventLog()
	seed(log, 9)

	w := watcher.New(watcher.Static(log))
	j := observe(w)
	startAt(t, w, log, j)

	st := w.Status()
	if !st.Running || st.Cursor != 9 || st.RunID == "" {
		t.Fatalf("Status() = %+v", st)
	}

	w.Stop()
	if w.Status().Running {
		t.Fatal("Status().Running after Stop")
	}
}

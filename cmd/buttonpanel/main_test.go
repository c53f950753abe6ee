package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sweeney/buttonpanel/internal/gpio"
	"github.com/sweeney/buttonpanel/internal/logic"
	"github.com/sweeney/buttonpanel/internal/mqtt"
	"github.com/sweeney/buttonpanel/internal/status"
	"github.com/sweeney/buttonpanel/internal/update"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func missingEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestReadNetworkInfoFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pi-helper.env")
	content := "NETWORK_TYPE=wifi\nNETWORK_IP=192.168.1.100\nNETWORK_STATUS=connected\n" +
		"NETWORK_GATEWAY=192.168.1.1\nNETWORK_WIFI_STATUS=connected\nNETWORK_WIFI_SSID=\"My Network\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	info := readNetworkInfo(path)
	require.NotNil(t, info)
	assert.Equal(t, &status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "My Network",
	}, info)
}

func TestReadNetworkInfoFileWinsOverEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pi-helper.env")
	require.NoError(t, os.WriteFile(path, []byte("NETWORK_STATUS=connected\nNETWORK_IP=10.0.0.5\n"), 0o644))
	t.Setenv(envNetworkIP, "192.168.9.9")
	t.Setenv(envNetworkType, "ethernet")

	info := readNetworkInfo(path)
	require.NotNil(t, info)
	assert.Equal(t, "10.0.0.5", info.IP)
	assert.Equal(t, "ethernet", info.Type, "keys missing from the file fall back to the environment")
}

func TestReadNetworkInfoEnvFallback(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo(missingEnvFile(t))
	require.NotNil(t, info)
	assert.Equal(t, "connected", info.Status)
	assert.Equal(t, "MyNetwork", info.SSID)
	assert.Empty(t, info.IP)
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	info := readNetworkInfo(missingEnvFile(t))
	if info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestSignalName(t *testing.T) {
	assert.Equal(t, "SIGINT", signalName(syscall.SIGINT))
	assert.Equal(t, "SIGTERM", signalName(syscall.SIGTERM))
	assert.Equal(t, "UNKNOWN", signalName(syscall.SIGHUP))
}

// --- runLoop tests ---

// scriptedClock returns times in order on successive calls, repeating the
// last one. The first value is consumed by runLoop as its start time.
// Only called from runLoop's goroutine.
func scriptedClock(times ...time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		t := times[n]
		if n < len(times)-1 {
			n++
		}
		return t
	}
}

// stepClock yields start, start+step, start+2*step, ...
func stepClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

func press(b int) []bool {
	p := make([]bool, 4)
	if b > 0 {
		p[b-1] = true
	}
	return p
}

var released = press(0)

// countingChannel is an update.Channel that counts polls.
type countingChannel struct {
	polls int
}

func (c *countingChannel) Poll() { c.polls++ }

// faultButtons wraps FakeButtons and fails a fixed range of Read calls.
type faultButtons struct {
	inner      *gpio.FakeButtons
	call       int
	faultStart int // first failing call (inclusive)
	faultEnd   int // last failing call (exclusive)
}

func (b *faultButtons) Read() ([]bool, error) {
	i := b.call
	b.call++
	if i >= b.faultStart && i < b.faultEnd {
		return nil, errors.New("gpio fault")
	}
	return b.inner.Read()
}

func (b *faultButtons) Close() error { return b.inner.Close() }

type harness struct {
	buttons   gpio.Buttons
	leds      *gpio.FakeLEDs
	transport *mqtt.FakeTransport
	upd       update.Channel
	machine   *logic.Machine
	tracker   *status.Tracker
	heartbeat time.Duration
	clock     func() time.Time
}

func newHarness(cfg logic.MachineConfig, samples ...[]bool) *harness {
	if cfg.Prefix == "" {
		cfg.Prefix = "buttons"
	}
	return &harness{
		buttons:   gpio.NewFakeButtons(samples...),
		leds:      gpio.NewFakeLEDs(),
		transport: mqtt.NewFakeTransport(),
		upd:       update.Nop{},
		machine:   logic.NewMachine(cfg),
		tracker:   status.NewTracker(t0, status.Config{Mode: cfg.Mode, Prefix: cfg.Prefix}),
		clock:     stepClock(t0, 100*time.Millisecond),
	}
}

// run drives runLoop for nTicks and then delivers signal.
func (h *harness) run(t *testing.T, nTicks int, signal os.Signal) {
	t.Helper()
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)
	h.runWith(t, nTicks, tick, sig, signal)
}

func (h *harness) runWith(t *testing.T, nTicks int, tick chan time.Time, sig chan os.Signal, signal os.Signal) {
	t.Helper()
	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(h.buttons, h.leds, h.transport, h.upd, h.machine, h.tracker, loopOptions{
			Heartbeat: h.heartbeat,
			Retry:     rate.NewLimiter(rate.Inf, 1),
		}, h.clock, tick, sig)
	}()

	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	if signal != nil {
		sig <- signal
	}

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("runLoop did not return")
	}
}

func TestRunLoopLocalPressAndLockout(t *testing.T) {
	h := newHarness(logic.MachineConfig{Mode: logic.ModeLocal}, press(2), press(3), press(2))
	h.clock = scriptedClock(t0, t0, t0.Add(5000*time.Millisecond), t0.Add(10001*time.Millisecond))

	h.run(t, 3, syscall.SIGTERM)

	assert.Equal(t, []logic.Message{
		{Topic: "buttons/b2", Payload: "1"},
		{Topic: "buttons/b2", Payload: "1"},
	}, h.transport.Messages)
	assert.Equal(t, [][]bool{
		{false, true, false, false},
		{false, true, false, false},
	}, h.leds.Writes)
	assert.Equal(t, []string{"SHUTDOWN"}, h.transport.SystemEventNames())
}

func TestRunLoopIdleAnimation(t *testing.T) {
	h := newHarness(logic.MachineConfig{Mode: logic.ModeLocal}, released)
	h.clock = stepClock(t0, time.Second)

	h.run(t, 5, syscall.SIGTERM)

	assert.Equal(t, [][]bool{
		{true, false, false, false},
		{false, true, false, false},
		{false, false, true, false},
		{false, false, false, true},
		{true, false, false, false},
	}, h.leds.Writes)
	assert.Empty(t, h.transport.Messages)
}

func TestRunLoopFollowerRemoteStatus(t *testing.T) {
	h := newHarness(logic.MachineConfig{Mode: logic.ModeFollower}, released)
	require.NoError(t, h.transport.Deliver(logic.TopicPlaylistStatus, "3"))

	h.run(t, 2, syscall.SIGTERM)

	assert.Equal(t, [][]bool{{false, false, true, false}}, h.leds.Writes)
	assert.Empty(t, h.transport.Messages, "remote state is never re-published")
	assert.Equal(t, logic.Button(3), h.tracker.Snapshot().Panel.Active)
}

func TestRunLoopFollowerUnknownPayload(t *testing.T) {
	h := newHarness(logic.MachineConfig{Mode: logic.ModeFollower}, released)
	require.NoError(t, h.transport.Deliver(logic.TopicPlaylistStatus, "2"))
	require.NoError(t, h.transport.Deliver(logic.TopicPlaylistStatus, "idle"))

	h.run(t, 1, syscall.SIGTERM)

	assert.Equal(t, [][]bool{{false, false, false, false}}, h.leds.Writes)
	snap := h.tracker.Snapshot()
	assert.Equal(t, 2, snap.Panel.RemoteMessages)
	assert.Equal(t, 1, snap.Panel.UnknownMessages)
}

func TestRunLoopFollowerUpperBoardPress(t *testing.T) {
	h := newHarness(logic.MachineConfig{Mode: logic.ModeFollower, Base: 4}, press(1), released)

	h.run(t, 2, syscall.SIGTERM)

	assert.Equal(t, []logic.Message{
		{Topic: "fpp/falcon/player/FPP/set/playlist/5/start", Payload: ""},
		{Topic: "fpp/falcon/player/FPP/set/playlist/5/repeat", Payload: "1"},
	}, h.transport.Messages)
	assert.Equal(t, [][]bool{{false, false, false, false}}, h.leds.Writes)
}

func TestRunLoopGPIOReadError(t *testing.T) {
	buttons := gpio.NewFakeButtons(press(1))
	buttons.ReadError = errors.New("gpio fault")
	h := newHarness(logic.MachineConfig{Mode: logic.ModeLocal})
	h.buttons = buttons

	h.run(t, 3, syscall.SIGTERM)

	assert.Empty(t, h.leds.Writes, "tick skipped: no animation")
	assert.Empty(t, h.transport.Messages)
	assert.Equal(t, logic.None, h.machine.Active())
	assert.Equal(t, []string{"SHUTDOWN"}, h.transport.SystemEventNames())
}

func TestRunLoopGPIOErrorRecovery(t *testing.T) {
	h := newHarness(logic.MachineConfig{Mode: logic.ModeLocal})
	h.buttons = &faultButtons{
		inner:      gpio.NewFakeButtons(press(4)),
		faultStart: 0, // calls 0,1,2 fail
		faultEnd:   3,
	}

	h.run(t, 4, syscall.SIGTERM)

	assert.Equal(t, []logic.Message{{Topic: "buttons/b4", Payload: "1"}}, h.transport.Messages)
}

func TestRunLoopPublishError(t *testing.T) {
	h := newHarness(logic.MachineConfig{Mode: logic.ModeLocal}, press(1))
	h.transport.PublishError = errors.New("broker gone")

	h.run(t, 2, syscall.SIGTERM)

	assert.Empty(t, h.transport.Messages)
	assert.Equal(t, []bool{true, false, false, false}, h.leds.Last(), "indicator still follows the press")
	assert.Equal(t, []string{"SHUTDOWN"}, h.transport.SystemEventNames())
}

func TestRunLoopReconnectPollsUpdateChannel(t *testing.T) {
	h := newHarness(logic.MachineConfig{Mode: logic.ModeLocal}, press(2))
	h.transport.Connected = false
	h.transport.ConnectResults = []error{errors.New("refused"), errors.New("refused")}
	upd := &countingChannel{}
	h.upd = upd

	h.run(t, 1, syscall.SIGTERM)

	assert.Equal(t, 3, h.transport.ConnectCalls)
	assert.GreaterOrEqual(t, upd.polls, 4, "polled on the tick and before every attempt")
	assert.Equal(t, []logic.Message{{Topic: "buttons/b2", Payload: "1"}}, h.transport.Messages,
		"the tick continues once connected")
	assert.True(t, h.tracker.Snapshot().MQTTConnected)
}

func TestRunLoopShutdownDuringReconnect(t *testing.T) {
	h := newHarness(logic.MachineConfig{Mode: logic.ModeLocal}, press(1))
	h.transport.Connected = false
	failures := make([]error, 50)
	for i := range failures {
		failures[i] = errors.New("refused")
	}
	h.transport.ConnectResults = failures

	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)
	h.transport.OnConnect = func() {
		if h.transport.ConnectCalls == 2 {
			sig <- syscall.SIGINT
		}
	}

	h.runWith(t, 1, tick, sig, nil)

	assert.Equal(t, 3, h.transport.ConnectCalls)
	assert.Empty(t, h.leds.Writes, "buttons and indicators are not serviced while reconnecting")
	assert.Empty(t, h.transport.Messages)
	require.Len(t, h.transport.SystemEvents, 1)
	assert.Equal(t, "SHUTDOWN", h.transport.SystemEvents[0].Event)
	assert.Equal(t, "SIGINT", h.transport.SystemEvents[0].Reason)
}

func TestRunLoopShutdownEvent(t *testing.T) {
	h := newHarness(logic.MachineConfig{Mode: logic.ModeLocal}, released)

	h.run(t, 1, syscall.SIGTERM)

	require.Len(t, h.transport.SystemEvents, 1)
	se := h.transport.SystemEvents[0]
	assert.Equal(t, "SHUTDOWN", se.Event)
	assert.Equal(t, "SIGTERM", se.Reason)
	assert.True(t, se.Retained)

	var payload status.StatusJSON
	require.NoError(t, json.Unmarshal(h.transport.SystemPayloads[0], &payload))
	assert.Equal(t, "SHUTDOWN", payload.Status.Event)
	assert.Equal(t, "SIGTERM", payload.Status.Reason)
	assert.Equal(t, 1, payload.Status.Active)
	assert.True(t, payload.Status.MQTT.Connected)
}

func TestRunLoopHeartbeat(t *testing.T) {
	old := piHelperEnv
	piHelperEnv = missingEnvFile(t)
	t.Cleanup(func() { piHelperEnv = old })
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkIP, "192.168.1.42")

	h := newHarness(logic.MachineConfig{Mode: logic.ModeLocal}, released)
	h.heartbeat = 15 * time.Minute
	// start t0; ticks at +5m, +10m, +15m, +20m, +25m, +30m
	h.clock = stepClock(t0, 5*time.Minute)

	h.run(t, 6, syscall.SIGTERM)

	assert.Equal(t, []string{"HEARTBEAT", "HEARTBEAT", "SHUTDOWN"}, h.transport.SystemEventNames())
	hb := h.transport.SystemEvents[0]
	assert.Equal(t, t0.Add(15*time.Minute), hb.Timestamp)
	assert.False(t, hb.Retained)

	var payload status.StatusJSON
	require.NoError(t, json.Unmarshal(h.transport.SystemPayloads[0], &payload))
	assert.Equal(t, "HEARTBEAT", payload.Status.Event)
	require.NotNil(t, payload.Status.Network)
	assert.Equal(t, "192.168.1.42", payload.Status.Network.IP)
}

func TestRunLoopHeartbeatDisabled(t *testing.T) {
	h := newHarness(logic.MachineConfig{Mode: logic.ModeLocal}, released)
	h.clock = stepClock(t0, time.Hour)

	h.run(t, 4, syscall.SIGTERM)

	assert.Equal(t, []string{"SHUTDOWN"}, h.transport.SystemEventNames())
}

func TestRunLoopReloadAppliesTimings(t *testing.T) {
	hup := make(chan os.Signal, 1)
	hup <- syscall.SIGHUP

	h := newHarness(logic.MachineConfig{Mode: logic.ModeLocal}, press(1), press(2))
	h.clock = scriptedClock(t0, t0, t0.Add(time.Second))
	w := update.NewWatcher(hup, func() (update.Timings, error) {
		return update.Timings{Lockout: time.Second}, nil
	}, func(tm update.Timings) {
		h.machine.SetTimings(tm.Lockout, tm.Idle)
		h.tracker.SetTimings(h.machine.Timings())
	})
	w.Report = h.tracker.SetReloads
	h.upd = w

	h.run(t, 2, syscall.SIGTERM)

	assert.Equal(t, []logic.Message{
		{Topic: "buttons/b1", Payload: "1"},
		{Topic: "buttons/b2", Payload: "1"},
	}, h.transport.Messages)
	snap := h.tracker.Snapshot()
	assert.Equal(t, int64(1000), snap.Config.LockoutMs)
	assert.Equal(t, 1, snap.Reloads)
	assert.Equal(t, 0, snap.ReloadFailures)
}

func TestRunLoopTracksPanelState(t *testing.T) {
	h := newHarness(logic.MachineConfig{Mode: logic.ModeLocal}, press(3))

	h.run(t, 1, syscall.SIGTERM)

	snap := h.tracker.Snapshot()
	assert.Equal(t, logic.Button(3), snap.Panel.Active)
	assert.Equal(t, []bool{false, false, true, false}, snap.Panel.LEDs)
	assert.Equal(t, 1, snap.Panel.Presses[3])
	assert.True(t, snap.MQTTConnected)
}

// --- reconnect and discover ---

// slowTransport takes delay to answer each Connect, recording when every
// attempt started and ended.
type slowTransport struct {
	*mqtt.FakeTransport
	delay  time.Duration
	starts []time.Time
	ends   []time.Time
}

func (s *slowTransport) Connect(ctx context.Context) error {
	s.starts = append(s.starts, time.Now())
	time.Sleep(s.delay)
	err := s.FakeTransport.Connect(ctx)
	s.ends = append(s.ends, time.Now())
	return err
}

// assertGaps checks no attempt began sooner than least after the previous one ended.
func assertGaps(t *testing.T, starts, ends []time.Time, least time.Duration) {
	t.Helper()
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(ends[i-1])
		assert.Truef(t, gap >= least, "attempt %d started %v after attempt %d failed", i+1, gap, i)
	}
}

func TestReconnectWaitsAfterSlowFailure(t *testing.T) {
	const interval = 50 * time.Millisecond
	tr := &slowTransport{FakeTransport: mqtt.NewFakeTransport(), delay: 2 * interval}
	tr.Connected = false
	tr.ConnectResults = []error{errors.New("timeout"), errors.New("timeout")}

	s := reconnect(tr, update.Nop{}, rate.NewLimiter(rate.Every(interval), 1), make(chan os.Signal))

	assert.Nil(t, s)
	assert.True(t, tr.Connected)
	require.Len(t, tr.starts, 3)
	assertGaps(t, tr.starts, tr.ends, interval-10*time.Millisecond)
}

func TestReconnectFirstAttemptImmediate(t *testing.T) {
	tr := mqtt.NewFakeTransport()
	tr.Connected = false

	start := time.Now()
	s := reconnect(tr, update.Nop{}, rate.NewLimiter(rate.Every(time.Hour), 1), make(chan os.Signal))

	assert.Nil(t, s)
	assert.Equal(t, 1, tr.ConnectCalls)
	assert.Less(t, int64(time.Since(start)), int64(time.Second))
}

func TestReconnectSignalDuringWait(t *testing.T) {
	tr := mqtt.NewFakeTransport()
	tr.Connected = false
	tr.ConnectResults = []error{errors.New("refused"), errors.New("refused")}
	sig := make(chan os.Signal)
	attempted := make(chan struct{})
	tr.OnConnect = func() {
		if tr.ConnectCalls == 0 {
			close(attempted)
		}
	}

	done := make(chan os.Signal, 1)
	go func() {
		done <- reconnect(tr, update.Nop{}, rate.NewLimiter(rate.Every(time.Hour), 1), sig)
	}()
	<-attempted
	sig <- syscall.SIGTERM

	select {
	case s := <-done:
		assert.Equal(t, syscall.SIGTERM, s)
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect did not return on signal")
	}
	assert.Equal(t, 1, tr.ConnectCalls, "the hour-long wait was cut short")
}

// scriptedDiscoverer fails with errs in order, then returns url.
type scriptedDiscoverer struct {
	errs  []error
	url   string
	delay time.Duration
	calls int

	starts []time.Time
	ends   []time.Time
}

func (d *scriptedDiscoverer) Discover(ctx context.Context) (string, error) {
	d.starts = append(d.starts, time.Now())
	defer func() { d.ends = append(d.ends, time.Now()) }()
	d.calls++
	time.Sleep(d.delay)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if d.calls <= len(d.errs) {
		return "", d.errs[d.calls-1]
	}
	return d.url, nil
}

func TestDiscoverRetriesUntilFound(t *testing.T) {
	d := &scriptedDiscoverer{
		errs: []error{errors.New("no service"), errors.New("no service"), errors.New("no service")},
		url:  "tcp://10.0.0.7:1883",
	}
	upd := &countingChannel{}

	url, err := discover(context.Background(), d, upd, rate.NewLimiter(rate.Inf, 1))

	require.NoError(t, err)
	assert.Equal(t, "tcp://10.0.0.7:1883", url)
	assert.Equal(t, 4, d.calls)
	assert.GreaterOrEqual(t, upd.polls, 4, "polled before every attempt")
}

func TestDiscoverWaitsAfterSlowFailure(t *testing.T) {
	const interval = 50 * time.Millisecond
	d := &scriptedDiscoverer{
		errs:  []error{errors.New("no service"), errors.New("no service")},
		url:   "tcp://10.0.0.7:1883",
		delay: 2 * interval,
	}

	url, err := discover(context.Background(), d, update.Nop{}, rate.NewLimiter(rate.Every(interval), 1))

	require.NoError(t, err)
	assert.Equal(t, "tcp://10.0.0.7:1883", url)
	require.Len(t, d.starts, 3)
	assertGaps(t, d.starts, d.ends, interval-10*time.Millisecond)
}

func TestDiscoverCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &scriptedDiscoverer{url: "tcp://10.0.0.7:1883"}

	url, err := discover(ctx, d, &countingChannel{}, rate.NewLimiter(rate.Inf, 1))

	assert.Empty(t, url)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ctx.Err(), err)
	assert.Equal(t, 0, d.calls)
}

func TestDiscoverCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d := &scriptedDiscoverer{errs: []error{errors.New("no service")}}

	type result struct {
		url string
		err error
	}
	done := make(chan result, 1)
	go func() {
		url, err := discover(ctx, d, update.Nop{}, rate.NewLimiter(rate.Every(time.Hour), 1))
		done <- result{url, err}
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case r := <-done:
		assert.Empty(t, r.url)
		assert.ErrorIs(t, r.err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("discover did not return after cancel")
	}
	assert.Equal(t, 1, d.calls)
}

// Command buttonpanel scans GPIO buttons, drives their indicator LEDs and
// publishes presses to MQTT. In follower mode it starts playlists on a
// remote player instead and lights whatever the player reports as running.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/sweeney/buttonpanel/internal/device"
	"github.com/sweeney/buttonpanel/internal/gpio"
	"github.com/sweeney/buttonpanel/internal/logging"
	"github.com/sweeney/buttonpanel/internal/logic"
	"github.com/sweeney/buttonpanel/internal/mqtt"
	"github.com/sweeney/buttonpanel/internal/status"
	"github.com/sweeney/buttonpanel/internal/update"
	"github.com/sweeney/buttonpanel/internal/web"
)

// reconnectDelay paces broker connection and discovery attempts.
const reconnectDelay = time.Second

var log = logging.For("main")

func main() {
	cfg, err := parseConfig(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.WithError(err).Fatal("bad configuration")
	}
	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		log.WithError(err).Warnf("could not parse log level %q, keeping %s", cfg.LogLevel, logging.Logger().GetLevel())
	}

	if err := run(cfg); err != nil {
		log.WithError(err).Fatal("fatal")
	}
}

func run(cfg Config) error {
	board, err := gpio.Open(cfg.Chip, cfg.ButtonPins, cfg.LEDPins)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer board.Close()

	if cfg.PrintState {
		pressed, err := board.Read()
		if err != nil {
			return fmt.Errorf("read gpio: %w", err)
		}
		for i, p := range pressed {
			fmt.Printf("b%d: %s\n", cfg.Base+i+1, pressString(p))
		}
		return nil
	}

	deviceID := device.ID(cfg.Name)
	prefix := cfg.prefix(deviceID)

	machine := logic.NewMachine(logic.MachineConfig{
		Mode:    cfg.Mode,
		Lines:   len(cfg.ButtonPins),
		Base:    cfg.Base,
		Prefix:  prefix,
		Lockout: cfg.Lockout,
		Idle:    cfg.Idle,
	})
	if err := board.Write(machine.LEDs()); err != nil {
		log.WithError(err).Warn("initial led write failed")
	}

	// Reloads requested while the broker is still being found are picked up
	// between discovery attempts.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	tracker := status.NewTracker(time.Now(), status.Config{
		Mode:        cfg.Mode,
		DeviceID:    deviceID,
		Prefix:      prefix,
		Base:        cfg.Base,
		PollMs:      cfg.Poll.Milliseconds(),
		LockoutMs:   cfg.Lockout.Milliseconds(),
		IdleMs:      cfg.Idle.Milliseconds(),
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.Broker,
		HTTPAddr:    cfg.HTTPAddr,
	})
	tracker.Update(machine.Snapshot(time.Now()))
	if net := readNetworkInfo(piHelperEnv); net != nil {
		tracker.SetNetwork(net)
	}

	watcher := update.NewWatcher(hup, reloadTimings(cfg.File), func(t update.Timings) {
		machine.SetTimings(t.Lockout, t.Idle)
		tracker.SetTimings(machine.Timings())
	})
	watcher.Report = tracker.SetReloads

	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.WithField("addr", cfg.HTTPAddr).Info("http status server listening")
	}

	broker := cfg.Broker
	if broker == mqtt.BrokerDiscover {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		broker, err = discover(ctx, mqtt.MDNSDiscoverer{}, watcher, rate.NewLimiter(rate.Every(reconnectDelay), 1))
		stop()
		if err != nil {
			return fmt.Errorf("discover broker: %w", err)
		}
	}

	transport := mqtt.NewRealTransport(mqtt.Options{
		Broker:   broker,
		ClientID: deviceID,
		Username: cfg.Username,
		Password: cfg.Password,
		Prefix:   prefix,
	})
	defer transport.Close()

	if cfg.Mode == logic.ModeFollower {
		if err := transport.Subscribe(logic.FollowerSubscriptions...); err != nil {
			log.WithError(err).Warn("subscribe failed")
		}
	}

	// STARTUP is buffered by the transport until the first connect.
	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := transport.PublishSystem(startup); err != nil {
		log.WithError(err).Warn("failed to publish startup event")
	}

	log.WithFields(logrus.Fields{
		"device":    deviceID,
		"mode":      cfg.Mode,
		"prefix":    prefix,
		"base":      cfg.Base,
		"broker":    broker,
		"poll":      cfg.Poll,
		"lockout":   cfg.Lockout,
		"idle":      cfg.Idle,
		"heartbeat": cfg.Heartbeat,
	}).Info("started")

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(board, board, transport, watcher, machine, tracker, loopOptions{
		Heartbeat: cfg.Heartbeat,
		Retry:     rate.NewLimiter(rate.Every(reconnectDelay), 1),
	}, time.Now, ticker.C, sigCh)
}

// loopOptions carries the run loop's tunables.
type loopOptions struct {
	// Heartbeat is the HEARTBEAT interval; zero disables it.
	Heartbeat time.Duration
	// Retry paces reconnect attempts.
	Retry *rate.Limiter
}

func runLoop(buttons gpio.Buttons, leds gpio.LEDs, transport mqtt.Transport, upd update.Channel, machine *logic.Machine, tracker *status.Tracker, opts loopOptions, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	if opts.Retry == nil {
		opts.Retry = rate.NewLimiter(rate.Every(reconnectDelay), 1)
	}
	nextHeartbeat := now().Add(opts.Heartbeat)

	for {
		select {
		case s := <-sig:
			shutdown(transport, tracker, s)
			return nil

		case <-tick:
			drainInbox(transport, machine)
			upd.Poll()

			if !transport.IsConnected() {
				tracker.SetMQTTConnected(false)
				if s := reconnect(transport, upd, opts.Retry, sig); s != nil {
					shutdown(transport, tracker, s)
					return nil
				}
			}

			t := now()
			pressed, err := buttons.Read()
			if err != nil {
				log.WithError(err).Warn("gpio read error")
				continue
			}

			step := machine.Tick(t, pressed)
			if step.LEDs != nil {
				if err := leds.Write(step.LEDs); err != nil {
					log.WithError(err).Warn("led write error")
				}
			}
			if step.Pressed != logic.None {
				log.WithFields(logrus.Fields{
					"button": int(step.Pressed),
					"mode":   machine.Mode(),
				}).Info("press")
			}
			for _, m := range step.Publish {
				if err := transport.Publish(m); err != nil {
					log.WithError(err).WithField("topic", m.Topic).Warn("publish error")
				}
			}

			tracker.Update(machine.Snapshot(t))
			tracker.SetMQTTConnected(transport.IsConnected())

			if opts.Heartbeat > 0 && !t.Before(nextHeartbeat) {
				nextHeartbeat = t.Add(opts.Heartbeat)
				heartbeat(transport, tracker, t)
			}
		}
	}
}

// drainInbox hands every queued inbound message to the machine.
func drainInbox(transport mqtt.Transport, machine *logic.Machine) {
	for {
		select {
		case m := <-transport.Inbox():
			log.WithFields(logrus.Fields{"topic": m.Topic, "payload": m.Payload}).Debug("received")
			machine.Receive(m)
		default:
			return
		}
	}
}

// reconnect blocks until the transport connects or a shutdown signal
// arrives, which it returns. The update channel is polled between attempts;
// buttons and indicators are not serviced.
func reconnect(transport mqtt.Transport, upd update.Channel, retry *rate.Limiter, sig <-chan os.Signal) os.Signal {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := 0
	for {
		upd.Poll()
		select {
		case s := <-sig:
			return s
		default:
		}

		// The first attempt is paced from the previous reconnect's start,
		// later ones from the end of the failed attempt.
		var r *rate.Reservation
		if attempts == 0 {
			r = retry.Reserve()
		} else {
			r = pause(retry)
		}
		wait := time.NewTimer(r.Delay())
		select {
		case s := <-sig:
			wait.Stop()
			r.Cancel()
			return s
		case <-wait.C:
		}

		attempts++
		err := transport.Connect(ctx)
		if err == nil {
			log.WithField("attempts", attempts).Info("mqtt connected")
			return nil
		}
		if attempts == 1 || attempts%30 == 0 {
			log.WithError(err).WithField("attempts", attempts).Warn("mqtt connect failed, retrying")
		}
	}
}

// pause reserves the next retry slot counted from now. A failed attempt is
// followed by a full interval however long it took.
func pause(retry *rate.Limiter) *rate.Reservation {
	retry.Allow()
	return retry.Reserve()
}

// discover looks up the broker with d, retrying until one is found or ctx
// is done. The update channel is polled between attempts.
func discover(ctx context.Context, d mqtt.Discoverer, upd update.Channel, retry *rate.Limiter) (string, error) {
	for attempts := 0; ; attempts++ {
		upd.Poll()
		if err := ctx.Err(); err != nil {
			return "", err
		}

		if attempts > 0 {
			r := pause(retry)
			wait := time.NewTimer(r.Delay())
			select {
			case <-ctx.Done():
				wait.Stop()
				r.Cancel()
				return "", ctx.Err()
			case <-wait.C:
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		url, err := d.Discover(attemptCtx)
		cancel()
		if err == nil {
			log.WithFields(logrus.Fields{"broker": url, "attempts": attempts + 1}).Info("discovered broker")
			return url, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.WithError(err).Debug("no broker found yet")
	}
}

func shutdown(transport mqtt.Transport, tracker *status.Tracker, s os.Signal) {
	reason := signalName(s)
	log.WithField("signal", reason).Info("shutting down")

	tracker.SetMQTTConnected(transport.IsConnected())
	snap := tracker.Snapshot()
	event := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "SHUTDOWN",
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "SHUTDOWN", reason),
	}
	if err := transport.PublishSystem(event); err != nil {
		log.WithError(err).Warn("failed to publish shutdown event")
	} else {
		log.Info("published shutdown event")
	}
}

func heartbeat(transport mqtt.Transport, tracker *status.Tracker, t time.Time) {
	if net := readNetworkInfo(piHelperEnv); net != nil {
		tracker.SetNetwork(net)
	}
	snap := tracker.Snapshot()
	log.WithFields(logrus.Fields{
		"uptime":  snap.Uptime().Truncate(time.Second),
		"presses": snap.Panel.Presses.Total(),
	}).Info("heartbeat")

	event := mqtt.SystemEvent{
		Timestamp:  t,
		Event:      "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
	}
	if err := transport.PublishSystem(event); err != nil {
		log.WithError(err).Warn("heartbeat publish error")
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// piHelperEnv is written by pi-helper with the current network state.
var piHelperEnv = "/run/pi-helper.env"

// pi-helper env var names.
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

// readNetworkInfo reads network state from the pi-helper env file, falling
// back to the process environment for keys the file lacks.
func readNetworkInfo(path string) *status.NetworkInfo {
	vals, err := godotenv.Read(path)
	if err != nil {
		vals = map[string]string{}
	}
	get := func(key string) string {
		if v, ok := vals[key]; ok {
			return v
		}
		return os.Getenv(key)
	}

	s := get(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       get(envNetworkType),
		IP:         get(envNetworkIP),
		Status:     s,
		Gateway:    get(envNetworkGateway),
		WifiStatus: get(envNetworkWifiStatus),
		SSID:       get(envNetworkWifiSSID),
	}
}

func pressString(pressed bool) string {
	if pressed {
		return "PRESSED"
	}
	return "released"
}

package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml"

	"github.com/sweeney/buttonpanel/internal/gpio"
	"github.com/sweeney/buttonpanel/internal/logic"
	"github.com/sweeney/buttonpanel/internal/update"
)

// prefixDevice as topic_prefix selects the device ID as the topic prefix.
const prefixDevice = "=device"

// Config is the effective daemon configuration.
type Config struct {
	Name        string
	Mode        logic.Mode
	Base        int
	TopicPrefix string

	Broker   string
	Username string
	Password string

	Chip       string
	ButtonPins []int
	LEDPins    []int

	Poll      time.Duration
	Lockout   time.Duration
	Idle      time.Duration
	Heartbeat time.Duration

	HTTPAddr   string
	LogLevel   string
	File       string
	PrintState bool
}

func defaultConfig() Config {
	return Config{
		Name:       "buttons",
		Mode:       logic.ModeLocal,
		Broker:     "tcp://10.81.95.165:1883",
		Chip:       gpio.DefaultChip,
		ButtonPins: append([]int(nil), gpio.DefaultButtonPins...),
		LEDPins:    append([]int(nil), gpio.DefaultLEDPins...),
		Poll:       10 * time.Millisecond,
		Lockout:    logic.DefaultLockout,
		Idle:       logic.DefaultIdle,
		Heartbeat:  15 * time.Minute,
		HTTPAddr:   ":80",
		LogLevel:   "info",
	}
}

// fileConfig mirrors the TOML layout. Absent keys leave the defaults alone.
type fileConfig struct {
	Name        string `toml:"name"`
	Mode        string `toml:"mode"`
	Base        *int   `toml:"base"`
	TopicPrefix string `toml:"topic_prefix"`
	HTTP        string `toml:"http"`
	LogLevel    string `toml:"log_level"`

	MQTT struct {
		Broker   string `toml:"broker"`
		Username string `toml:"username"`
		Password string `toml:"password"`
	} `toml:"mqtt"`

	GPIO struct {
		Chip    string `toml:"chip"`
		Buttons []int  `toml:"buttons"`
		LEDs    []int  `toml:"leds"`
	} `toml:"gpio"`

	Timing struct {
		Poll      string `toml:"poll"`
		Lockout   string `toml:"lockout"`
		Idle      string `toml:"idle"`
		Heartbeat string `toml:"heartbeat"`
	} `toml:"timing"`
}

func loadFile(path string) (*fileConfig, error) {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	var fc fileConfig
	if err := tree.Unmarshal(&fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &fc, nil
}

func parseDuration(key, s string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

// apply overlays the keys present in the file onto cfg.
func (fc *fileConfig) apply(cfg *Config) error {
	if fc.Name != "" {
		cfg.Name = fc.Name
	}
	if fc.Mode != "" {
		cfg.Mode = logic.Mode(fc.Mode)
	}
	if fc.Base != nil {
		cfg.Base = *fc.Base
	}
	if fc.TopicPrefix != "" {
		cfg.TopicPrefix = fc.TopicPrefix
	}
	if fc.HTTP != "" {
		cfg.HTTPAddr = fc.HTTP
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.MQTT.Broker != "" {
		cfg.Broker = fc.MQTT.Broker
	}
	if fc.MQTT.Username != "" {
		cfg.Username = fc.MQTT.Username
		cfg.Password = fc.MQTT.Password
	}
	if fc.GPIO.Chip != "" {
		cfg.Chip = fc.GPIO.Chip
	}
	if len(fc.GPIO.Buttons) > 0 {
		cfg.ButtonPins = fc.GPIO.Buttons
	}
	if len(fc.GPIO.LEDs) > 0 {
		cfg.LEDPins = fc.GPIO.LEDs
	}

	for _, d := range []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"timing.poll", fc.Timing.Poll, &cfg.Poll},
		{"timing.lockout", fc.Timing.Lockout, &cfg.Lockout},
		{"timing.idle", fc.Timing.Idle, &cfg.Idle},
		{"timing.heartbeat", fc.Timing.Heartbeat, &cfg.Heartbeat},
	} {
		if err := parseDuration(d.key, d.val, d.dst); err != nil {
			return err
		}
	}
	return nil
}

// parseConfig builds the effective config: defaults, then the file named by
// --config, then any flags given explicitly on the command line.
func parseConfig(args []string) (Config, error) {
	cfg := defaultConfig()
	fl := defaultConfig()

	fs := flag.NewFlagSet("buttonpanel", flag.ContinueOnError)
	file := fs.String("config", "", "TOML config file (reloaded on SIGHUP)")
	mode := fs.String("mode", string(fl.Mode), `Panel mode: "local" or "follower"`)
	fs.StringVar(&fl.Name, "name", fl.Name, "Device name; also the default topic prefix")
	fs.IntVar(&fl.Base, "base", fl.Base, "Logical button offset (0 for buttons 1-4, 4 for 5-8)")
	fs.StringVar(&fl.TopicPrefix, "prefix", fl.TopicPrefix, `Topic prefix for presses (empty uses --name, "=device" uses the device ID)`)
	fs.StringVar(&fl.Broker, "broker", fl.Broker, `MQTT broker address ("mdns" to discover)`)
	fs.StringVar(&fl.Username, "username", fl.Username, "MQTT username")
	fs.StringVar(&fl.Password, "password", fl.Password, "MQTT password")
	fs.StringVar(&fl.Chip, "chip", fl.Chip, "GPIO chip name")
	buttons := fs.String("buttons", joinPins(fl.ButtonPins), "Comma-separated BCM pins for buttons, highest priority first")
	leds := fs.String("leds", joinPins(fl.LEDPins), "Comma-separated BCM pins for indicators, paired with --buttons")
	fs.DurationVar(&fl.Poll, "poll", fl.Poll, "GPIO polling interval")
	fs.DurationVar(&fl.Lockout, "lockout", fl.Lockout, "Press lockout after an accepted press")
	fs.DurationVar(&fl.Idle, "idle", fl.Idle, "Idle animation step interval")
	fs.DurationVar(&fl.Heartbeat, "heartbeat", fl.Heartbeat, "Heartbeat interval (0 to disable)")
	fs.StringVar(&fl.HTTPAddr, "http", fl.HTTPAddr, "HTTP status address (empty to disable)")
	fs.StringVar(&fl.LogLevel, "log", fl.LogLevel, "Log level")
	fs.BoolVar(&fl.PrintState, "print-state", false, "Print current button state and exit")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	if *file != "" {
		fc, err := loadFile(*file)
		if err != nil {
			return cfg, err
		}
		if err := fc.apply(&cfg); err != nil {
			return cfg, fmt.Errorf("config %s: %w", *file, err)
		}
		cfg.File = *file
	}

	var flagErr error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = logic.Mode(*mode)
		case "name":
			cfg.Name = fl.Name
		case "base":
			cfg.Base = fl.Base
		case "prefix":
			cfg.TopicPrefix = fl.TopicPrefix
		case "broker":
			cfg.Broker = fl.Broker
		case "username":
			cfg.Username = fl.Username
		case "password":
			cfg.Password = fl.Password
		case "chip":
			cfg.Chip = fl.Chip
		case "buttons":
			pins, err := parsePins(*buttons)
			if err != nil && flagErr == nil {
				flagErr = fmt.Errorf("--buttons: %w", err)
			}
			cfg.ButtonPins = pins
		case "leds":
			pins, err := parsePins(*leds)
			if err != nil && flagErr == nil {
				flagErr = fmt.Errorf("--leds: %w", err)
			}
			cfg.LEDPins = pins
		case "poll":
			cfg.Poll = fl.Poll
		case "lockout":
			cfg.Lockout = fl.Lockout
		case "idle":
			cfg.Idle = fl.Idle
		case "heartbeat":
			cfg.Heartbeat = fl.Heartbeat
		case "http":
			cfg.HTTPAddr = fl.HTTPAddr
		case "log":
			cfg.LogLevel = fl.LogLevel
		case "print-state":
			cfg.PrintState = fl.PrintState
		}
	})
	if flagErr != nil {
		return cfg, flagErr
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if _, err := logic.ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if len(c.ButtonPins) == 0 {
		return fmt.Errorf("no button pins configured")
	}
	if len(c.ButtonPins) != len(c.LEDPins) {
		return fmt.Errorf("%d button pins but %d led pins", len(c.ButtonPins), len(c.LEDPins))
	}
	if c.Base < 0 || c.Base+len(c.ButtonPins) > int(logic.MaxButton) {
		return fmt.Errorf("base %d with %d buttons exceeds b%d", c.Base, len(c.ButtonPins), logic.MaxButton)
	}
	if c.Poll <= 0 || c.Lockout <= 0 || c.Idle <= 0 {
		return fmt.Errorf("poll, lockout and idle must be positive")
	}
	if c.Heartbeat < 0 {
		return fmt.Errorf("heartbeat must not be negative")
	}
	return nil
}

// prefix resolves the topic prefix for press messages.
func (c Config) prefix(deviceID string) string {
	switch c.TopicPrefix {
	case "":
		return c.Name
	case prefixDevice:
		return deviceID
	}
	return c.TopicPrefix
}

// reloadTimings re-reads the config file for the SIGHUP update channel.
// Only the lockout and idle intervals are applied at runtime.
func reloadTimings(path string) update.Loader {
	return func() (update.Timings, error) {
		if path == "" {
			return update.Timings{}, fmt.Errorf("no config file to reload")
		}
		fc, err := loadFile(path)
		if err != nil {
			return update.Timings{}, err
		}
		var t update.Timings
		if err := parseDuration("timing.lockout", fc.Timing.Lockout, &t.Lockout); err != nil {
			return update.Timings{}, err
		}
		if err := parseDuration("timing.idle", fc.Timing.Idle, &t.Idle); err != nil {
			return update.Timings{}, err
		}
		if t.Lockout < 0 || t.Idle < 0 {
			return update.Timings{}, fmt.Errorf("timings must not be negative")
		}
		return t, nil
	}
}

func parsePins(s string) ([]int, error) {
	var pins []int
	for _, f := range strings.Split(s, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("bad pin %q", f)
		}
		pins = append(pins, n)
	}
	return pins, nil
}

func joinPins(pins []int) string {
	s := make([]string, len(pins))
	for i, p := range pins {
		s[i] = strconv.Itoa(p)
	}
	return strings.Join(s, ",")
}

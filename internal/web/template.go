package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/buttonpanel/internal/logic"
	"github.com/sweeney/buttonpanel/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"button": func(b logic.Button) string {
		if b <= logic.None {
			return "none"
		}
		return fmt.Sprintf("b%d", b)
	},
	// line maps an indicator index to its logical button number.
	"line": func(base, i int) int {
		return base + i + 1
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Button Panel</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.led { display: inline-block; width: 14px; height: 14px; border-radius: 50%; margin-right: 8px; border: 1px solid #666; }
.led.lit { background: limegreen; }
.led.dark { background: #333; }
.locked { color: orange; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
</style>
</head>
<body>
<h1>Button Panel <small>{{.Config.DeviceID}}</small></h1>

<h2>Panel</h2>
<table>
<tr><th>Mode</th><td>{{.Config.Mode}}</td></tr>
<tr><th>Active</th><td id="active">{{button .Panel.Active}}</td></tr>
<tr><th>Indicators</th><td id="leds">{{range $i, $on := .Panel.LEDs}}<span class="led {{if $on}}lit{{else}}dark{{end}}" title="b{{line $.Config.Base $i}}"></span>{{end}}</td></tr>
<tr><th>Lockout</th><td>{{if .Panel.LockedOut}}<span class="locked">{{.LockoutRemaining.Milliseconds}}ms</span>{{else}}ready{{end}}</td></tr>
{{if not .Panel.LastPress.IsZero}}<tr><th>Last press</th><td>{{.Panel.LastPress.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>{{end}}
</table>

<h2>Presses</h2>
<table>
{{range $b, $n := .Panel.Presses}}{{if gt $n 0}}<tr><th>b{{$b}}</th><td>{{$n}}</td></tr>
{{end}}{{end}}<tr><th>Total</th><td>{{.Panel.Presses.Total}}</td></tr>
</table>
{{if eq (printf "%s" .Config.Mode) "follower"}}
<h2>Player</h2>
<table>
<tr><th>Messages</th><td>{{.Panel.RemoteMessages}}</td></tr>
<tr><th>Unrecognised</th><td>{{.Panel.UnknownMessages}}</td></tr>
</table>
{{end}}
<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Topic prefix</th><td>{{.Config.Prefix}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Lockout</th><td>{{.Config.LockoutMs}}ms</td></tr>
<tr><th>Idle step</th><td>{{.Config.IdleMs}}ms</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has an Uptime() method but the template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	return indexTmpl.Execute(w, data)
}

// Command trackwatch follows a trackerd broadcast and runs its own geofence
// alarm against the received positions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"geofence-tracker-backend/config"
	"geofence-tracker-backend/internal/alarm"
	"geofence-tracker-backend/internal/broadcast"
	"geofence-tracker-backend/internal/logging"
	"geofence-tracker-backend/internal/monitor"
	"geofence-tracker-backend/internal/mqtt"
	"geofence-tracker-backend/internal/notification"
)

type options struct {
	url         string
	lat, lng    float64
	homeSet     bool
	radius      float64
	start, end  string
	tick        time.Duration
	broker      string
	alertTopic  string
	logLevel    string
	pretty      bool
	reconnectIn time.Duration
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("trackwatch", flag.ContinueOnError)
	fs.StringVar(&o.url, "url", "ws://localhost:3000/ws", "broadcast websocket URL")
	fs.Float64Var(&o.lat, "home-lat", 0, "home latitude")
	fs.Float64Var(&o.lng, "home-lng", 0, "home longitude")
	fs.Float64Var(&o.radius, "radius", 0, "maximum distance from home in meters")
	fs.StringVar(&o.start, "start", "", "downtime window start (HH:MM)")
	fs.StringVar(&o.end, "end", "", "downtime window end (HH:MM)")
	fs.DurationVar(&o.tick, "tick", time.Minute, "re-evaluation interval")
	fs.StringVar(&o.broker, "mqtt-broker", "", "publish alerts to this MQTT broker")
	fs.StringVar(&o.alertTopic, "mqtt-topic", "tracker/alerts", "MQTT alert topic")
	fs.StringVar(&o.logLevel, "log-level", "info", "log level")
	fs.BoolVar(&o.pretty, "pretty", true, "human-readable log output")
	fs.DurationVar(&o.reconnectIn, "reconnect", 5*time.Second, "delay before redialing a dropped stream")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["home-lat"] != set["home-lng"] {
		return o, fmt.Errorf("home-lat and home-lng must be given together")
	}
	o.homeSet = set["home-lat"]
	if o.radius < 0 {
		return o, fmt.Errorf("radius must not be negative")
	}
	return o, nil
}

// alarmConfig builds the local alarm configuration. Unset flags leave the
// matching constraint unset; without a home the alarm never evaluates.
func (o options) alarmConfig() (alarm.Config, error) {
	var cfg alarm.Config
	if o.homeSet {
		cfg.Home = &alarm.Coordinate{Latitude: o.lat, Longitude: o.lng}
	}
	if o.radius > 0 {
		r := o.radius
		cfg.MaxRadius = &r
	}
	if o.start != "" || o.end != "" {
		w, err := alarm.ParseWindow(o.start, o.end)
		if err != nil {
			return cfg, err
		}
		cfg.Window = &w
	}
	return cfg, nil
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := logging.New(config.LogConfig{Level: o.logLevel, Pretty: o.pretty}).With().Str("service", "trackwatch").Logger()

	cfg, err := o.alarmConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid alarm flags")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	alerters := notification.Multi{notification.LogAlerter{Log: logger}}
	if o.broker != "" {
		client, err := mqtt.Connect(config.MQTTConfig{Enabled: true, Broker: o.broker, ClientID: "trackwatch"}, logger)
		if err != nil {
			logger.Fatal().Err(err).Str("broker", o.broker).Msg("failed to connect to MQTT broker")
		}
		defer client.Close()
		alerters = append(alerters, mqtt.NewAlertPublisher(client, o.alertTopic, 1))
	}

	mon := monitor.New(cfg, alerters, monitor.Options{TickInterval: o.tick}, logger)
	go mon.Run(ctx)

	logger.Info().Str("url", o.url).Str("window", describe(cfg.Window)).Msg("watching")
	for {
		err := broadcast.Stream(ctx, o.url, func(m broadcast.Message) {
			logger.Debug().Float64("lat", m.Latitude).Float64("lng", m.Longitude).Str("time", m.Time).Msg("position")
			mon.Push(m)
		})
		if ctx.Err() != nil {
			break
		}
		logger.Warn().Err(err).Dur("retry_in", o.reconnectIn).Msg("stream ended")
		select {
		case <-ctx.Done():
		case <-time.After(o.reconnectIn):
		}
		if ctx.Err() != nil {
			break
		}
	}

	st := mon.Status()
	logger.Info().Bool("triggered", st.Triggered).Str("alarm", st.Alarm).Msg("stopped")
}

func describe(w *alarm.Window) string {
	if w == nil {
		return "Not Set"
	}
	return w.Describe()
}

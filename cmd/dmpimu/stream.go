package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"

	"dmpimu/internal/ahrs"
	"dmpimu/internal/config"
	"dmpimu/internal/metrics"
	"dmpimu/internal/mqttpub"
	"dmpimu/internal/sensors/mpu9250"
	"dmpimu/internal/udp"
	"dmpimu/internal/web"
)

const statsInterval = time.Minute

type source interface {
	Snapshot() ahrs.Snapshot
	Stats() mpu9250.Stats
}

// sink receives every valid snapshot on the publish tick.
type sink struct {
	name string
	send func(ahrs.Snapshot) error
}

func stream(ctx context.Context, cfg config.Config, svcCfg ahrs.Config) (err error) {
	var logs *web.LogBuffer
	if cfg.HTTP.Enable {
		logs = web.NewLogBuffer(cfg.HTTP.LogLines)
		log.SetOutput(io.MultiWriter(os.Stderr, logs))
	}

	svc := ahrs.New(svcCfg)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, svc.Close()) }()

	var sinks []sink
	if cfg.Output.UDP.Enable {
		b, err := udp.NewBroadcaster(cfg.Output.UDP.Dest)
		if err != nil {
			return err
		}
		defer b.Close()
		sinks = append(sinks, sink{
			name: "udp " + b.Dest(),
			send: func(snap ahrs.Snapshot) error { return b.SendJSON(snap) },
		})
		log.Printf("udp dest=%s interval=%s", b.Dest(), cfg.Output.Interval)
	}
	if cfg.Output.MQTT.Enable {
		p, err := mqttpub.Connect(cfg.Output.MQTT.Broker, cfg.Output.MQTT.ClientID, cfg.Output.MQTT.Topic)
		if err != nil {
			return err
		}
		defer p.Close()
		sinks = append(sinks, sink{
			name: "mqtt " + p.Topic(),
			send: func(snap ahrs.Snapshot) error { return p.PublishJSON(snap) },
		})
		log.Printf("mqtt broker=%s topic=%s", cfg.Output.MQTT.Broker, p.Topic())
	}
	if cfg.HTTP.Enable {
		reg, err := metrics.NewRegistry(svc)
		if err != nil {
			return fmt.Errorf("metrics registry: %w", err)
		}
		att := web.NewAttitudeBroadcaster()
		h := web.Handler(svc, att, logs, metrics.Handler(reg))
		go func() {
			if err := web.Serve(ctx, cfg.HTTP.Listen, h); err != nil && ctx.Err() == nil {
				log.Printf("http server stopped: %v", err)
			}
		}()
		sinks = append(sinks, sink{
			name: "websocket",
			send: func(snap ahrs.Snapshot) error {
				att.Publish(snap)
				return nil
			},
		})
		log.Printf("http listening on %s", cfg.HTTP.Listen)
	}

	publishLoop(ctx, svc, cfg.Output.Interval, statsInterval, sinks)
	log.Printf("stats: %s", statsLine(svc.Stats()))
	return nil
}

// publishLoop fans the latest snapshot out to sinks until ctx is done.
// Sink errors are logged when a sink starts failing and when it recovers.
func publishLoop(ctx context.Context, src source, interval, statsEvery time.Duration, sinks []sink) {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	statsTick := time.NewTicker(statsEvery)
	defer statsTick.Stop()

	failing := make(map[string]bool, len(sinks))
	for {
		select {
		case <-ctx.Done():
			return
		case <-statsTick.C:
			log.Printf("stats: %s", statsLine(src.Stats()))
		case <-tick.C:
			snap := src.Snapshot()
			if !snap.Valid {
				continue
			}
			for _, s := range sinks {
				err := s.send(snap)
				switch {
				case err != nil && !failing[s.name]:
					log.Printf("%s: %v", s.name, err)
				case err == nil && failing[s.name]:
					log.Printf("%s: recovered", s.name)
				}
				failing[s.name] = err != nil
			}
		}
	}
}

func statsLine(st mpu9250.Stats) string {
	return fmt.Sprintf("cycles=%s failures=%s fifo_resets=%s bad_quaternions=%s mag_saturated=%s fusion_updates=%s",
		humanize.Comma(int64(st.Cycles)),
		humanize.Comma(int64(st.Failures)),
		humanize.Comma(int64(st.FIFOResets)),
		humanize.Comma(int64(st.BadQuaternions)),
		humanize.Comma(int64(st.MagSaturated)),
		humanize.Comma(int64(st.FusionUpdates)),
	)
}

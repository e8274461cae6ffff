// Command sensord runs the sensor control plane: the in-process bus, the cam
// service driving the AR0234, the heartbeat, and (when configured) the MQTT
// uplink bridge. The deployment profile picks the embedded configuration and
// decides whether the sensor sits behind a serial I2C adapter or a simulator.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"
	"tinygo.org/x/drivers"

	"sensorcode-go/bus"
	"sensorcode-go/drivers/ar0234"
	"sensorcode-go/drivers/i2cbridge"
	"sensorcode-go/services/bridge"
	"sensorcode-go/services/cam"
	"sensorcode-go/services/config"
	"sensorcode-go/services/heartbeat"
	"sensorcode-go/types"
)

var (
	profile = flag.String("profile", "sim", "deployment profile (sim, bench)")
	qlen    = flag.Int("queue", 32, "bus subscription queue length")
)

func main() {
	flag.Parse()

	log.SetPrefix("sensord: ")
	log.SetFlags(0)

	if err := run(*profile, *qlen); err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(profile string, qlen int) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := bus.NewBus(qlen)

	log.Printf("starting services (profile %q)", profile)

	grp, ctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		cam.Run(ctx, b.NewConnection("cam"), openI2C)
		return nil
	})
	grp.Go(func() error {
		bridge.Start(ctx, b.NewConnection("bridge"))
		return nil
	})
	if err := (&heartbeat.Service{}).Start(ctx, b.NewConnection("heartbeat")); err != nil {
		return err
	}

	// Diagnostics: echo service state transitions to the log.
	mon := b.NewConnection("mon")
	for _, topic := range []bus.Topic{
		bus.T("cam", "service"),
		bus.T("bridge", "state"),
	} {
		sub := mon.Subscribe(topic)
		go func(sub *bus.Subscription) {
			for m := range sub.Channel() {
				log.Printf("%s: %v", m.Topic, m.Payload)
			}
		}(sub)
	}

	// Config last, so every service already holds its subscription; the
	// retained delivery makes the order a nicety rather than a need.
	cfgCtx := context.WithValue(ctx, config.CtxProfileKey, profile)
	config.NewConfigService().Start(cfgCtx, b.NewConnection("config"))

	<-ctx.Done()
	log.Printf("shutting down")
	return grp.Wait()
}

// openI2C resolves a bus reference from the cam configuration to a concrete
// transaction interface.
func openI2C(ref types.BusRef) (drivers.I2C, error) {
	switch ref.Type {
	case "sim", "":
		return ar0234.NewSim(), nil
	case "serial":
		return i2cbridge.Open(ref.ID)
	case "serial-detect":
		// ref.ID is "VID:PID[,PID...]".
		vid, pids, ok := strings.Cut(ref.ID, ":")
		if !ok {
			return nil, fmt.Errorf("bad serial-detect ref %q", ref.ID)
		}
		return i2cbridge.Detect(vid, strings.Split(pids, ","))
	default:
		return nil, fmt.Errorf("unknown bus type %q", ref.Type)
	}
}

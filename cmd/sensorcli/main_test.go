package main

import (
	"context"
	"runtime"
	"testing"

	"tinygo.org/x/drivers"

	"sensorcode-go/bus"
	"sensorcode-go/drivers/ar0234"
	"sensorcode-go/services/cam"
	"sensorcode-go/types"
)

// Bring-up must not race the cam service's topic subscriptions: the config
// request is not retained, so publishing it before the service goroutine has
// subscribed loses it. Pinning to one OS thread makes the late-subscriber
// interleaving the common case rather than a rare one.
func TestBringUpWaitsForService(t *testing.T) {
	defer runtime.GOMAXPROCS(runtime.GOMAXPROCS(1))

	for i := 0; i < 5; i++ {
		b := bus.NewBus(32)
		ctx, cancel := context.WithCancel(context.Background())
		go cam.Run(ctx, b.NewConnection("cam"), func(ref types.BusRef) (drivers.I2C, error) {
			return ar0234.NewSim(), nil
		})

		cli := b.NewConnection("cli")
		err := bringUp(cli, types.CamConfig{
			ExtClkHz:   24_000_000,
			LinkFreqHz: 450_000_000,
			Lanes:      2,
		})
		cli.Disconnect()
		cancel()
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
}

// A bring-up rejection surfaces the service's error code.
func TestBringUpReportsFailure(t *testing.T) {
	b := bus.NewBus(32)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go cam.Run(ctx, b.NewConnection("cam"), func(ref types.BusRef) (drivers.I2C, error) {
		return ar0234.NewSim(), nil
	})

	cli := b.NewConnection("cli")
	defer cli.Disconnect()
	err := bringUp(cli, types.CamConfig{
		ExtClkHz:   24_000_000,
		LinkFreqHz: 999_000_000,
		Lanes:      2,
	})
	if err == nil {
		t.Fatal("unsupported link accepted")
	}
}

// Command sensorcli is an interactive console for the sensor control plane.
// It runs the cam service in-process against either the register-level
// simulator or a real sensor behind a serial I2C adapter, and exposes the
// bus surface as shell commands.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"
	"github.com/peterh/liner"
	"tinygo.org/x/drivers"

	"sensorcode-go/bus"
	"sensorcode-go/drivers/ar0234"
	"sensorcode-go/drivers/i2cbridge"
	"sensorcode-go/services/cam"
	"sensorcode-go/types"
)

var (
	serialPort = flag.String("serial", "", "serial I2C adapter port (empty = simulator)")
	linkFreq   = flag.Int64("link", 450_000_000, "CSI-2 link frequency in Hz")
	lanes      = flag.Int("lanes", 2, "CSI-2 data lanes (2 or 4)")
	historyFn  = ".sensorcli_history"
)

var commands = []string{
	"state", "limits", "start", "stop",
	"get", "set", "fmt", "try", "enum", "sel",
	"writes", "help", "quit",
}

func main() {
	flag.Parse()

	log.SetPrefix("sensorcli: ")
	log.SetFlags(0)

	if err := run(); err != nil {
		log.Fatalf("%+v", err)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sim *ar0234.Sim
	factory := func(ref types.BusRef) (drivers.I2C, error) {
		if *serialPort != "" {
			return i2cbridge.Open(*serialPort)
		}
		sim = ar0234.NewSim()
		return sim, nil
	}

	b := bus.NewBus(32)
	go cam.Run(ctx, b.NewConnection("cam"), factory)

	cli := b.NewConnection("cli")
	defer cli.Disconnect()

	if err := bringUp(cli, types.CamConfig{
		ExtClkHz:   24_000_000,
		LinkFreqHz: *linkFreq,
		Lanes:      *lanes,
	}); err != nil {
		return err
	}
	log.Printf("sensor up (link %d Hz, %d lanes)", *linkFreq, *lanes)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(l string) (c []string) {
		for _, cmd := range commands {
			if strings.HasPrefix(cmd, strings.ToLower(l)) {
				c = append(c, cmd)
			}
		}
		return
	})
	if f, err := os.Open(historyFn); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyFn); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	for {
		input, err := line.Prompt("cam> ")
		if err != nil {
			return nil // EOF or Ctrl-C
		}
		args, err := shlex.Split(input)
		if err != nil {
			fmt.Println("parse error:", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		line.AppendHistory(input)
		if args[0] == "quit" || args[0] == "exit" {
			return nil
		}
		if err := dispatch(cli, sim, args); err != nil {
			fmt.Println("error:", err)
		}
	}
}

func dispatch(cli *bus.Connection, sim *ar0234.Sim, args []string) error {
	switch args[0] {
	case "help":
		fmt.Println(`state              retained sensor state
limits             retained timing limits
start | stop       stream control
get <ctrl>         read a control (exposure, vblank, analogue_gain, ...)
set <ctrl> <v>     write a control
fmt [w h]          get or set the active image format
try <w> <h>        trial-negotiate a format (no device change)
enum               list supported frame sizes
sel <target>       selection rect: crop, native, crop_default, crop_bounds
writes             dump the simulator register write log
quit`)
		return nil

	case "state", "limits":
		return printRetained(cli, bus.T("cam", args[0]))

	case "start", "stop":
		return roundtrip(cli, bus.T("cam", "stream", args[0]), nil)

	case "get":
		if len(args) != 2 {
			return fmt.Errorf("usage: get <ctrl>")
		}
		return roundtrip(cli, bus.T("cam", "ctrl", args[1], "get"), nil)

	case "set":
		if len(args) != 3 {
			return fmt.Errorf("usage: set <ctrl> <value>")
		}
		v, err := strconv.ParseInt(args[2], 0, 32)
		if err != nil {
			return err
		}
		return roundtrip(cli, bus.T("cam", "ctrl", args[1], "set"), types.CtrlSet{Value: int32(v)})

	case "fmt", "try":
		if len(args) == 1 && args[0] == "fmt" {
			return roundtrip(cli, bus.T("cam", "pad", "get_format"), types.FormatReq{Pad: 0})
		}
		if len(args) != 3 {
			return fmt.Errorf("usage: %s <width> <height>", args[0])
		}
		w, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return err
		}
		h, err := strconv.ParseUint(args[2], 10, 32)
		if err != nil {
			return err
		}
		return roundtrip(cli, bus.T("cam", "pad", "set_format"), types.FormatReq{
			Pad: 0, Width: uint32(w), Height: uint32(h), Trial: args[0] == "try",
		})

	case "enum":
		reply, err := request(cli, bus.T("cam", "pad", "enum_code"), types.PadEnumReq{Pad: 0, Index: 0})
		if err != nil {
			return err
		}
		cr, ok := reply.(types.CodeReply)
		if !ok {
			return replyError(reply)
		}
		for i := 0; ; i++ {
			reply, err := request(cli, bus.T("cam", "pad", "enum_size"), types.PadEnumReq{
				Pad: 0, Code: cr.Code, Index: i,
			})
			if err != nil {
				return err
			}
			fr, ok := reply.(types.FormatReply)
			if !ok {
				// End of the size table.
				return nil
			}
			fmt.Printf("  %d x %d (code %#x)\n", fr.Width, fr.Height, cr.Code)
		}

	case "sel":
		if len(args) != 2 {
			return fmt.Errorf("usage: sel <crop|native|crop_default|crop_bounds>")
		}
		return roundtrip(cli, bus.T("cam", "pad", "selection"), types.SelectionReq{
			Pad: 0, Target: args[1],
		})

	case "writes":
		if sim == nil {
			return fmt.Errorf("no simulator in this session")
		}
		for _, w := range sim.Writes() {
			fmt.Printf("  0x%04X <- 0x%0*X\n", w.Addr, int(w.Width)*2, w.Val)
		}
		return nil

	default:
		return fmt.Errorf("unknown command %q (try help)", args[0])
	}
}

// -----------------------------------------------------------------------------
// Bus plumbing
// -----------------------------------------------------------------------------

// bringUp configures the sensor once the cam service is listening. The
// config request is not retained, so it must not be published before the
// service has subscribed; the retained service topic signals readiness.
func bringUp(cli *bus.Connection, cfg types.CamConfig) error {
	sub := cli.Subscribe(bus.T("cam", "service"))
	select {
	case <-sub.Channel():
	case <-time.After(5 * time.Second):
		sub.Unsubscribe()
		return fmt.Errorf("cam service did not come up")
	}
	sub.Unsubscribe()

	reply, err := request(cli, bus.T("config", "cam"), cfg)
	if err != nil {
		return fmt.Errorf("configure sensor: %w", err)
	}
	if er, ok := reply.(types.ErrorReply); ok {
		return fmt.Errorf("sensor bring-up failed: %s (%s)", er.Error, er.Detail)
	}
	return nil
}

func request(cli *bus.Connection, topic bus.Topic, payload any) (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	msg, err := cli.Request(ctx, topic, payload)
	if err != nil {
		return nil, err
	}
	return msg.Payload, nil
}

func roundtrip(cli *bus.Connection, topic bus.Topic, payload any) error {
	reply, err := request(cli, topic, payload)
	if err != nil {
		return err
	}
	if er, ok := reply.(types.ErrorReply); ok {
		return replyError(er)
	}
	printJSON(reply)
	return nil
}

func replyError(reply any) error {
	if er, ok := reply.(types.ErrorReply); ok {
		if er.Detail != "" {
			return fmt.Errorf("%s: %s", er.Error, er.Detail)
		}
		return fmt.Errorf("%s", er.Error)
	}
	return fmt.Errorf("unexpected reply %T", reply)
}

// printRetained reads one retained message without blocking on live traffic.
func printRetained(cli *bus.Connection, topic bus.Topic) error {
	sub := cli.Subscribe(topic)
	defer sub.Unsubscribe()
	select {
	case m := <-sub.Channel():
		printJSON(m.Payload)
		return nil
	case <-time.After(time.Second):
		return fmt.Errorf("nothing retained on %v", topic)
	}
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(b))
}

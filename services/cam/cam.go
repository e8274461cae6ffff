// services/cam/cam.go
package cam

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"tinygo.org/x/drivers"

	"sensorcode-go/bus"
	"sensorcode-go/drivers/ar0234"
	"sensorcode-go/errcode"
	"sensorcode-go/types"
)

// -----------------------------------------------------------------------------
// Entry point
// -----------------------------------------------------------------------------

// I2CBusFactory resolves a platform bus reference to a transaction interface.
// The platform layer (on-chip I2C, serial bridge, simulator) decides what is
// behind it.
type I2CBusFactory func(ref types.BusRef) (drivers.I2C, error)

// Run starts the cam service and blocks until ctx is cancelled. The sensor is
// brought up when configuration arrives on config/cam; everything after that
// is driven by requests on the cam/ topic tree.
func Run(ctx context.Context, conn *bus.Connection, i2cFactory I2CBusFactory) {
	s := &service{
		conn:       conn,
		i2cFactory: i2cFactory,
		try:        ar0234.NewTryState(),
		link:       types.LinkDown,
	}
	s.loop(ctx)
}

type service struct {
	conn       *bus.Connection
	i2cFactory I2CBusFactory

	dev  *ar0234.Device
	try  *ar0234.TryState
	link types.Link
}

// -----------------------------------------------------------------------------
// Main loop
// -----------------------------------------------------------------------------

func (s *service) loop(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.T("config", "cam"))
	ctrlSub := s.conn.Subscribe(bus.T("cam", "ctrl", bus.Plus, bus.Plus))
	streamSub := s.conn.Subscribe(bus.T("cam", "stream", bus.Plus))
	padSub := s.conn.Subscribe(bus.T("cam", "pad", bus.Plus))
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(ctrlSub)
	defer s.conn.Unsubscribe(streamSub)
	defer s.conn.Unsubscribe(padSub)

	s.publishService("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			s.publishService("stopped", "context_cancelled", nil)
			return

		case msg := <-cfgSub.Channel():
			var cfg types.CamConfig
			if err := decodeJSON(msg.Payload, &cfg); err != nil {
				s.publishService("error", "config_decode_failed", err)
				s.replyErr(msg, errcode.InvalidPayload, err.Error())
				continue
			}
			if err := s.applyConfig(cfg); err != nil {
				s.publishService("error", "bringup_failed", err)
				s.publishState()
				s.replyErr(msg, codeFor(err), err.Error())
				continue
			}
			s.publishService("ready", "configured", nil)
			s.publishState()
			s.publishLimits()
			s.reply(msg, types.OKReply{OK: true})

		case msg := <-ctrlSub.Channel():
			s.handleCtrl(msg)

		case msg := <-streamSub.Channel():
			s.handleStream(msg)

		case msg := <-padSub.Channel():
			s.handlePad(msg)
		}
	}
}

// applyConfig opens the bus, probes the sensor and leaves it in standby.
// Reconfiguration tears down the previous instance first.
func (s *service) applyConfig(cfg types.CamConfig) error {
	s.shutdown()

	i2c, err := s.i2cFactory(cfg.BusRef)
	if err != nil {
		return &errcode.E{C: errcode.IOError, Op: "open_bus", Msg: err.Error(), Err: err}
	}
	dev, err := ar0234.New(i2c, ar0234.HWConfig{
		ExtClkHz:   cfg.ExtClkHz,
		LinkFreqHz: cfg.LinkFreqHz,
		Lanes:      cfg.Lanes,
		Addr:       cfg.Addr,
	})
	if err != nil {
		return err
	}
	if err := dev.Open(); err != nil {
		return err
	}
	s.dev = dev
	s.try = ar0234.NewTryState()
	s.link = types.LinkUp
	return nil
}

func (s *service) shutdown() {
	if s.dev != nil {
		_ = s.dev.Close()
		s.dev = nil
	}
	s.link = types.LinkDown
}

// -----------------------------------------------------------------------------
// Controls: cam/ctrl/<name>/<set|get>
// -----------------------------------------------------------------------------

var ctrlNames = map[string]ar0234.ControlID{
	"exposure":          ar0234.CtrlExposure,
	"analogue_gain":     ar0234.CtrlAnalogGain,
	"digital_gain":      ar0234.CtrlDigitalGain,
	"hflip":             ar0234.CtrlHFlip,
	"vflip":             ar0234.CtrlVFlip,
	"vblank":            ar0234.CtrlVBlank,
	"hblank":            ar0234.CtrlHBlank,
	"test_pattern":      ar0234.CtrlTestPattern,
	"test_data_red":     ar0234.CtrlTestDataRed,
	"test_data_greenr":  ar0234.CtrlTestDataGreenR,
	"test_data_blue":    ar0234.CtrlTestDataBlue,
	"test_data_greenb":  ar0234.CtrlTestDataGreenB,
}

func (s *service) handleCtrl(msg *bus.Message) {
	if len(msg.Topic) < 4 {
		return
	}
	name, _ := msg.Topic[2].(string)
	method, _ := msg.Topic[3].(string)
	id, ok := ctrlNames[name]
	if !ok {
		s.replyErr(msg, errcode.InvalidTopic, "unknown control "+name)
		return
	}
	if s.dev == nil {
		s.replyErr(msg, errcode.NotReady, "not configured")
		return
	}

	switch method {
	case "set":
		var req types.CtrlSet
		if err := decodeJSON(msg.Payload, &req); err != nil {
			s.replyErr(msg, errcode.InvalidPayload, err.Error())
			return
		}
		if id == ar0234.CtrlVBlank {
			// vblank moves the exposure ceiling; republish limits.
			if _, err := s.dev.SetVBlank(req.Value); err != nil {
				s.replyErr(msg, codeFor(err), err.Error())
				return
			}
			s.publishLimits()
		} else if err := s.dev.SetControl(id, req.Value); err != nil {
			s.replyErr(msg, codeFor(err), err.Error())
			return
		}
		info, _ := s.dev.Control(id)
		s.replyCtrl(msg, info)
	case "get":
		info, err := s.dev.Control(id)
		if err != nil {
			s.replyErr(msg, codeFor(err), err.Error())
			return
		}
		s.replyCtrl(msg, info)
	default:
		s.replyErr(msg, errcode.InvalidTopic, "unknown control method "+method)
	}
}

// -----------------------------------------------------------------------------
// Streaming: cam/stream/<start|stop>
// -----------------------------------------------------------------------------

func (s *service) handleStream(msg *bus.Message) {
	if len(msg.Topic) < 3 {
		return
	}
	if s.dev == nil {
		s.replyErr(msg, errcode.NotReady, "not configured")
		return
	}
	verb, _ := msg.Topic[2].(string)
	switch verb {
	case "start":
		if err := s.dev.StartStreaming(); err != nil {
			s.link = types.LinkDegraded
			s.replyErr(msg, codeFor(err), err.Error())
			s.publishState()
			return
		}
	case "stop":
		if err := s.dev.StopStreaming(); err != nil {
			// The device is in standby regardless; report the write
			// failure but keep state truthful.
			s.link = types.LinkDegraded
			s.replyErr(msg, codeFor(err), err.Error())
			s.publishState()
			return
		}
	default:
		s.replyErr(msg, errcode.InvalidTopic, "unknown stream verb "+verb)
		return
	}
	s.link = types.LinkUp
	s.publishState()
	s.reply(msg, types.StreamReply{
		OKReply:   types.OKReply{OK: true},
		Streaming: s.dev.State() == ar0234.Streaming,
	})
}

// -----------------------------------------------------------------------------
// Pads: cam/pad/<method>
// -----------------------------------------------------------------------------

func (s *service) handlePad(msg *bus.Message) {
	if len(msg.Topic) < 3 {
		return
	}
	if s.dev == nil {
		s.replyErr(msg, errcode.NotReady, "not configured")
		return
	}
	method, _ := msg.Topic[2].(string)

	switch method {
	case "get_format":
		var req types.FormatReq
		if err := decodeJSON(msg.Payload, &req); err != nil {
			s.replyErr(msg, errcode.InvalidPayload, err.Error())
			return
		}
		f, err := s.dev.GetFormat(s.try, whichOf(req.Trial), ar0234.Pad(req.Pad))
		if err != nil {
			s.replyErr(msg, codeFor(err), err.Error())
			return
		}
		s.replyFormat(msg, req.Pad, f)
	case "set_format":
		var req types.FormatReq
		if err := decodeJSON(msg.Payload, &req); err != nil {
			s.replyErr(msg, errcode.InvalidPayload, err.Error())
			return
		}
		f, err := s.dev.SetPadFormat(s.try, whichOf(req.Trial), ar0234.Pad(req.Pad), ar0234.FrameFmt{
			Code: req.Code, Width: req.Width, Height: req.Height,
		})
		if err != nil {
			s.replyErr(msg, codeFor(err), err.Error())
			return
		}
		if !req.Trial {
			// An active format change resets framing; republish both
			// retained snapshots.
			s.publishState()
			s.publishLimits()
		}
		s.replyFormat(msg, req.Pad, f)
	case "enum_code":
		var req types.PadEnumReq
		if err := decodeJSON(msg.Payload, &req); err != nil {
			s.replyErr(msg, errcode.InvalidPayload, err.Error())
			return
		}
		code, ok := s.dev.EnumFormatCode(ar0234.Pad(req.Pad), req.Index)
		if !ok {
			s.replyErr(msg, errcode.InvalidParams, "no such code index")
			return
		}
		s.reply(msg, types.CodeReply{
			OKReply: types.OKReply{OK: true},
			Pad:     req.Pad,
			Code:    code,
		})
	case "enum_size":
		var req types.PadEnumReq
		if err := decodeJSON(msg.Payload, &req); err != nil {
			s.replyErr(msg, errcode.InvalidPayload, err.Error())
			return
		}
		f, ok := s.dev.EnumFrameSize(ar0234.Pad(req.Pad), req.Code, req.Index)
		if !ok {
			s.replyErr(msg, errcode.InvalidParams, "no such size index")
			return
		}
		s.replyFormat(msg, req.Pad, f)
	case "selection":
		var req types.SelectionReq
		if err := decodeJSON(msg.Payload, &req); err != nil {
			s.replyErr(msg, errcode.InvalidPayload, err.Error())
			return
		}
		target, ok := selTargets[req.Target]
		if !ok {
			s.replyErr(msg, errcode.InvalidParams, "unknown selection target "+req.Target)
			return
		}
		r, err := s.dev.Selection(s.try, whichOf(req.Trial), ar0234.Pad(req.Pad), target)
		if err != nil {
			s.replyErr(msg, codeFor(err), err.Error())
			return
		}
		s.reply(msg, types.RectReply{
			OKReply: types.OKReply{OK: true},
			Left:    r.Left,
			Top:     r.Top,
			Width:   r.Width,
			Height:  r.Height,
		})
	default:
		s.replyErr(msg, errcode.InvalidTopic, "unknown pad method "+method)
	}
}

func whichOf(trial bool) ar0234.Which {
	if trial {
		return ar0234.WhichTry
	}
	return ar0234.WhichActive
}

var selTargets = map[string]ar0234.SelTarget{
	"crop":         ar0234.SelCrop,
	"native":       ar0234.SelNative,
	"crop_default": ar0234.SelCropDefault,
	"crop_bounds":  ar0234.SelCropBounds,
}

// -----------------------------------------------------------------------------
// Retained snapshots
// -----------------------------------------------------------------------------

func (s *service) publishState() {
	st := types.CamState{
		Link: s.link,
		TS:   time.Now().UnixMilli(),
	}
	if s.dev != nil {
		f := s.dev.CurrentFormat()
		st.Streaming = s.dev.State() == ar0234.Streaming
		st.Width = f.Width
		st.Height = f.Height
		st.Code = s.dev.Code()
		st.Mono = s.dev.Mono()
	}
	s.conn.Publish(s.conn.NewMessage(bus.T("cam", "state"), st, true))
}

func (s *service) publishLimits() {
	if s.dev == nil {
		return
	}
	lim := s.dev.Limits()
	vb, _ := s.dev.Control(ar0234.CtrlVBlank)
	s.conn.Publish(s.conn.NewMessage(bus.T("cam", "limits"), types.CamLimits{
		VBlankMin:   lim.VBlankMin,
		VBlankMax:   lim.VBlankMax,
		VBlank:      vb.Value,
		HBlank:      lim.HBlank,
		ExposureMin: lim.ExposureMin,
		ExposureMax: lim.ExposureMax,
		PixelRateHz: s.dev.PixelRateHz(),
		LinkFreqHz:  s.dev.LinkFreqHz(),
	}, true))
}

func (s *service) publishService(level, status string, err error) {
	st := types.ServiceState{
		Level:  level,
		Status: status,
		TS:     time.Now().UnixMilli(),
	}
	if err != nil {
		st.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(bus.T("cam", "service"), st, true))
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (s *service) reply(req *bus.Message, payload any) {
	if len(req.ReplyTo) == 0 {
		return
	}
	s.conn.Reply(req, payload, false)
}

func (s *service) replyErr(req *bus.Message, code errcode.Code, detail string) {
	s.reply(req, types.ErrorReply{Error: string(code), Detail: detail})
}

func (s *service) replyCtrl(req *bus.Message, info ar0234.CtrlInfo) {
	s.reply(req, types.CtrlValue{
		OKReply: types.OKReply{OK: true},
		Value:   info.Value,
		Min:     info.Min,
		Max:     info.Max,
		Default: info.Default,
	})
}

func (s *service) replyFormat(req *bus.Message, pad int, f ar0234.FrameFmt) {
	s.reply(req, types.FormatReply{
		OKReply: types.OKReply{OK: true},
		Pad:     pad,
		Width:   f.Width,
		Height:  f.Height,
		Code:    f.Code,
	})
}

// codeFor maps driver errors to stable bus-facing codes.
func codeFor(err error) errcode.Code {
	switch {
	case err == nil:
		return errcode.OK
	case errors.Is(err, ar0234.ErrBusy):
		return errcode.Busy
	case errors.Is(err, ar0234.ErrRange):
		return errcode.InvalidRange
	case errors.Is(err, ar0234.ErrNoLinkConfig):
		return errcode.UnsupportedLink
	case errors.Is(err, ar0234.ErrChipID):
		return errcode.ChipMismatch
	case errors.Is(err, ar0234.ErrPowerSequence):
		return errcode.PowerSequence
	case errors.Is(err, ar0234.ErrPoweredOff):
		return errcode.NotReady
	case errors.Is(err, ar0234.ErrReadOnly), errors.Is(err, ar0234.ErrUnknownControl):
		return errcode.InvalidParams
	default:
		if c := errcode.Of(err); c != errcode.Error {
			return c
		}
		return errcode.IOError
	}
}

func decodeJSON[T any](src any, dst *T) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		// Accept maps and structs by re-encoding into the target shape.
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return json.Unmarshal(b, dst)
	}
}

// Package msp implements the MSP V2 protocol used to command and query an
// INAV flight controller over a serial link.
//
// Frame layout (byte-exact):
//
//	$ X < flag function:u16le length:u16le payload crc8
//
// The checksum is CRC-8/DVB-S2 over flag+function+length+payload. Responses
// carry direction '>' and errors '!'. All failures surface as "no data"
// returns plus an error counter; nothing here may take down the control loop.
package msp

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Config holds link parameters for the engine.
type Config struct {
	Port       string
	Baud       int
	Timeout    time.Duration // response wait budget per request, also bounds serial writes
	Simulation bool          // bypass the transport, return synthetic telemetry
}

// Stats is a snapshot of link counters.
type Stats struct {
	TxCount    uint64 `json:"txCount"`
	RxCount    uint64 `json:"rxCount"`
	ErrorCount uint64 `json:"errorCount"`
	Connected  bool   `json:"connected"`
}

// FCInfo identifies the flight controller firmware.
type FCInfo struct {
	Variant string `json:"variant"`
	Version string `json:"version"`
}

// Engine frames, sends and parses MSP V2 messages over a Transport.
// A single mutex serializes the send-then-await-response sequence so the
// control and telemetry loops never interleave request/response pairs.
type Engine struct {
	cfg Config
	log *slog.Logger

	mu        sync.Mutex
	transport Transport

	statsMu sync.Mutex
	tx      uint64
	rx      uint64
	errs    uint64

	lastRC [NumChannels]uint16

	txCounter  metric.Int64Counter
	errCounter metric.Int64Counter
}

// NewEngine creates an engine for the given link configuration.
func NewEngine(cfg Config, log *slog.Logger) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	e := &Engine{
		cfg: cfg,
		log: log,
	}
	for i := range e.lastRC {
		e.lastRC[i] = RCMid
	}

	m := meter()
	e.txCounter, _ = m.Int64Counter("msp.frames.sent",
		metric.WithDescription("Total MSP frames transmitted"))
	e.errCounter, _ = m.Int64Counter("msp.errors",
		metric.WithDescription("Total MSP transport, timeout and checksum errors"))

	return e
}

// Connect opens the serial transport. In simulation mode no port is touched.
func (e *Engine) Connect() error {
	if e.cfg.Simulation {
		e.log.Info("simulation mode, serial port not opened")
		return nil
	}

	transport, err := OpenSerial(e.cfg.Port, e.cfg.Baud, e.cfg.Timeout)
	if err != nil {
		return fmt.Errorf("connecting to flight controller: %w", err)
	}

	e.mu.Lock()
	e.transport = transport
	e.mu.Unlock()

	e.log.Info("serial port connected", "port", e.cfg.Port, "baud", e.cfg.Baud)
	return nil
}

// SetTransport installs an already-open transport. Used by tests and by the
// bench harness to drive the engine without hardware.
func (e *Engine) SetTransport(t Transport) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.transport = t
}

// Disconnect closes the transport if one is open.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.transport != nil {
		e.transport.Close()
		e.transport = nil
		e.log.Info("serial port closed")
	}
}

// Connected reports whether the link is usable.
func (e *Engine) Connected() bool {
	if e.cfg.Simulation {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transport != nil
}

// SendRCOverride transmits an MSP_SET_RAW_RC frame with the four primary
// channels and up to four auxiliary channels. Values are clamped to
// [RCMin, RCMax]; trailing channels are filled with RCMid. The frame is
// fire-and-forget: the override link is one-directional and waiting for an
// acknowledgment would burn the cadence budget.
func (e *Engine) SendRCOverride(roll, pitch, throttle, yaw int, aux ...int) bool {
	channels := make([]uint16, 0, NumChannels)
	channels = append(channels, clampRC(roll), clampRC(pitch), clampRC(throttle), clampRC(yaw))
	for i := 0; i < 4; i++ {
		v := RCMid
		if i < len(aux) {
			v = aux[i]
		}
		channels = append(channels, clampRC(v))
	}
	return e.SendRCChannels(channels)
}

// SendRCChannels transmits a full channel vector (padded/clamped to
// NumChannels) without waiting for a response.
func (e *Engine) SendRCChannels(channels []uint16) bool {
	payload := encodeChannels(channels)
	frame := buildFrame(FuncSetRawRC, payload)

	if !e.sendFrame(frame) {
		return false
	}

	e.statsMu.Lock()
	copy(e.lastRC[:], DecodeChannels(payload))
	e.statsMu.Unlock()
	return true
}

// LastRCChannels returns the most recently transmitted channel vector.
func (e *Engine) LastRCChannels() [NumChannels]uint16 {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.lastRC
}

// RequestAltitude queries MSP_ALTITUDE. The response carries a signed
// 32-bit centimeter value which is converted to meters. Returns ok=false
// when no valid response arrives within the timeout.
func (e *Engine) RequestAltitude() (float64, bool) {
	if e.cfg.Simulation {
		return 10.0, true
	}

	payload, ok := e.sendAndReceive(FuncAltitude, nil)
	if !ok || len(payload) < 4 {
		return 0, false
	}

	altCm := int32(binary.LittleEndian.Uint32(payload[:4]))
	return float64(altCm) / 100.0, true
}

// RequestStatus queries MSP_STATUS. Armed is bit 0 of the arming-flag byte
// at offset 10; responses shorter than 11 bytes are treated as no data.
func (e *Engine) RequestStatus() (armed bool, mode string, ok bool) {
	if e.cfg.Simulation {
		return false, "DISARMED", true
	}

	payload, valid := e.sendAndReceive(FuncStatus, nil)
	if !valid || len(payload) < 11 {
		return false, "", false
	}

	armed = payload[10]&0x01 != 0
	mode = "DISARMED"
	if armed {
		mode = "ARMED"
	}
	return armed, mode, true
}

// RequestFCInfo queries the firmware variant and version identifiers.
func (e *Engine) RequestFCInfo() (FCInfo, bool) {
	if e.cfg.Simulation {
		return FCInfo{Variant: "SIM", Version: "0.0.0"}, true
	}

	var info FCInfo

	if payload, ok := e.sendAndReceive(FuncFCVariant, nil); ok && len(payload) >= 4 {
		info.Variant = string(payload[:4])
	}
	if payload, ok := e.sendAndReceive(FuncFCVersion, nil); ok && len(payload) >= 3 {
		info.Version = fmt.Sprintf("%d.%d.%d", payload[0], payload[1], payload[2])
	}

	if info.Variant == "" && info.Version == "" {
		return FCInfo{}, false
	}
	return info, true
}

// RequestRCChannels reads the channel values the FC currently sees.
func (e *Engine) RequestRCChannels() ([]uint16, bool) {
	if e.cfg.Simulation {
		rc := e.LastRCChannels()
		return rc[:8], true
	}

	payload, ok := e.sendAndReceive(FuncRC, nil)
	if !ok || len(payload) < 2 {
		return nil, false
	}
	return DecodeChannels(payload), true
}

// GetStats returns a snapshot of the link counters.
func (e *Engine) GetStats() Stats {
	connected := e.Connected()
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return Stats{
		TxCount:    e.tx,
		RxCount:    e.rx,
		ErrorCount: e.errs,
		Connected:  connected,
	}
}

// sendFrame writes one frame to the transport. Simulation counts it as sent.
func (e *Engine) sendFrame(frame []byte) bool {
	if e.cfg.Simulation {
		e.countTx()
		return true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sendFrameLocked(frame)
}

func (e *Engine) sendFrameLocked(frame []byte) bool {
	if e.transport == nil {
		return false
	}
	if _, err := e.transport.Write(frame); err != nil {
		e.log.Error("serial write failed", "error", err)
		e.countErr()
		return false
	}
	e.countTx()
	return true
}

// sendAndReceive sends a request and blocks for the matching response within
// the configured timeout. The transport mutex is held across the whole
// exchange so concurrent callers cannot interleave on the wire.
func (e *Engine) sendAndReceive(function uint16, payload []byte) ([]byte, bool) {
	frame := buildFrame(function, payload)

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.sendFrameLocked(frame) {
		return nil, false
	}

	recvFunc, recvPayload, ok := e.readResponse(e.cfg.Timeout)
	if !ok || recvFunc != function {
		return nil, false
	}
	return recvPayload, true
}

// readResponse scans the byte stream for a `$X>` header and parses one
// response frame. A malformed or truncated frame, a checksum mismatch or a
// timeout all return ok=false. An error-direction frame counts as an error
// and ends the wait: the FC declined to service the request.
func (e *Engine) readResponse(timeout time.Duration) (uint16, []byte, bool) {
	if e.transport == nil {
		return 0, nil, false
	}

	deadline := time.Now().Add(timeout)
	e.transport.SetReadTimeout(20 * time.Millisecond)

	for time.Now().Before(deadline) {
		b, ok := e.readByte(deadline)
		if !ok {
			break
		}
		if b != startByte {
			continue
		}

		if b, ok = e.readByte(deadline); !ok || b != identByte {
			continue
		}

		b, ok = e.readByte(deadline)
		if !ok {
			break
		}
		switch b {
		case dirError:
			e.log.Warn("MSP error response")
			e.countErr()
			return 0, nil, false
		case dirResponse:
		default:
			continue
		}

		header := make([]byte, 5) // flag + function + length
		if !e.readFull(header, deadline) {
			return 0, nil, false
		}

		function := binary.LittleEndian.Uint16(header[1:3])
		size := binary.LittleEndian.Uint16(header[3:5])

		payload := make([]byte, size)
		if !e.readFull(payload, deadline) {
			return 0, nil, false
		}

		crcByte, ok := e.readByte(deadline)
		if !ok {
			return 0, nil, false
		}

		crcData := append(header, payload...)
		if Checksum(crcData) != crcByte {
			e.log.Warn("MSP checksum mismatch",
				"expected", Checksum(crcData), "received", crcByte)
			e.countErr()
			return 0, nil, false
		}

		e.countRx()
		return function, payload, true
	}

	e.countErr()
	return 0, nil, false
}

// readByte reads a single byte, polling until the deadline.
func (e *Engine) readByte(deadline time.Time) (byte, bool) {
	buf := make([]byte, 1)
	for time.Now().Before(deadline) {
		n, err := e.transport.Read(buf)
		if err != nil {
			e.log.Error("serial read failed", "error", err)
			return 0, false
		}
		if n > 0 {
			return buf[0], true
		}
	}
	return 0, false
}

// readFull fills buf completely or reports failure at the deadline.
func (e *Engine) readFull(buf []byte, deadline time.Time) bool {
	read := 0
	for read < len(buf) && time.Now().Before(deadline) {
		n, err := e.transport.Read(buf[read:])
		if err != nil {
			e.log.Error("serial read failed", "error", err)
			return false
		}
		read += n
	}
	return read == len(buf)
}

func (e *Engine) countTx() {
	e.statsMu.Lock()
	e.tx++
	e.statsMu.Unlock()
	if e.txCounter != nil {
		e.txCounter.Add(context.Background(), 1)
	}
}

func (e *Engine) countRx() {
	e.statsMu.Lock()
	e.rx++
	e.statsMu.Unlock()
}

func (e *Engine) countErr() {
	e.statsMu.Lock()
	e.errs++
	e.statsMu.Unlock()
	if e.errCounter != nil {
		e.errCounter.Add(context.Background(), 1)
	}
}

package msp

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// Transport is the byte-stream link to the flight controller. Reads must
// honor the configured read timeout: a timed-out read returns n == 0 with a
// nil error so callers can poll without blocking indefinitely.
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(d time.Duration) error
	Close() error
}

// serialTransport wraps a serial port as a Transport.
type serialTransport struct {
	port         serial.Port
	writeTimeout time.Duration
}

// OpenSerial opens the serial device at the given baudrate. Writes are bounded
// by writeTimeout; a wedged UART fails the write instead of stalling the
// control cadence.
func OpenSerial(device string, baud int, writeTimeout time.Duration) (Transport, error) {
	mode := &serial.Mode{BaudRate: baud}
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("opening serial port %s: %w", device, err)
	}

	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("resetting input buffer: %w", err)
	}
	if err := port.ResetOutputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("resetting output buffer: %w", err)
	}

	if writeTimeout <= 0 {
		writeTimeout = time.Second
	}
	return &serialTransport{port: port, writeTimeout: writeTimeout}, nil
}

func (t *serialTransport) Read(p []byte) (int, error) { return t.port.Read(p) }

// Write sends the frame with a deadline. The port library exposes no write
// timeout, so the write runs on its own goroutine; when the deadline passes
// the port is closed to abort the blocked syscall and the write fails. The
// caller sees the error and reconnects through the usual path.
func (t *serialTransport) Write(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := t.port.Write(p)
		done <- result{n, err}
	}()

	timer := time.NewTimer(t.writeTimeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.n, r.err
	case <-timer.C:
		t.port.Close()
		return 0, fmt.Errorf("serial write timed out after %v", t.writeTimeout)
	}
}

func (t *serialTransport) Close() error { return t.port.Close() }

func (t *serialTransport) SetReadTimeout(d time.Duration) error {
	return t.port.SetReadTimeout(d)
}

// Loopback is an in-memory Transport used by tests and the bench harness.
// Written frames accumulate in Sent; QueueResponse pre-loads bytes for the
// next reads.
type Loopback struct {
	mu      sync.Mutex
	inbox   []byte
	Sent    [][]byte
	timeout time.Duration
	closed  bool
}

// NewLoopback creates an empty loopback transport.
func NewLoopback() *Loopback {
	return &Loopback{timeout: 10 * time.Millisecond}
}

// QueueResponse appends bytes to be returned by subsequent reads.
func (l *Loopback) QueueResponse(b []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inbox = append(l.inbox, b...)
}

func (l *Loopback) Read(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, fmt.Errorf("transport closed")
	}
	if len(l.inbox) == 0 {
		// Emulate a read timeout.
		return 0, nil
	}
	n := copy(p, l.inbox)
	l.inbox = l.inbox[n:]
	return n, nil
}

func (l *Loopback) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, fmt.Errorf("transport closed")
	}
	frame := make([]byte, len(p))
	copy(frame, p)
	l.Sent = append(l.Sent, frame)
	return len(p), nil
}

func (l *Loopback) SetReadTimeout(d time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timeout = d
	return nil
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

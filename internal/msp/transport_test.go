package msp

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// wedgedPort blocks writes until the port is closed, like a UART with a
// flow-control wedge. Only Write and Close are exercised.
type wedgedPort struct {
	serial.Port
	closed chan struct{}
}

func newWedgedPort() *wedgedPort {
	return &wedgedPort{closed: make(chan struct{})}
}

func (w *wedgedPort) Write(p []byte) (int, error) {
	<-w.closed
	return 0, fmt.Errorf("port closed")
}

func (w *wedgedPort) Close() error {
	close(w.closed)
	return nil
}

func TestSerialWrite_TimesOutOnWedgedPort(t *testing.T) {
	st := &serialTransport{port: newWedgedPort(), writeTimeout: 20 * time.Millisecond}

	start := time.Now()
	n, err := st.Write([]byte{0x24, 0x58, 0x3c})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Equal(t, 0, n)
	assert.Less(t, elapsed, time.Second, "write must fail within the bound, not block")
}

func TestSerialWrite_PassesThroughWhenPortResponds(t *testing.T) {
	port := newWedgedPort()
	close(port.closed) // writes return immediately
	st := &serialTransport{port: port, writeTimeout: 100 * time.Millisecond}

	_, err := st.Write([]byte{0x24})
	assert.EqualError(t, err, "port closed")
}

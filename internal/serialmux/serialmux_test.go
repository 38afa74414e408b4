package serialmux

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"

	"github.com/banshee-data/raptorhab/internal/monitoring"
	"github.com/banshee-data/raptorhab/internal/protocol"
)

func init() {
	monitoring.SetLogger(nil)
}

// localHostRequest creates an httptest request that appears to come from localhost.
// This bypasses tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestSerialMux_SubscribeUnsubscribe(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())

	id1, ch1 := mux.Subscribe()
	id2, _ := mux.Subscribe()
	assert.NotEqual(t, id1, id2)
	assert.Len(t, mux.subscribers, 2)

	mux.Unsubscribe(id1)
	_, open := <-ch1
	assert.False(t, open)
	assert.Len(t, mux.subscribers, 1)

	// Unknown ids are ignored.
	mux.Unsubscribe("nope")
	assert.Len(t, mux.subscribers, 1)
}

func TestSerialMux_SendCommand(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	require.NoError(t, mux.SendCommand("STATUS"))
	require.NoError(t, mux.SendCommand("PING\n"))
	assert.Equal(t, "STATUS\nPING\n", string(port.GetWrittenData()))

	port.WriteError = errors.New("unplugged")
	assert.EqualError(t, mux.SendCommand("X"), "unplugged")
}

type shortWritePort struct{ *TestableSerialPort }

func (p shortWritePort) Write(b []byte) (int, error) { return len(b) - 1, nil }

func TestSerialMux_SendCommandShortWrite(t *testing.T) {
	mux := NewSerialMux(shortWritePort{NewTestableSerialPort()})
	assert.ErrorIs(t, mux.SendCommand("CFG"), ErrWriteFailed)
}

func TestSerialMux_Initialise(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	assert.Equal(t, protocol.DefaultModemSettings(), mux.Settings())

	settings := protocol.DefaultModemSettings()
	settings.FrequencyMHz = 868.5
	require.NoError(t, mux.Initialise(settings))
	assert.Equal(t, "CFG:868.5,96.0,50.0,467.0,32\n", string(port.GetWrittenData()))
	assert.Equal(t, settings, mux.Settings())

	port.WriteError = errors.New("gone")
	err := mux.Initialise(protocol.DefaultModemSettings())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to configure modem")
	assert.Equal(t, settings, mux.Settings(), "settings only change once sent")
}

func TestSerialMux_MonitorDeliversEveryByteToSink(t *testing.T) {
	port := NewTestableSerialPort()
	data := bytes.Repeat([]byte{0x7E, 0x01, 0x7D, 0x5E, '\n'}, 2000)
	port.AddReadData(data)
	mux := NewSerialMux(port)

	var got []byte
	mux.SetSink(func(b []byte) { got = append(got, b...) })
	_, ch := mux.Subscribe()

	require.NoError(t, mux.Monitor(context.Background()))
	assert.Equal(t, data, got)

	// The subscriber sees chunks until its buffer fills.
	var sub []byte
	for len(ch) > 0 {
		sub = append(sub, <-ch...)
	}
	assert.Equal(t, data[:len(sub)], sub)
}

func TestSerialMux_MonitorReadError(t *testing.T) {
	port := NewTestableSerialPort()
	port.ReadError = errors.New("usb reset")
	mux := NewSerialMux(port)
	assert.EqualError(t, mux.Monitor(context.Background()), "usb reset")
}

func TestSerialMux_MonitorContextCancel(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after cancel")
	}
	port.Close()
}

func TestSerialMux_CloseStopsMonitor(t *testing.T) {
	port := NewTestableSerialPort()
	port.BlockReads = true
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	done := make(chan error, 1)
	go func() { done <- mux.Monitor(context.Background()) }()
	require.NoError(t, mux.Close())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Monitor did not return after Close")
	}
	_, open := <-ch
	assert.False(t, open)
	assert.True(t, port.Closed)
}

func TestMockSerialMux(t *testing.T) {
	var mu sync.Mutex
	chunks := [][]byte{[]byte("CFG_OK:915.0\n"), {0x7E, 0x00}}
	mux := NewMockSerialMux(func() ([]byte, bool) {
		mu.Lock()
		defer mu.Unlock()
		if len(chunks) == 0 {
			return nil, false
		}
		c := chunks[0]
		chunks = chunks[1:]
		return c, true
	}, time.Millisecond)

	var got []byte
	mux.SetSink(func(b []byte) { got = append(got, b...) })
	require.NoError(t, mux.Initialise(protocol.DefaultModemSettings()))
	require.NoError(t, mux.Monitor(context.Background()))
	assert.Equal(t, []byte("CFG_OK:915.0\n\x7E\x00"), got)
	require.NoError(t, mux.Close())
}

func TestDisabledSerialMux(t *testing.T) {
	d := NewDisabledSerialMux()
	var _ SerialMuxInterface = d

	id, ch := d.Subscribe()
	d.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open)

	assert.NoError(t, d.SendCommand("X"))
	assert.NoError(t, d.Initialise(protocol.DefaultModemSettings()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Monitor(ctx), context.Canceled)

	_, ch = d.Subscribe()
	require.NoError(t, d.Close())
	_, open = <-ch
	assert.False(t, open)
	_, ch = d.Subscribe()
	_, open = <-ch
	assert.False(t, open, "subscribing after Close returns a closed channel")
	assert.NoError(t, d.Close())
}

func TestPortOptions(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, PortOptions{BaudRate: DefaultBaudRate, DataBits: 8, StopBits: 1, Parity: "N"}, opts)
	assert.True(t, PortOptions{}.Equal(PortOptions{BaudRate: 921600, Parity: "none"}))
	assert.False(t, PortOptions{}.Equal(PortOptions{BaudRate: 115200}))

	for _, bad := range []PortOptions{
		{DataBits: 9},
		{StopBits: 3},
		{Parity: "mark"},
	} {
		_, err := bad.Normalize()
		assert.Error(t, err, "%+v", bad)
		assert.False(t, bad.Equal(bad))
	}

	mode, err := PortOptions{BaudRate: 115200, StopBits: 2, Parity: "even"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, &serial.Mode{BaudRate: 115200, DataBits: 8, StopBits: serial.TwoStopBits, Parity: serial.EvenParity}, mode)

	mode, err = PortOptions{Parity: "O"}.SerialMode()
	require.NoError(t, err)
	assert.Equal(t, serial.OneStopBit, mode.StopBits)
	assert.Equal(t, serial.OddParity, mode.Parity)
}

func TestOpenSerialMux(t *testing.T) {
	port := NewTestableSerialPort()
	factory := NewMockSerialPortFactory(port)

	mux, err := OpenSerialMux(factory, "/dev/ttyACM0", PortOptions{})
	require.NoError(t, err)
	require.NotNil(t, mux)
	call := factory.LastCall()
	require.NotNil(t, call)
	assert.Equal(t, "/dev/ttyACM0", call.Path)
	assert.Equal(t, DefaultSerialPortMode(), call.Mode)

	factory.Error = errors.New("no such device")
	_, err = OpenSerialMux(factory, "/dev/ttyACM1", PortOptions{})
	assert.ErrorContains(t, err, "/dev/ttyACM1")

	_, err = OpenSerialMux(factory, "/dev/ttyACM0", PortOptions{DataBits: 4})
	assert.Error(t, err)

	opener := SerialPortOpener(func(path string, mode *SerialPortMode) (SerialPorter, error) {
		return port, nil
	})
	_, err = OpenSerialMux(opener, "x", PortOptions{})
	assert.NoError(t, err)
}

func TestAdminRoutes(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	t.Run("send command", func(t *testing.T) {
		form := url.Values{"command": {"STATUS"}}
		req := localHostRequest(http.MethodPost, "/debug/send-command-api", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		httpMux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "STATUS")
		assert.Contains(t, string(port.GetWrittenData()), "STATUS\n")
	})

	t.Run("send command rejects", func(t *testing.T) {
		for _, tc := range []struct {
			method string
			form   url.Values
			want   int
		}{
			{http.MethodPost, url.Values{"command": {"  "}}, http.StatusBadRequest},
			{http.MethodGet, nil, http.StatusMethodNotAllowed},
		} {
			req := localHostRequest(tc.method, "/debug/send-command-api", strings.NewReader(tc.form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			rec := httptest.NewRecorder()
			httpMux.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		}
	})

	t.Run("modem config", func(t *testing.T) {
		port.Reset()
		req := localHostRequest(http.MethodPost, "/debug/modem-config", strings.NewReader(`{"frequency_mhz": 869.5}`))
		rec := httptest.NewRecorder()
		httpMux.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "CFG:869.5,96.0,50.0,467.0,32\n", string(port.GetWrittenData()))

		req = localHostRequest(http.MethodGet, "/debug/modem", nil)
		rec = httptest.NewRecorder()
		httpMux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "869.5")

		req = localHostRequest(http.MethodPost, "/debug/modem-config", strings.NewReader(`not json`))
		rec = httptest.NewRecorder()
		httpMux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("remote access denied", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/debug/modem", nil)
		rec := httptest.NewRecorder()
		httpMux.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

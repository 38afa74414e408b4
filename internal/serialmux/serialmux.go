// Serialmux provides an abstraction over the ground modem's serial port with
// the ability for multiple clients to subscribe to the raw byte stream and
// send configuration commands to the single modem.
package serialmux

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"tailscale.com/tsweb"

	"github.com/banshee-data/raptorhab/internal/monitoring"
	"github.com/banshee-data/raptorhab/internal/protocol"
)

var ErrWriteFailed = fmt.Errorf("failed to write to serial port")

// readBufferSize matches the largest burst the modem emits between reads at
// 921600 baud.
const readBufferSize = 4096

// subscriberBuffer is the number of chunks a slow subscriber may lag by
// before chunks are dropped for it.
const subscriberBuffer = 64

// SerialMux is a generic serial port multiplexer that allows multiple clients to
// subscribe to the byte stream from a single modem.
type SerialMux[T SerialPorter] struct {
	port         T
	subscribers  map[string]chan []byte
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex
	sink         func([]byte)
	settings     protocol.ModemSettings
}

// SerialMuxInterface defines the interface for the SerialMux type.
type SerialMuxInterface interface {
	// Subscribe creates a new channel for receiving raw chunks from the
	// serial port. The channel ID is used to identify the unique channel when
	// unsubscribing.
	Subscribe() (string, chan []byte)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// SetSink installs the lossless consumer of the byte stream.
	SetSink(func([]byte))
	// SendCommand writes the provided command to the serial port.
	SendCommand(string) error
	// Monitor reads chunks from the serial port and hands them to the sink
	// and the subscribers.
	Monitor(context.Context) error
	// Close closes all subscribed channels and closes the serial port.
	Close() error

	// Initialise sends the modem configuration.
	Initialise(protocol.ModemSettings) error

	// AttachAdminRoutes attaches admin debugging endpoints to the given HTTP
	// mux served at /debug/. These routes are accessible only over
	// localhost/via Tailscale and are not publicly accessible.
	AttachAdminRoutes(*http.ServeMux)
}

// NewSerialMux creates a SerialMux instance backed by the given port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{
		port:        port,
		subscribers: make(map[string]chan []byte),
		settings:    protocol.DefaultModemSettings(),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, chan []byte) {
	id := randomID()
	ch := make(chan []byte, subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// SetSink installs fn as the consumer that sees every chunk, in order, on
// the Monitor goroutine. Unlike subscribers it is never skipped.
func (s *SerialMux[T]) SetSink(fn func([]byte)) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.sink = fn
}

// Initialise sends the radio configuration to the modem. The modem answers
// asynchronously with a CFG_OK or CFG_ERR line in the byte stream.
func (s *SerialMux[T]) Initialise(settings protocol.ModemSettings) error {
	command := settings.Command()
	if err := s.SendCommand(command); err != nil {
		return fmt.Errorf("failed to configure modem: %w", err)
	}
	s.commandMu.Lock()
	s.settings = settings
	s.commandMu.Unlock()
	monitoring.Logf("sent modem configuration %s", command)
	return nil
}

// Settings returns the last configuration sent with Initialise.
func (s *SerialMux[T]) Settings() protocol.ModemSettings {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	return s.settings
}

// SendCommand sends a command to the serial port.
func (s *SerialMux[T]) SendCommand(command string) error {
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n" // ensure command ends with a newline
	}
	n, err := s.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads the serial port until ctx is done, the port reports EOF or
// the mux is closed.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	chunkChan := make(chan []byte)
	readErrChan := make(chan error, 1)

	// The blocking Read runs in its own goroutine so the loop below can
	// still observe context cancellation.
	go func() {
		defer close(chunkChan)
		buf := make([]byte, readBufferSize)
		for {
			n, err := s.port.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case chunkChan <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					select {
					case readErrChan <- err:
					case <-ctx.Done():
					}
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErrChan:
			if s.isClosing() {
				return nil
			}
			return err

		case chunk, ok := <-chunkChan:
			if !ok {
				select {
				case err := <-readErrChan:
					if !s.isClosing() {
						return err
					}
				default:
				}
				return nil
			}
			if s.isClosing() {
				return nil
			}
			s.dispatch(chunk)
		}
	}
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

func (s *SerialMux[T]) dispatch(chunk []byte) {
	s.subscriberMu.Lock()
	sink := s.sink
	for _, ch := range s.subscribers {
		select {
		case ch <- chunk:
		default:
			// if the channel is full skip so as not to block the outer loop
		}
	}
	s.subscriberMu.Unlock()
	if sink != nil {
		sink(chunk)
	}
}

func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachAdminRoutes(mux, s)
}

// attachAdminRoutes registers the modem routes for any mux implementation.
func attachAdminRoutes(mux *http.ServeMux, s interface {
	SerialMuxInterface
	Settings() protocol.ModemSettings
}) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("modem", "current modem configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.Settings())
	})

	// API endpoint to write command to the serial port
	debug.HandleSilentFunc("send-command-api", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to serial port", command))
	})

	// Reconfigure the modem from a JSON body of ModemSettings; missing
	// fields keep their current values.
	debug.HandleSilentFunc("modem-config", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		settings := s.Settings()
		if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&settings); err != nil {
			http.Error(w, "Invalid modem settings", http.StatusBadRequest)
			return
		}
		if err := s.Initialise(settings); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Sent %q", settings.Command()))
	})

	// Server-Sent Events carrying each raw chunk as spaced hex.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case chunk, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: % X\n\n", chunk); err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}

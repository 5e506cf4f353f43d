// Package sensorlink multiplexes a line-oriented sensor pod serial port so
// multiple clients can subscribe to report lines and send commands through a
// single device. The ultrasonic pod speaks a small ASCII protocol: commands
// are single lines ("T" triggers a measurement), reports are single lines
// ("E <micros>" carries an echo width).
package sensorlink

import (
	"bufio"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"tailscale.com/tsweb"
)

var ErrWriteFailed = fmt.Errorf("failed to write to sensor port")

// Porter is the minimal serial port surface the link needs. The abstraction
// keeps the link testable without pod hardware.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// Linker is the device-independent view of a Link, letting callers hold a
// hardware-backed or mock-backed link interchangeably.
type Linker interface {
	// Subscribe creates a new channel receiving report lines from the pod.
	// The returned ID identifies the channel when unsubscribing.
	Subscribe() (string, chan string)
	// Unsubscribe closes and removes a subscriber channel.
	Unsubscribe(string)
	// SendCommand writes one command line to the pod.
	SendCommand(string) error
	// Monitor reads report lines and fans them out to subscribers.
	Monitor(context.Context) error
	// Initialize puts the pod into the measurement mode the daemon expects.
	Initialize() error
	// Close closes all subscriber channels and the port.
	Close() error

	// AttachAdminRoutes attaches pod debugging endpoints to the given mux
	// under /debug/. These are reachable only over localhost/Tailscale.
	AttachAdminRoutes(*http.ServeMux)
}

// Link fans report lines from a single pod serial port out to subscribers
// and serialises command writes to the device.
type Link[T Porter] struct {
	port         T
	subscribers  map[string]chan string
	subscriberMu sync.Mutex
	commandMu    sync.Mutex
	closing      bool
	closingMu    sync.Mutex
}

// NewLink creates a Link backed by the given port.
func NewLink[T Porter](port T) *Link[T] {
	return &Link[T]{
		port:        port,
		subscribers: make(map[string]chan string),
	}
}

// randomID generates a subscriber ID (8 random bytes, hex encoded).
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (l *Link[T]) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string)
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	l.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the link.
func (l *Link[T]) Unsubscribe(id string) {
	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	if ch, ok := l.subscribers[id]; ok {
		close(ch)
		delete(l.subscribers, id)
	}
}

// Initialize configures the pod for daemon use: triggered single-shot
// measurement mode with echo widths reported in microseconds.
func (l *Link[T]) Initialize() error {
	for _, command := range []string{
		"M0", // single-shot mode: measure only on trigger
		"U0", // report echo widths in microseconds
	} {
		if err := l.SendCommand(command); err != nil {
			return fmt.Errorf("failed to send setup command %q: %w", command, err)
		}
	}
	return nil
}

// SendCommand sends one command line to the pod.
func (l *Link[T]) SendCommand(command string) error {
	l.commandMu.Lock()
	defer l.commandMu.Unlock()
	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}
	n, err := l.port.Write([]byte(command))
	if err != nil {
		return err
	}
	if n != len(command) {
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads report lines from the port and delivers them to subscribers
// until the context is cancelled or the port fails. A subscriber that cannot
// keep up misses lines rather than blocking the reader.
func (l *Link[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(l.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking scan.Scan runs in its own goroutine so the outer loop
	// can await lines and context cancellation together.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				if err := scan.Err(); err != nil {
					return err
				}
				return nil
			}
			l.closingMu.Lock()
			if l.closing {
				l.closingMu.Unlock()
				return nil
			}
			l.closingMu.Unlock()

			l.subscriberMu.Lock()
			for _, ch := range l.subscribers {
				select {
				case ch <- line:
				default:
					// subscriber busy; skip so the reader never blocks
				}
			}
			l.subscriberMu.Unlock()
		}
	}
}

func (l *Link[T]) Close() error {
	l.closingMu.Lock()
	l.closing = true
	l.closingMu.Unlock()

	l.subscriberMu.Lock()
	defer l.subscriberMu.Unlock()
	for id, ch := range l.subscribers {
		close(ch)
		delete(l.subscribers, id)
	}
	return l.port.Close()
}

func (l *Link[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	// API endpoint to write a command to the pod.
	debug.HandleSilentFunc("pod-command", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := l.SendCommand(command); err != nil {
			http.Error(w, "Failed to write command", http.StatusInternalServerError)
			return
		}
		io.WriteString(w, fmt.Sprintf("Wrote command %q to sensor pod", command))
	})

	// Server-Sent Events tail of the pod's report lines.
	debug.HandleSilentFunc("pod-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := l.Subscribe()
		defer l.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case payload, ok := <-c:
				if !ok {
					return
				}
				if _, err := w.Write([]byte(fmt.Sprintf("data: %s\n\n", payload))); err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}

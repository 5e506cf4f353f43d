package sensorlink

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

// MockPort implements Porter for demo runs without pod hardware. Reads come
// from a pipe fed by a synthetic emitter; command writes are accepted and
// discarded.
type MockPort struct {
	io.Reader
	done      chan struct{}
	closeOnce sync.Once
	pipeW     *io.PipeWriter
}

func (m *MockPort) Write(p []byte) (int, error) {
	return len(p), nil
}

// Close stops the emitter and unblocks any pending read.
func (m *MockPort) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		m.pipeW.Close()
	})
	return nil
}

// NewMockLink creates a Link backed by a synthetic pod that emits the given
// report line at the given period. The line should include its trailing
// newline. Trigger commands are accepted and ignored; the emitter free-runs.
func NewMockLink(mockLine []byte, period time.Duration) *Link[*MockPort] {
	r, w := io.Pipe()
	port := &MockPort{
		Reader: r,
		done:   make(chan struct{}),
		pipeW:  w,
	}

	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-port.done:
				return
			case <-ticker.C:
				if _, err := w.Write(mockLine); err != nil {
					return
				}
			}
		}
	}()

	return NewLink(port)
}

// TestablePort implements Porter with configurable behaviour for tests:
// scripted reads, captured writes, and injectable errors.
type TestablePort struct {
	mu sync.Mutex

	// ReadBuffer holds data returned by Read calls.
	ReadBuffer *bytes.Buffer

	// WriteBuffer captures data written to the port.
	WriteBuffer *bytes.Buffer

	// ReadError is returned by the next Read call if set.
	ReadError error

	// WriteError is returned by the next Write call if set.
	WriteError error

	// ShortWrite makes Write report one byte fewer than requested.
	ShortWrite bool

	// CloseError is returned by Close if set.
	CloseError error

	// Closed indicates whether Close was called.
	Closed bool

	// ReadCalls and WriteCalls record call counts.
	ReadCalls  int
	WriteCalls int

	// BlockReads causes Read to wait until data arrives or Close is called.
	BlockReads bool

	readCond *sync.Cond
}

// NewTestablePort creates a TestablePort with empty buffers.
func NewTestablePort() *TestablePort {
	p := &TestablePort{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

// Read returns scripted data, optionally blocking until some arrives.
func (p *TestablePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ReadCalls++

	if p.Closed {
		return 0, errors.New("sensor port closed")
	}

	if p.ReadError != nil {
		err := p.ReadError
		p.ReadError = nil
		return 0, err
	}

	if p.BlockReads && p.ReadBuffer.Len() == 0 {
		for !p.Closed && p.ReadBuffer.Len() == 0 {
			p.readCond.Wait()
		}
		if p.Closed {
			return 0, errors.New("sensor port closed")
		}
	}

	return p.ReadBuffer.Read(buf)
}

// Write captures written data, optionally simulating failures.
func (p *TestablePort) Write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.WriteCalls++

	if p.Closed {
		return 0, errors.New("sensor port closed")
	}

	if p.WriteError != nil {
		err := p.WriteError
		p.WriteError = nil
		return 0, err
	}

	n, err := p.WriteBuffer.Write(buf)
	if err == nil && p.ShortWrite && n > 0 {
		n--
	}
	return n, err
}

// Close marks the port closed and wakes any blocked reader.
func (p *TestablePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Closed = true
	p.readCond.Broadcast()

	return p.CloseError
}

// AddReadData appends data for subsequent Read calls and wakes a blocked
// reader.
func (p *TestablePort) AddReadData(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ReadBuffer.Write(data)
	p.readCond.Signal()
}

// WrittenData returns a copy of everything written to the port.
func (p *TestablePort) WrittenData() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.WriteBuffer.String()
}

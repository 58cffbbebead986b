package serialport

import (
	"context"
	"fmt"
	"sync"
	"time"

	serial "go.bug.st/serial"

	"github.com/eldaeon/sensorhub/internal/domain"
	"github.com/eldaeon/sensorhub/internal/ports"
)

// maxResponse bounds a quiet-framed read so a chattering device cannot grow
// the buffer forever.
const maxResponse = 4096

// Config captures the link settings and the read framing policy.
type Config struct {
	Baud      int           `yaml:"baud"`
	FirstByte time.Duration `yaml:"first_byte_timeout"`
	Gap       time.Duration `yaml:"inter_byte_gap"`
}

func (c *Config) ApplyDefaults() {
	if c.Baud <= 0 {
		c.Baud = 115200
	}
	if c.FirstByte <= 0 {
		c.FirstByte = 250 * time.Millisecond
	}
	if c.Gap <= 0 {
		c.Gap = 20 * time.Millisecond
	}
}

// Port is the part of serial.Port used by Conn.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
	Close() error
}

// Opener opens serial devices with a fixed Config.
type Opener struct {
	cfg  Config
	open func(path string, mode *serial.Mode) (serial.Port, error)
}

func NewOpener(cfg Config) *Opener {
	cfg.ApplyDefaults()
	return &Opener{cfg: cfg, open: serial.Open}
}

func (o *Opener) Open(path string) (ports.Conn, error) {
	p, err := o.open(path, &serial.Mode{BaudRate: o.cfg.Baud})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrDeviceDisconnected, path, err)
	}
	return NewConn(path, p, o.cfg), nil
}

// Conn runs request/response exchanges over one port. Responses carry no
// terminator; a quiet gap ends them.
type Conn struct {
	path string
	cfg  Config

	mu     sync.Mutex
	port   Port
	closed bool
}

func NewConn(path string, p Port, cfg Config) *Conn {
	cfg.ApplyDefaults()
	return &Conn{path: path, port: p, cfg: cfg}
}

func (c *Conn) Path() string { return c.path }

// Write clears stale input and sends cmd.
func (c *Conn) Write(ctx context.Context, cmd []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(ctx, cmd)
}

func (c *Conn) writeLocked(ctx context.Context, cmd []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed {
		return fmt.Errorf("%w: %s closed", domain.ErrDeviceDisconnected, c.path)
	}
	if err := c.port.ResetInputBuffer(); err != nil {
		return c.ioErr("reset input", err)
	}
	if _, err := c.port.Write(cmd); err != nil {
		return c.ioErr("write", err)
	}
	return nil
}

// Exchange sends cmd and reads one response framed by shape.
func (c *Conn) Exchange(ctx context.Context, cmd []byte, shape ports.ResponseShape) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeLocked(ctx, cmd); err != nil {
		return nil, err
	}
	if shape.Length > 0 {
		return c.readFixed(ctx, shape.Length)
	}
	return c.readQuiet(ctx)
}

// readFirst waits up to FirstByte for any bytes.
func (c *Conn) readFirst(ctx context.Context, buf []byte) (int, error) {
	deadline := time.Now().Add(c.cfg.FirstByte)
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		remain := time.Until(deadline)
		if remain <= 0 {
			return 0, fmt.Errorf("%w: no response from %s within %s", domain.ErrDeviceTimeout, c.path, c.cfg.FirstByte)
		}
		if err := c.port.SetReadTimeout(remain); err != nil {
			return 0, c.ioErr("set timeout", err)
		}
		n, err := c.port.Read(buf)
		if err != nil {
			return 0, c.ioErr("read", err)
		}
		if n > 0 {
			return n, nil
		}
	}
}

func (c *Conn) readQuiet(ctx context.Context) ([]byte, error) {
	buf := make([]byte, 256)
	n, err := c.readFirst(ctx, buf)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), buf[:n]...)

	if err := c.port.SetReadTimeout(c.cfg.Gap); err != nil {
		return nil, c.ioErr("set timeout", err)
	}
	for len(out) < maxResponse {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := c.port.Read(buf)
		if err != nil {
			return nil, c.ioErr("read", err)
		}
		if n == 0 {
			break
		}
		out = append(out, buf[:n]...)
	}
	return out, nil
}

func (c *Conn) readFixed(ctx context.Context, length int) ([]byte, error) {
	out := make([]byte, 0, length)
	buf := make([]byte, length)

	n, err := c.readFirst(ctx, buf)
	if err != nil {
		return nil, err
	}
	out = append(out, buf[:n]...)

	if err := c.port.SetReadTimeout(c.cfg.Gap); err != nil {
		return nil, c.ioErr("set timeout", err)
	}
	for len(out) < length {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := c.port.Read(buf[:length-len(out)])
		if err != nil {
			return nil, c.ioErr("read", err)
		}
		if n == 0 {
			return out, fmt.Errorf("%w: %s sent %d of %d bytes", domain.ErrDeviceMalformedResponse, c.path, len(out), length)
		}
		out = append(out, buf[:n]...)
	}
	return out[:length], nil
}

func (c *Conn) ioErr(op string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", domain.ErrDeviceDisconnected, op, c.path, err)
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.port.Close()
}

var (
	_ ports.Conn   = (*Conn)(nil)
	_ ports.Opener = (*Opener)(nil)
)

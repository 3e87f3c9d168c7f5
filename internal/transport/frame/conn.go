package frame

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/op/go-logging"
)

var log = logging.MustGetLogger("frame")

const (
	DefaultMaxFrame     = 1 << 20
	DefaultWriteTimeout = 5 * time.Second
)

var ErrFrameTooLarge = errors.New("frame: message too large")

// Conn carries length-prefixed JSON messages: a little-endian u32 byte count, then the body.
type Conn struct {
	c        net.Conn
	r        *bufio.Reader
	maxFrame int

	wmu sync.Mutex
}

func NewConn(c net.Conn, maxFrame int) *Conn {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &Conn{c: c, r: bufio.NewReaderSize(c, 16*1024), maxFrame: maxFrame}
}

// Dial connects to addr, retrying every retry until ctx is done.
func Dial(ctx context.Context, addr string, retry time.Duration, maxFrame int) (*Conn, error) {
	var d net.Dialer
	for {
		c, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			return NewConn(c, maxFrame), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warningf("connect %s: %v (retry in %s)", addr, err, retry)
		t := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// ReadMessage blocks for the next frame body. Cancelling ctx unblocks the read.
func (c *Conn) ReadMessage(ctx context.Context) ([]byte, error) {
	var deadline time.Time
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	_ = c.c.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = c.c.SetReadDeadline(time.Now()) })
	defer stop()

	var hdr [4]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return nil, c.ctxErr(ctx, err)
	}
	n := binary.LittleEndian.Uint32(hdr[:])
	if int64(n) > int64(c.maxFrame) {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return nil, c.ctxErr(ctx, err)
	}
	return body, nil
}

// WriteMessage marshals v and writes it as one frame.
func (c *Conn) WriteMessage(ctx context.Context, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteFrame(ctx, body)
}

func (c *Conn) WriteFrame(ctx context.Context, body []byte) error {
	if len(body) > c.maxFrame {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	buf := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)

	c.wmu.Lock()
	defer c.wmu.Unlock()
	deadline := time.Now().Add(DefaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.c.SetWriteDeadline(deadline)
	if _, err := c.c.Write(buf); err != nil {
		return c.ctxErr(ctx, err)
	}
	return nil
}

func (c *Conn) Close() error { return c.c.Close() }

func (c *Conn) RemoteAddr() net.Addr { return c.c.RemoteAddr() }

func (c *Conn) ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

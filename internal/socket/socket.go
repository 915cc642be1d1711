// Package socket wraps an accepted connection as a movable handle that a
// sockthread worker can poll, answer and eventually close.
package socket

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrFrameTooLarge is returned by Poll when a partial frame exceeds the limit.
	ErrFrameTooLarge = errors.New("socket: frame too large")

	// ErrClosed is returned by Poll and Send after Close.
	ErrClosed = errors.New("socket: closed")
)

const (
	defaultReadBuffer   = 4096
	defaultMaxFrame     = 64 << 10
	defaultWriteTimeout = 2 * time.Second
)

// Options tunes a Socket. Zero values select defaults.
type Options struct {
	ReadBuffer   int           // bytes read per Poll
	MaxFrame     int           // max bytes in a single newline-terminated frame
	WriteTimeout time.Duration // deadline applied to each Send
}

// Stats is a snapshot of per-socket counters.
type Stats struct {
	BytesIn    int64
	BytesOut   int64
	Frames     int64
	OpenedAt   time.Time
	LastActive time.Time
}

// Socket is a connection handle owned by exactly one holder at a time:
// the worker queue or the callback processing it. Only Stats, Name and
// Close may be called from other goroutines.
type Socket struct {
	id     string
	conn   net.Conn
	peer   string
	ip     string
	opts   Options
	rbuf   []byte
	frame  []byte // bytes of the current incomplete frame
	closeO sync.Once

	mu         sync.Mutex // guards the fields below for cross-goroutine readers
	name       string
	bytesIn    int64
	bytesOut   int64
	frames     int64
	openedAt   time.Time
	lastActive time.Time
	closed     bool
}

// New wraps conn with a fresh UUIDv7 identifier.
func New(conn net.Conn, opts Options) *Socket {
	if opts.ReadBuffer <= 0 {
		opts.ReadBuffer = defaultReadBuffer
	}
	if opts.MaxFrame <= 0 {
		opts.MaxFrame = defaultMaxFrame
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	now := time.Now()
	peer := conn.RemoteAddr().String()
	ip := peer
	if host, _, err := net.SplitHostPort(peer); err == nil {
		ip = host
	}

	return &Socket{
		id:         uuid.Must(uuid.NewV7()).String(),
		conn:       conn,
		peer:       peer,
		ip:         ip,
		opts:       opts,
		rbuf:       make([]byte, opts.ReadBuffer),
		openedAt:   now,
		lastActive: now,
	}
}

// ID returns the session identifier.
func (s *Socket) ID() string { return s.id }

// Peer returns the remote address as host:port.
func (s *Socket) Peer() string { return s.peer }

// RemoteIP returns the remote host without port.
func (s *Socket) RemoteIP() string { return s.ip }

// Name returns the client-announced name, if any.
func (s *Socket) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// SetName records the client-announced name.
func (s *Socket) SetName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

// Poll performs one read bounded by timeout and returns every complete
// frame received so far, without the trailing newline. A deadline expiry
// is not an error. Frames already complete are returned alongside any
// read error, including io.EOF.
func (s *Socket) Poll(timeout time.Duration) ([][]byte, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	n, err := s.conn.Read(s.rbuf)
	var (
		frames  [][]byte
		tooLong error
	)
	if n > 0 {
		frames, tooLong = s.split(s.rbuf[:n])
		s.mu.Lock()
		s.bytesIn += int64(n)
		s.frames += int64(len(frames))
		s.lastActive = time.Now()
		s.mu.Unlock()
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		err = nil
	}
	if tooLong != nil {
		err = tooLong
	}
	return frames, err
}

// split appends data to the pending frame and cuts out complete frames.
// It stops at the first frame longer than MaxFrame, complete or not, and
// returns the frames cut before it with ErrFrameTooLarge.
func (s *Socket) split(data []byte) ([][]byte, error) {
	var frames [][]byte
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			// one extra byte leaves room for the CR of a CRLF terminator
			if len(s.frame)+len(data) > s.opts.MaxFrame+1 {
				s.frame = nil
				return frames, ErrFrameTooLarge
			}
			s.frame = append(s.frame, data...)
			break
		}
		line := append(s.frame, data[:i]...)
		s.frame = nil
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(line) > s.opts.MaxFrame {
			return frames, ErrFrameTooLarge
		}
		if len(line) > 0 {
			frames = append(frames, line)
		}
		data = data[i+1:]
	}
	return frames, nil
}

// Send writes p followed by a newline under the configured write deadline.
func (s *Socket) Send(p []byte) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil {
		return err
	}
	buf := make([]byte, 0, len(p)+1)
	buf = append(append(buf, p...), '\n')
	n, err := s.conn.Write(buf)

	s.mu.Lock()
	s.bytesOut += int64(n)
	s.mu.Unlock()
	return err
}

// Idle returns the time since the last received byte.
func (s *Socket) Idle(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActive)
}

// Stats returns a snapshot of the counters.
func (s *Socket) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		BytesIn:    s.bytesIn,
		BytesOut:   s.bytesOut,
		Frames:     s.frames,
		OpenedAt:   s.openedAt,
		LastActive: s.lastActive,
	}
}

// Close closes the underlying connection. Safe to call more than once.
func (s *Socket) Close() error {
	var err error
	s.closeO.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *Socket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

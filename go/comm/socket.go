package comm

import (
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	dialTimeout = 30 * time.Second
	sendBuffer  = 50 << 20

	abortedRetryWait = 3 * time.Second
)

// SynchroSocket ships newline-framed payloads to the downstream
// aggregator. The connection is opened lazily, used for one payload, and
// closed on success; the aggregator expects one frame per connection.
// Payloads must not contain raw newline bytes.
type SynchroSocket struct {
	addr string

	mu   sync.Mutex
	conn net.Conn

	// sleep is overridable in tests.
	sleep func(time.Duration)
}

// NewSynchroSocket returns a sender for the given aggregator address.
func NewSynchroSocket(addr string) *SynchroSocket {
	return &SynchroSocket{addr: addr, sleep: time.Sleep}
}

// Send delivers payload followed by a newline, retrying aborted
// connections after a short sleep. Any other failure closes the socket and
// propagates.
func (s *SynchroSocket) Send(payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if err := s.connectLocked(); err != nil {
			if isAborted(err) {
				log.WithField("err", err).Warn("aggregator refused connection, retrying")
				s.sleep(abortedRetryWait)
				continue
			}
			return err
		}

		var frame = make([]byte, 0, len(payload)+1)
		frame = append(frame, payload...)
		frame = append(frame, '\n')

		_ = s.conn.SetWriteDeadline(time.Now().Add(dialTimeout))
		var _, err = s.conn.Write(frame)
		if err == nil {
			// Reset after use: the aggregator reads one frame per connection.
			s.closeLocked()
			return nil
		}

		s.closeLocked()
		if isAborted(err) {
			log.WithField("err", err).Warn("connection aborted mid-send, retrying")
			s.sleep(abortedRetryWait)
			continue
		}
		return errors.Wrapf(err, "sending %d bytes to %s", len(payload), s.addr)
	}
}

// Close drops any open connection.
func (s *SynchroSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *SynchroSocket) connectLocked() error {
	if s.conn != nil {
		return nil
	}
	var conn, err = net.DialTimeout("tcp", s.addr, dialTimeout)
	if err != nil {
		return errors.Wrapf(err, "connecting to aggregator at %s", s.addr)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetWriteBuffer(sendBuffer)
	}
	s.conn = conn
	return nil
}

func (s *SynchroSocket) closeLocked() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

func isAborted(err error) bool {
	return errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.ECONNRESET)
}

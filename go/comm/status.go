package comm

import (
	"bufio"
	"encoding/json"
	"net"

	"github.com/Gawain27/PubScraper/go/message"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// statusFrame is one newline-framed JSON report from the aggregator.
type statusFrame struct {
	CPULoad  float64 `json:"cpu_load"`
	DBLoad   float64 `json:"db_load"`
	Keepdown bool    `json:"keepdown"`
}

// StatusListener accepts connections from the downstream aggregator on the
// status port and turns each newline-framed JSON report into a StatusReq
// system message.
type StatusListener struct {
	lis      net.Listener
	bus      message.Bus
	messages *message.Factory
}

// NewStatusListener binds the listener on addr.
func NewStatusListener(addr string, bus message.Bus, messages *message.Factory) (*StatusListener, error) {
	var lis, err = net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "binding status listener on %s", addr)
	}
	return &StatusListener{lis: lis, bus: bus, messages: messages}, nil
}

// Addr returns the bound address.
func (l *StatusListener) Addr() net.Addr { return l.lis.Addr() }

// Serve accepts and serves connections until Close.
func (l *StatusListener) Serve() {
	for {
		var conn, err = l.lis.Accept()
		if err != nil {
			log.WithField("err", err).Info("status listener stopped")
			return
		}
		go l.serveConn(conn)
	}
}

func (l *StatusListener) serveConn(conn net.Conn) {
	defer conn.Close()

	var scanner = bufio.NewScanner(conn)
	for scanner.Scan() {
		var frame statusFrame
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			log.WithFields(log.Fields{
				"peer": conn.RemoteAddr().String(),
				"err":  err,
			}).Warn("discarding malformed status frame")
			continue
		}
		l.bus.Send(NewStatusReq(l.messages, frame.CPULoad, frame.DBLoad, frame.Keepdown),
			message.PrioSystemReq, 0, 0)
	}
}

// Close stops accepting connections.
func (l *StatusListener) Close() error { return l.lis.Close() }

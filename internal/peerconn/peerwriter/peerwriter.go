package peerwriter

import (
	"bytes"
	"container/list"
	"net"
	"time"

	"github.com/cenkalti/peerwire/internal/logger"
	"github.com/cenkalti/peerwire/internal/peerprotocol"
	"github.com/juju/ratelimit"
	"github.com/rcrowley/go-metrics"
)

// Metrics updated by the PeerWriter.
type Metrics struct {
	MessagesSent metrics.Counter
	BytesSent    metrics.Meter
}

// PeerWriter queues messages and writes them to the connection in order.
// A keep-alive is written when the connection is idle.
type PeerWriter struct {
	conn            net.Conn
	queueC          chan peerprotocol.Message
	writeQueue      *list.List
	writeC          chan peerprotocol.Message
	keepAlivePeriod time.Duration
	bucket          *ratelimit.Bucket
	metrics         Metrics
	log             logger.Logger
	stopC           chan struct{}
	doneC           chan struct{}
}

// New returns a new PeerWriter. b may be nil for unlimited upload speed.
func New(conn net.Conn, l logger.Logger, keepAlivePeriod time.Duration, b *ratelimit.Bucket, m Metrics) *PeerWriter {
	return &PeerWriter{
		conn:            conn,
		queueC:          make(chan peerprotocol.Message),
		writeQueue:      list.New(),
		writeC:          make(chan peerprotocol.Message),
		keepAlivePeriod: keepAlivePeriod,
		bucket:          b,
		metrics:         m,
		log:             l,
		stopC:           make(chan struct{}),
		doneC:           make(chan struct{}),
	}
}

// SendMessage queues msg for sending. Does not block after the writer is stopped.
func (p *PeerWriter) SendMessage(msg peerprotocol.Message) {
	select {
	case p.queueC <- msg:
	case <-p.doneC:
	}
}

// Stop the writer.
func (p *PeerWriter) Stop() {
	close(p.stopC)
}

// Done is closed when Run returns.
func (p *PeerWriter) Done() chan struct{} {
	return p.doneC
}

// Run starts the queue. Messages are written by another goroutine so that queueing never blocks on the network.
func (p *PeerWriter) Run() {
	defer close(p.doneC)

	writerDone := make(chan struct{})
	go p.messageWriter(writerDone)

	for {
		var (
			e      *list.Element
			msg    peerprotocol.Message
			writeC chan peerprotocol.Message
		)
		if p.writeQueue.Len() > 0 {
			e = p.writeQueue.Front()
			msg = e.Value.(peerprotocol.Message)
			writeC = p.writeC
		}
		select {
		case msg = <-p.queueC:
			p.writeQueue.PushBack(msg)
		case writeC <- msg:
			p.writeQueue.Remove(e)
		case <-writerDone:
			return
		case <-p.stopC:
			<-writerDone
			return
		}
	}
}

func (p *PeerWriter) messageWriter(done chan struct{}) {
	defer close(done)

	// Disable write deadline that is previously set by handshaker.
	err := p.conn.SetWriteDeadline(time.Time{})
	if err != nil {
		p.log.Error(err)
		return
	}

	keepAliveTicker := time.NewTicker(p.keepAlivePeriod / 2)
	defer keepAliveTicker.Stop()

	var buf bytes.Buffer
	for {
		buf.Reset()
		select {
		case msg := <-p.writeC:
			err = peerprotocol.EncodeMessage(&buf, msg)
			if err != nil {
				// Nothing is written for this message, stream is still in sync.
				p.log.Errorf("cannot encode message [%v]: %s", msg.ID, err.Error())
				continue
			}
			if !p.write(buf.Bytes(), msg.ID.String()) {
				return
			}
			p.metrics.MessagesSent.Inc(1)
		case <-keepAliveTicker.C:
			peerprotocol.EncodeKeepAlive(&buf)
			if !p.write(buf.Bytes(), "keepalive") {
				return
			}
		case <-p.stopC:
			return
		}
	}
}

func (p *PeerWriter) write(b []byte, name string) bool {
	if p.bucket != nil {
		d := p.bucket.Take(int64(len(b)))
		if d > 0 {
			select {
			case <-time.After(d):
			case <-p.stopC:
				return false
			}
		}
	}
	n, err := p.conn.Write(b)
	p.metrics.BytesSent.Mark(int64(n))
	if _, ok := err.(*net.OpError); ok {
		p.log.Debugf("cannot write %s message: %s", name, err.Error())
		return false
	}
	if err != nil {
		p.log.Errorf("cannot write %s message: %s", name, err.Error())
		return false
	}
	return true
}

package peerconn

import (
	"net"
	"time"

	"github.com/cenkalti/peerwire/internal/logger"
	"github.com/cenkalti/peerwire/internal/peerconn/peerreader"
	"github.com/cenkalti/peerwire/internal/peerconn/peerwriter"
	"github.com/cenkalti/peerwire/internal/peerprotocol"
	"github.com/juju/ratelimit"
	"github.com/rcrowley/go-metrics"
)

// Options for a peer connection.
type Options struct {
	// Time to wait for a read. Peers must send keep-alive messages to keep the connection alive.
	ReadTimeout time.Duration
	// Keep-alive is sent at half of this period.
	KeepAlivePeriod time.Duration
	// Size of a single read from the socket.
	ReadBufferSize int
	// Buckets for limiting the speed. nil means unlimited.
	DownloadBucket, UploadBucket *ratelimit.Bucket
}

// DefaultOptions are used for zero fields in Options.
var DefaultOptions = Options{
	ReadTimeout:     2 * time.Minute,
	KeepAlivePeriod: 2 * time.Minute,
	ReadBufferSize:  32 * 1024,
}

// Conn is a peer connection that provides a channel for receiving messages and methods for sending messages.
type Conn struct {
	conn     net.Conn
	reader   *peerreader.PeerReader
	writer   *peerwriter.PeerWriter
	metrics  *connMetrics
	messages chan interface{}
	log      logger.Logger
	closeC   chan struct{}
	doneC    chan struct{}
}

type connMetrics struct {
	registry metrics.Registry

	MessagesReceived metrics.Counter
	MessagesSent     metrics.Counter
	ExtensionErrors  metrics.Counter
	BytesReceived    metrics.Meter
	BytesSent        metrics.Meter
}

func newMetrics() *connMetrics {
	r := metrics.NewRegistry()
	return &connMetrics{
		registry:         r,
		MessagesReceived: metrics.NewRegisteredCounter("messages_received", r),
		MessagesSent:     metrics.NewRegisteredCounter("messages_sent", r),
		ExtensionErrors:  metrics.NewRegisteredCounter("extension_errors", r),
		BytesReceived:    metrics.NewRegisteredMeter("bytes_received", r),
		BytesSent:        metrics.NewRegisteredMeter("bytes_sent", r),
	}
}

func (m *connMetrics) Close() {
	m.BytesReceived.Stop()
	m.BytesSent.Stop()
}

// New returns a new Conn by wrapping a net.Conn on which the BitTorrent handshake is already done.
func New(conn net.Conn, l logger.Logger, o Options) *Conn {
	if o.ReadTimeout == 0 {
		o.ReadTimeout = DefaultOptions.ReadTimeout
	}
	if o.KeepAlivePeriod == 0 {
		o.KeepAlivePeriod = DefaultOptions.KeepAlivePeriod
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = DefaultOptions.ReadBufferSize
	}
	m := newMetrics()
	return &Conn{
		conn: conn,
		reader: peerreader.New(conn, l, o.ReadTimeout, o.ReadBufferSize, o.DownloadBucket, peerreader.Metrics{
			MessagesReceived: m.MessagesReceived,
			BytesReceived:    m.BytesReceived,
			ExtensionErrors:  m.ExtensionErrors,
		}),
		writer: peerwriter.New(conn, l, o.KeepAlivePeriod, o.UploadBucket, peerwriter.Metrics{
			MessagesSent: m.MessagesSent,
			BytesSent:    m.BytesSent,
		}),
		metrics:  m,
		messages: make(chan interface{}),
		log:      l,
		closeC:   make(chan struct{}),
		doneC:    make(chan struct{}),
	}
}

// String returns the remote address as string.
func (p *Conn) String() string {
	return p.conn.RemoteAddr().String()
}

// Close stops receiving and sending messages and closes underlying net.Conn.
func (p *Conn) Close() {
	close(p.closeC)
	<-p.doneC
}

// Done is closed after the connection is closed.
func (p *Conn) Done() <-chan struct{} {
	return p.doneC
}

// Err waits until the connection is closed and returns the framing error
// that caused it to close, if the peer sent a stream that cannot be framed.
func (p *Conn) Err() error {
	<-p.doneC
	err := p.reader.Err()
	if err == nil || !peerprotocol.IsFatal(err) {
		return nil
	}
	return err
}

// Logger for the peer that logs messages prefixed with peer address.
func (p *Conn) Logger() logger.Logger {
	return p.log
}

// Metrics returns the registry of connection metrics.
func (p *Conn) Metrics() metrics.Registry {
	return p.metrics.registry
}

// Messages received from the peer will be sent to the channel returned.
// The channel and underlying net.Conn will be closed if any error occurs while receiving or sending.
func (p *Conn) Messages() <-chan interface{} {
	return p.messages
}

// SendMessage queues a message for sending. Does not block.
func (p *Conn) SendMessage(msg peerprotocol.Message) {
	p.writer.SendMessage(msg)
}

// Run starts receiving messages from peer and starts sending queued messages.
// If any error happens during receiving or sending messages,
// the connection and the underlying net.Conn will be closed.
func (p *Conn) Run() {
	defer close(p.doneC)
	defer close(p.messages)
	defer p.metrics.Close()

	p.log.Debugln("Communicating peer", p.conn.RemoteAddr())

	go p.reader.Run()
	defer func() { <-p.reader.Done() }()

	go p.writer.Run()
	defer func() { <-p.writer.Done() }()

	defer p.conn.Close()
	for {
		select {
		case msg := <-p.reader.Messages():
			select {
			case p.messages <- msg:
			case <-p.closeC:
				p.reader.Stop()
				p.writer.Stop()
				return
			}
		case <-p.closeC:
			p.reader.Stop()
			p.writer.Stop()
			return
		case <-p.reader.Done():
			p.writer.Stop()
			return
		case <-p.writer.Done():
			p.reader.Stop()
			return
		}
	}
}

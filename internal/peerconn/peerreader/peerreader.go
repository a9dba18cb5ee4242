package peerreader

import (
	"bytes"
	"errors"
	"io"
	"net"
	"time"

	"github.com/cenkalti/peerwire/internal/logger"
	"github.com/cenkalti/peerwire/internal/peerprotocol"
	"github.com/juju/ratelimit"
	"github.com/rcrowley/go-metrics"
)

// Metrics updated by the PeerReader.
type Metrics struct {
	MessagesReceived metrics.Counter
	BytesReceived    metrics.Meter
	ExtensionErrors  metrics.Counter
}

// PeerReader reads frames from a connection and sends decoded messages to a channel.
//
// Values sent to the channel are one of:
//   - peerprotocol.Message
//   - peerprotocol.ExtensionHandshakeMessage
//   - peerprotocol.ExtensionMetadataPayload
type PeerReader struct {
	conn        net.Conn
	log         logger.Logger
	readTimeout time.Duration
	bucket      *ratelimit.Bucket
	metrics     Metrics
	// buf holds the bytes received but not decoded yet. Only Run goroutine touches it.
	buf      bytes.Buffer
	chunk    []byte
	readErr  error
	err      error
	messages chan interface{}
	stopC    chan struct{}
	doneC    chan struct{}
}

// New returns a new PeerReader. b may be nil for unlimited download speed.
func New(conn net.Conn, l logger.Logger, readTimeout time.Duration, readBufferSize int, b *ratelimit.Bucket, m Metrics) *PeerReader {
	return &PeerReader{
		conn:        conn,
		log:         l,
		readTimeout: readTimeout,
		bucket:      b,
		metrics:     m,
		chunk:       make([]byte, readBufferSize),
		messages:    make(chan interface{}),
		stopC:       make(chan struct{}),
		doneC:       make(chan struct{}),
	}
}

// Messages returns the channel that decoded messages are sent to.
func (p *PeerReader) Messages() <-chan interface{} {
	return p.messages
}

// Stop the reader. Run returns after the current read finishes.
func (p *PeerReader) Stop() {
	close(p.stopC)
}

// Done is closed when Run returns.
func (p *PeerReader) Done() chan struct{} {
	return p.doneC
}

// Err returns the error that caused the reader to stop.
// Must be called after Done is closed.
func (p *PeerReader) Err() error {
	return p.err
}

// Run reads from the connection until an error occurs or the reader is stopped.
func (p *PeerReader) Run() {
	defer close(p.doneC)

	var err error
	defer func() {
		p.err = err
		if err == nil || isClosed(err) {
			return
		}
		select {
		case <-p.stopC: // don't log error if peer is stopped
		default:
			p.log.Error(err)
		}
	}()

	for {
		var msg peerprotocol.Message
		var ok bool
		msg, ok, err = peerprotocol.DecodeMessage(&p.buf)
		if err != nil {
			return
		}
		if !ok {
			err = p.fill()
			if err != nil {
				return
			}
			continue
		}
		p.metrics.MessagesReceived.Inc(1)
		out, perr := p.parse(msg)
		if perr != nil {
			// Only this message is discarded. Framing is not affected.
			p.metrics.ExtensionErrors.Inc(1)
			p.log.Debugf("cannot parse %s message: %s", msg.ID, perr)
			continue
		}
		select {
		case p.messages <- out:
		case <-p.stopC:
			return
		}
	}
}

// fill reads once from the connection and appends the bytes to the buffer.
func (p *PeerReader) fill() error {
	if p.readErr != nil {
		return p.readErr
	}
	err := p.conn.SetReadDeadline(time.Now().Add(p.readTimeout))
	if err != nil {
		return err
	}
	n, err := p.conn.Read(p.chunk)
	if n == 0 {
		if err == nil {
			err = io.ErrNoProgress
		}
		return err
	}
	// Bytes read before the error must be decoded first.
	p.readErr = err
	p.buf.Write(p.chunk[:n])
	p.metrics.BytesReceived.Mark(int64(n))
	if p.bucket != nil {
		d := p.bucket.Take(int64(n))
		if d > 0 {
			select {
			case <-time.After(d):
			case <-p.stopC:
				return errStoppedWhileWaitingBucket
			}
		}
	}
	return nil
}

func (p *PeerReader) parse(msg peerprotocol.Message) (interface{}, error) {
	if msg.ID != peerprotocol.Extension {
		return msg, nil
	}
	var em peerprotocol.ExtensionMessage
	err := em.UnmarshalBinary(msg.Payload)
	if err != nil {
		return nil, err
	}
	switch em.ExtendedMessageID {
	case peerprotocol.ExtensionIDHandshake:
		var hs peerprotocol.ExtensionHandshakeMessage
		err = hs.UnmarshalBinary(em.Payload)
		return hs, err
	case peerprotocol.ExtensionIDMetadata:
		var mp peerprotocol.ExtensionMetadataPayload
		err = mp.UnmarshalBinary(msg.Payload)
		return mp, err
	default:
		p.log.Debugf("unhandled extension message id: %d", em.ExtendedMessageID)
		return msg, nil
	}
}

func isClosed(err error) bool {
	var opErr *net.OpError
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, errStoppedWhileWaitingBucket) ||
		errors.As(err, &opErr)
}

var errStoppedWhileWaitingBucket = errors.New("peer reader stopped while waiting for bucket")

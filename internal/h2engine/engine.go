// Package h2engine drives a single raw HTTP/2 connection well enough
// to run a timeless timing attack: it sends two HEADERS frames back to
// back in one flush and times the arrival of each response's HEADERS
// frame, which golang.org/x/net/http2's higher-level Transport/
// ClientConn.RoundTrip cannot expose. The protocol bookkeeping (frame
// types, SETTINGS ack, flow-control acknowledgement) is handled with
// http2.Framer and hpack.Encoder/Decoder directly.
package h2engine

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/mgolinelli/wcdscan/internal/request"
	"github.com/mgolinelli/wcdscan/internal/xerrors"
)

// Sample is the outcome of one request pair fired on a single
// connection: the signed arrival-order delta between the two
// responses' HEADERS frames, in milliseconds, plus each side's status,
// headers and body.
type Sample struct {
	TimeDiffMs float64
	Status1    int
	Status2    int
	Headers1   map[string]string
	Headers2   map[string]string
	Body1      []byte
	Body2      []byte
}

// Redirect1 reports whether the first response in the pair is a
// 3xx redirect (the round must be aborted and the redirect followed).
func (s *Sample) Redirect1() bool {
	return s.Status1 >= 300 && s.Status1 < 400
}

type streamState struct {
	headers   map[string]string
	body      bytes.Buffer
	done      bool
	arrivedAt time.Time
}

// Conn is one TLS+HTTP/2 connection opened for timing measurements.
// It is not safe for concurrent use by multiple goroutines: a timeless
// timing attack needs exactly one connection serializing its pairs so
// that frame interleaving stays predictable.
type Conn struct {
	authority string
	netConn   net.Conn
	tlsConn   *tls.Conn
	bw        *bufio.Writer
	framer    *http2.Framer
	enc       *hpack.Encoder
	encBuf    bytes.Buffer
	dec       *hpack.Decoder

	nextStream  uint32
	streams     map[uint32]*streamState
	maxFrameLen uint32
}

// Dial opens a TLS connection to authority (host:port), negotiates
// HTTP/2 via ALPN, sends the client preface and an initial SETTINGS
// frame, and waits for the server's SETTINGS frame.
func Dial(authority string, connectTimeout time.Duration, skipVerify bool) (*Conn, error) {
	host, _, err := net.SplitHostPort(authority)
	if err != nil {
		host = authority
	}

	dialer := &net.Dialer{Timeout: connectTimeout}
	netConn, err := dialer.Dial("tcp", authority)
	if err != nil {
		return nil, xerrors.ClassifyAndWrap(fmt.Errorf("dial %s: %w", authority, err), "dialing connection")
	}

	tlsConfig := &tls.Config{
		ServerName:         host,
		NextProtos:         []string{"h2"},
		InsecureSkipVerify: skipVerify,
	}
	tlsConn := tls.Client(netConn, tlsConfig)
	tlsConn.SetDeadline(time.Now().Add(connectTimeout))
	if err := tlsConn.Handshake(); err != nil {
		netConn.Close()
		return nil, xerrors.NewClassifiedError(xerrors.ErrorTypeTLS, err, "tls handshake failed")
	}
	tlsConn.SetDeadline(time.Time{})

	if tlsConn.ConnectionState().NegotiatedProtocol != "h2" {
		tlsConn.Close()
		return nil, xerrors.NewClassifiedError(xerrors.ErrorTypeProtocol, nil, "server did not negotiate h2 over ALPN")
	}

	if _, err := tlsConn.Write([]byte(http2.ClientPreface)); err != nil {
		tlsConn.Close()
		return nil, xerrors.ClassifyAndWrap(err, "writing client preface")
	}

	// Frames are staged in a buffered writer and flushed explicitly, so
	// the two HEADERS frames of a pair leave in one write.
	bw := bufio.NewWriter(tlsConn)
	framer := http2.NewFramer(bw, tlsConn)

	c := &Conn{
		authority:   authority,
		netConn:     netConn,
		tlsConn:     tlsConn,
		bw:          bw,
		framer:      framer,
		streams:     make(map[uint32]*streamState),
		nextStream:  1,
		maxFrameLen: 16384,
	}
	c.enc = hpack.NewEncoder(&c.encBuf)
	c.dec = hpack.NewDecoder(4096, nil)

	if err := framer.WriteSettings(); err != nil {
		c.Close()
		return nil, xerrors.ClassifyAndWrap(err, "writing initial settings frame")
	}
	if err := bw.Flush(); err != nil {
		c.Close()
		return nil, xerrors.ClassifyAndWrap(err, "flushing initial settings frame")
	}

	if err := c.awaitServerSettings(connectTimeout); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

func (c *Conn) awaitServerSettings(timeout time.Duration) error {
	c.tlsConn.SetReadDeadline(time.Now().Add(timeout))
	defer c.tlsConn.SetReadDeadline(time.Time{})

	for {
		fr, err := c.framer.ReadFrame()
		if err != nil {
			return xerrors.NewClassifiedError(xerrors.ErrorTypeProtocol, err, "reading initial settings frame")
		}
		switch f := fr.(type) {
		case *http2.SettingsFrame:
			if f.IsAck() {
				continue
			}
			c.applySettings(f)
			if err := c.framer.WriteSettingsAck(); err != nil {
				return xerrors.ClassifyAndWrap(err, "acknowledging server settings")
			}
			if err := c.bw.Flush(); err != nil {
				return xerrors.ClassifyAndWrap(err, "flushing settings ack")
			}
			return nil
		case *http2.PingFrame:
			continue
		default:
			continue
		}
	}
}

// Close tears down the connection. The server is not told about it
// via GOAWAY; a timing session is short-lived and disposable.
func (c *Conn) Close() error {
	if c.tlsConn != nil {
		return c.tlsConn.Close()
	}
	return nil
}

func (c *Conn) applySettings(f *http2.SettingsFrame) {
	if v, ok := f.Value(http2.SettingMaxFrameSize); ok {
		c.maxFrameLen = v
	}
}

func (c *Conn) encodeHeaders(req *request.Request) ([]byte, error) {
	c.encBuf.Reset()
	for _, h := range req.WireHeaders() {
		if err := c.enc.WriteField(hpack.HeaderField{Name: h.Name, Value: h.Value}); err != nil {
			return nil, err
		}
	}
	out := make([]byte, c.encBuf.Len())
	copy(out, c.encBuf.Bytes())
	return out, nil
}

func (c *Conn) allocStream() uint32 {
	id := c.nextStream
	c.nextStream += 2
	return id
}

// SendPair writes req1 then req2 as two HEADERS frames in immediate
// succession (no data in between, so the kernel/NIC see them as one
// write whenever possible) and blocks until both streams have ended
// (END_STREAM or RST_STREAM) or roundTimeout elapses, collecting the
// bodies on the way. The time delta is taken from the moment each
// response's :status header was decoded, not from the end of stream.
func (c *Conn) SendPair(req1, req2 *request.Request, roundTimeout time.Duration) (*Sample, error) {
	id1 := c.allocStream()
	id2 := c.allocStream()

	block1, err := c.encodeHeaders(req1)
	if err != nil {
		return nil, xerrors.ClassifyAndWrap(err, "encoding first request headers")
	}
	block2, err := c.encodeHeaders(req2)
	if err != nil {
		return nil, xerrors.ClassifyAndWrap(err, "encoding second request headers")
	}

	// Each block must fit in a single HEADERS frame: a CONTINUATION
	// between the two requests would break the back-to-back flush the
	// measurement depends on.
	if uint32(len(block1)) > c.maxFrameLen || uint32(len(block2)) > c.maxFrameLen {
		return nil, xerrors.NewClassifiedError(xerrors.ErrorTypeProtocol, nil, "encoded header block exceeds the server's max frame size")
	}

	c.streams[id1] = &streamState{headers: map[string]string{}}
	c.streams[id2] = &streamState{headers: map[string]string{}}

	if err := c.framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      id1,
		BlockFragment: block1,
		EndStream:     true,
		EndHeaders:    true,
	}); err != nil {
		return nil, xerrors.ClassifyAndWrap(err, "writing first headers frame")
	}
	if err := c.framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      id2,
		BlockFragment: block2,
		EndStream:     true,
		EndHeaders:    true,
	}); err != nil {
		return nil, xerrors.ClassifyAndWrap(err, "writing second headers frame")
	}
	// Flush once so both frames leave together.
	if err := c.bw.Flush(); err != nil {
		return nil, xerrors.ClassifyAndWrap(err, "flushing request pair")
	}

	deadline := time.Now().Add(roundTimeout)
	c.tlsConn.SetReadDeadline(deadline)
	defer c.tlsConn.SetReadDeadline(time.Time{})

	for {
		s1, s2 := c.streams[id1], c.streams[id2]
		if s1.done && s2.done {
			break
		}

		fr, err := c.framer.ReadFrame()
		if err != nil {
			if err == io.EOF {
				return nil, xerrors.NewClassifiedError(xerrors.ErrorTypeNetwork, err, "connection closed mid-round")
			}
			return nil, xerrors.NewClassifiedError(xerrors.ErrorTypeTimeout, err, "round timed out waiting for responses")
		}

		if err := c.handleFrame(fr); err != nil {
			return nil, err
		}

		if s1.headers[":status"] != "" && s1.arrivedAt.IsZero() {
			s1.arrivedAt = time.Now()
		}
		if s2.headers[":status"] != "" && s2.arrivedAt.IsZero() {
			s2.arrivedAt = time.Now()
		}
	}

	s1, s2 := c.streams[id1], c.streams[id2]
	delete(c.streams, id1)
	delete(c.streams, id2)

	if s1.arrivedAt.IsZero() || s2.arrivedAt.IsZero() {
		return nil, xerrors.NewClassifiedError(xerrors.ErrorTypeProtocol, nil, "one or more responses never produced a status line")
	}

	diffMs := float64(s2.arrivedAt.Sub(s1.arrivedAt)) / float64(time.Millisecond)

	return &Sample{
		TimeDiffMs: diffMs,
		Status1:    statusOf(s1.headers),
		Status2:    statusOf(s2.headers),
		Headers1:   s1.headers,
		Headers2:   s2.headers,
		Body1:      append([]byte(nil), s1.body.Bytes()...),
		Body2:      append([]byte(nil), s2.body.Bytes()...),
	}, nil
}

func statusOf(h map[string]string) int {
	v := h[":status"]
	n := 0
	for _, ch := range v {
		if ch < '0' || ch > '9' {
			return 0
		}
		n = n*10 + int(ch-'0')
	}
	return n
}

func (c *Conn) handleFrame(fr http2.Frame) error {
	switch f := fr.(type) {
	case *http2.HeadersFrame:
		st, ok := c.streams[f.StreamID]
		if !ok {
			return nil // unknown/unsolicited stream, ignore rather than crash
		}
		fields, err := c.dec.DecodeFull(f.HeaderBlockFragment())
		if err != nil {
			return xerrors.NewClassifiedError(xerrors.ErrorTypeProtocol, err, "hpack decode failure")
		}
		for _, field := range fields {
			if existing, dup := st.headers[field.Name]; dup {
				st.headers[field.Name] = existing + ", " + field.Value
			} else {
				st.headers[field.Name] = field.Value
			}
		}
		if f.StreamEnded() {
			st.done = true
		}

	case *http2.ContinuationFrame:
		st, ok := c.streams[f.StreamID]
		if !ok {
			return nil
		}
		fields, err := c.dec.DecodeFull(f.HeaderBlockFragment())
		if err != nil {
			return xerrors.NewClassifiedError(xerrors.ErrorTypeProtocol, err, "hpack decode failure")
		}
		for _, field := range fields {
			st.headers[field.Name] = field.Value
		}

	case *http2.DataFrame:
		st, ok := c.streams[f.StreamID]
		if !ok {
			return nil
		}
		st.body.Write(f.Data())
		if f.Length > 0 {
			c.framer.WriteWindowUpdate(0, uint32(f.Length))
			c.framer.WriteWindowUpdate(f.StreamID, uint32(f.Length))
			c.bw.Flush()
		}
		if f.StreamEnded() {
			st.done = true
		}

	case *http2.RSTStreamFrame:
		if st, ok := c.streams[f.StreamID]; ok {
			st.done = true
		}

	case *http2.SettingsFrame:
		if !f.IsAck() {
			c.applySettings(f)
			c.framer.WriteSettingsAck()
			c.bw.Flush()
		}

	case *http2.PingFrame:
		if !f.IsAck() {
			c.framer.WritePing(true, f.Data)
			c.bw.Flush()
		}

	case *http2.GoAwayFrame:
		return xerrors.NewClassifiedError(xerrors.ErrorTypeNetwork, nil, fmt.Sprintf("server sent GOAWAY: %v", f.ErrCode))

	case *http2.WindowUpdateFrame:
		// flow control bookkeeping not required for our request sizes

	default:
		// ignore anything else (PRIORITY, etc.)
	}
	return nil
}

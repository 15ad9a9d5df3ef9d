// Package server runs a RADIUS responder on one UDP socket.
//
// It follows the shape of layeh's PacketServer (one goroutine per datagram,
// in-flight duplicate suppression) but makes the treatment of datagrams
// that fail to decode an explicit Policy: authentication stays silent and
// relies on NAS retransmission, accounting acknowledges so the NAS stops
// retrying.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"layeh.com/radius"

	"github.com/nashmick001/mikrotik-portal/internal/metrics"
)

// Policy decides what happens to a datagram that cannot be decoded or fails
// authentication.
type Policy int

const (
	// DropMalformed logs and discards the datagram.
	DropMalformed Policy = iota
	// AckMalformed answers with a bare Accounting-Response carrying the
	// identifier byte found in the raw datagram.
	AckMalformed
)

func (p Policy) String() string {
	switch p {
	case DropMalformed:
		return "drop"
	case AckMalformed:
		return "ack"
	}
	return "unknown"
}

// ErrServerClosed is returned by Serve after its context is cancelled.
var ErrServerClosed = errors.New("server: closed")

// Server answers RADIUS requests arriving on one UDP socket.
type Server struct {
	// Name labels logs and metrics, e.g. "auth" or "acct".
	Name    string
	Addr    string
	Secret  []byte
	Handler radius.Handler
	Policy  Policy
	Logger  zerolog.Logger
}

type requestKey struct {
	addr       string
	identifier byte
}

// ListenAndServe binds Addr and serves until ctx is cancelled. Bind
// failures are returned immediately.
func (s *Server) ListenAndServe(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", s.Addr)
	if err != nil {
		return fmt.Errorf("%s: listen on %s: %w", s.Name, s.Addr, err)
	}
	return s.Serve(ctx, conn)
}

// Serve reads datagrams from conn until ctx is cancelled, then closes conn
// and waits for in-flight handlers. It takes ownership of conn.
func (s *Server) Serve(ctx context.Context, conn net.PacketConn) error {
	if s.Handler == nil {
		return fmt.Errorf("%s: nil handler", s.Name)
	}
	if len(s.Secret) == 0 {
		return fmt.Errorf("%s: empty secret", s.Name)
	}

	log := s.Logger.With().Str("server", s.Name).Logger()
	log.Info().Str("addr", conn.LocalAddr().String()).Str("malformed", s.Policy.String()).Msg("RADIUS server listening")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inFlight = map[requestKey]struct{}{}
	)

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer close(stop)

	for {
		buf := make([]byte, radius.MaxPacketLength)
		n, remote, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				wg.Wait()
				log.Info().Msg("RADIUS server stopped")
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			conn.Close()
			wg.Wait()
			return fmt.Errorf("%s: read: %w", s.Name, err)
		}

		wg.Add(1)
		go func(raw []byte, remote net.Addr) {
			defer wg.Done()
			s.handle(ctx, conn, raw, remote, log, &mu, inFlight)
		}(buf[:n], remote)
	}
}

func (s *Server) handle(ctx context.Context, conn net.PacketConn, raw []byte, remote net.Addr,
	base zerolog.Logger, mu *sync.Mutex, inFlight map[requestKey]struct{}) {
	log := base.With().
		Str("request_id", uuid.NewString()).
		Str("nas", remote.String()).
		Logger()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("handler panicked")
		}
	}()

	packet, err := radius.Parse(raw, s.Secret)
	if err != nil {
		s.malformed(conn, raw, remote, log, err)
		return
	}
	if signedRequest(packet.Code) && !radius.IsAuthenticRequest(raw, s.Secret) {
		s.malformed(conn, raw, remote, log, errors.New("request authenticator mismatch"))
		return
	}
	metrics.PacketsTotal.WithLabelValues(s.Name, packet.Code.String()).Inc()

	key := requestKey{addr: remote.String(), identifier: packet.Identifier}
	mu.Lock()
	if _, dup := inFlight[key]; dup {
		mu.Unlock()
		log.Debug().Uint8("identifier", packet.Identifier).Msg("retransmission of in-flight request ignored")
		return
	}
	inFlight[key] = struct{}{}
	mu.Unlock()
	defer func() {
		mu.Lock()
		delete(inFlight, key)
		mu.Unlock()
	}()

	log = log.With().Uint8("identifier", packet.Identifier).Logger()
	req := &radius.Request{
		LocalAddr:  conn.LocalAddr(),
		RemoteAddr: remote,
		Packet:     packet,
	}
	// in-flight requests run to completion after shutdown starts
	req = req.WithContext(log.WithContext(context.WithoutCancel(ctx)))

	s.Handler.ServeRADIUS(&responseWriter{conn: conn, addr: remote, log: log}, req)
}

// signedRequest reports whether requests with code carry an authenticator
// derived from the shared secret.
func signedRequest(code radius.Code) bool {
	switch code {
	case radius.CodeAccountingRequest, radius.CodeDisconnectRequest, radius.CodeCoARequest:
		return true
	}
	return false
}

func (s *Server) malformed(conn net.PacketConn, raw []byte, remote net.Addr, log zerolog.Logger, cause error) {
	metrics.MalformedTotal.WithLabelValues(s.Name).Inc()

	if s.Policy != AckMalformed {
		log.Warn().Err(cause).Int("length", len(raw)).Msg("dropping malformed datagram")
		return
	}

	resp, err := MinimalAccountingResponse(raw, s.Secret)
	if err != nil {
		log.Warn().Err(cause).AnErr("ack_error", err).Msg("malformed datagram could not be acknowledged")
		return
	}
	log.Warn().Err(cause).Uint8("identifier", raw[1]).Msg("acknowledging malformed datagram")
	if _, err := conn.WriteTo(resp, remote); err != nil {
		log.Error().Err(err).Msg("failed to send Accounting-Response")
	}
}

// MinimalAccountingResponse builds an attribute-less Accounting-Response
// for a datagram that could not be parsed. The identifier is taken from
// byte 1; the response authenticator is signed over bytes 4-20 when the
// datagram is long enough to carry them.
func MinimalAccountingResponse(raw []byte, secret []byte) ([]byte, error) {
	if len(raw) < 2 {
		return nil, errors.New("datagram too short to carry an identifier")
	}
	p := &radius.Packet{
		Code:       radius.CodeAccountingResponse,
		Identifier: raw[1],
		Secret:     secret,
	}
	if len(raw) >= 20 {
		copy(p.Authenticator[:], raw[4:20])
	}
	return p.Encode()
}

type responseWriter struct {
	conn net.PacketConn
	addr net.Addr
	log  zerolog.Logger

	mu      sync.Mutex
	written bool
}

// Write encodes and sends p. Only the first call sends anything.
func (w *responseWriter) Write(p *radius.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.written {
		w.log.Warn().Str("code", p.Code.String()).Msg("second response suppressed")
		return errors.New("server: response already written")
	}
	w.written = true

	raw, err := p.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", p.Code, err)
	}
	if _, err := w.conn.WriteTo(raw, w.addr); err != nil {
		return fmt.Errorf("send %s: %w", p.Code, err)
	}
	return nil
}

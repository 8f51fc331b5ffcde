// ABOUTME: Persistent Connect WebSocket session
// ABOUTME: Authenticate, subscribe, join, then a message loop with reconnect and offline queueing
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qbz-connect/renderer/internal/protocol"
	"github.com/qbz-connect/renderer/internal/quality"
	"github.com/qbz-connect/renderer/internal/token"
	"github.com/qbz-connect/renderer/internal/version"
)

const (
	subprotocol = "qws"
	originURL   = "https://play.qobuz.com"

	backoffStart = time.Second
	backoffCap   = 60 * time.Second

	pingInterval = 10 * time.Second
	pongTimeout  = 30 * time.Second

	// readPollTimeout bounds each read so the token-expiry check runs.
	readPollTimeout = time.Second
)

// ErrTokenExpired means the websocket token ran out; a fresh handoff
// is required and reconnecting is pointless.
var ErrTokenExpired = errors.New("session: websocket token expired")

// Config parameterizes one session.
type Config struct {
	Tokens     token.ConnectTokens
	DeviceName string
	DeviceUUID []byte
	MaxQuality quality.ID
}

// Handler processes one inner message body.
type Handler func(ctx context.Context, body []byte) error

// Session owns the single persistent connection to the Connect
// endpoint. Exactly one codec lives per session, so msg_id is strictly
// increasing across reconnects of the same handoff.
type Session struct {
	log   *slog.Logger
	cfg   Config
	codec *protocol.Codec
	now   func() time.Time

	handlers map[protocol.InnerType]Handler

	mu       sync.Mutex
	conn     *websocket.Conn
	live     bool
	pending  [][]byte
	lastPong time.Time
}

// New builds a session; call Run to connect.
func New(log *slog.Logger, cfg Config) *Session {
	return &Session{
		log:      log,
		cfg:      cfg,
		codec:    protocol.NewCodec(),
		now:      time.Now,
		handlers: make(map[protocol.InnerType]Handler),
	}
}

// Handle registers the handler for an inner messageType. Must be
// called before Run.
func (s *Session) Handle(t protocol.InnerType, fn func(ctx context.Context, body []byte) error) {
	s.handlers[t] = fn
}

// Run connects and keeps the session alive until ctx is cancelled or
// the token expires. Backoff starts at 1 s, doubles to 60 s, and
// resets whenever a connection reaches live.
func (s *Session) Run(ctx context.Context) error {
	delay := backoffStart
	for {
		if s.cfg.Tokens.WSExpired(s.now()) {
			return ErrTokenExpired
		}

		reachedLive, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.log.Warn("session ended", "error", err)
		}
		if reachedLive {
			delay = backoffStart
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > backoffCap {
			delay = backoffCap
		}
	}
}

// runOnce performs one connection attempt: dial, handshake, then the
// receive loop. Returns whether live was reached.
func (s *Session) runOnce(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{
		Subprotocols:     []string{subprotocol},
		HandshakeTimeout: 10 * time.Second,
	}
	header := http.Header{"Origin": []string{originURL}}

	conn, _, err := dialer.DialContext(ctx, s.cfg.Tokens.WS.Endpoint, header)
	if err != nil {
		return false, fmt.Errorf("session: dial: %w", err)
	}
	defer conn.Close()

	s.mu.Lock()
	s.conn = conn
	s.lastPong = s.now()
	s.mu.Unlock()
	conn.SetPongHandler(func(string) error {
		s.mu.Lock()
		s.lastPong = s.now()
		s.mu.Unlock()
		return nil
	})

	// Close the socket as soon as the caller cancels so a blocked read
	// returns immediately.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := s.handshake(conn); err != nil {
		s.teardown()
		return false, err
	}

	// Flush queued frames in order before accepting new sends, so
	// nothing written while offline gets overtaken. Sends racing the
	// flush land in pending and drain on the next pass.
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.live = true
			s.mu.Unlock()
			break
		}
		pending := s.pending
		s.pending = nil
		s.mu.Unlock()
		for _, frame := range pending {
			if err := s.write(conn, frame); err != nil {
				s.teardown()
				return false, fmt.Errorf("session: flush queued frame: %w", err)
			}
		}
	}
	s.log.Info("session live", "endpoint", s.cfg.Tokens.WS.Endpoint)

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go s.pingLoop(pingCtx, conn)

	err = s.readLoop(ctx, conn)
	s.teardown()
	return true, err
}

// handshake sends AUTHENTICATE, SUBSCRIBE and the initial JoinSession
// payload, in that order.
func (s *Session) handshake(conn *websocket.Conn) error {
	auth := s.codec.Encode(protocol.OuterAuthenticate, protocol.Envelope{
		Jwt: s.cfg.Tokens.WS.JWT,
	})
	if err := s.write(conn, auth); err != nil {
		return fmt.Errorf("session: authenticate: %w", err)
	}

	sub := s.codec.Encode(protocol.OuterSubscribe, protocol.Envelope{
		Channels: []string{s.cfg.Tokens.SessionID},
	})
	if err := s.write(conn, sub); err != nil {
		return fmt.Errorf("session: subscribe: %w", err)
	}

	join := protocol.JoinSession{
		DeviceUUID:          s.cfg.DeviceUUID,
		FriendlyName:        s.cfg.DeviceName,
		Brand:               version.Manufacturer,
		Model:               version.Product,
		DeviceType:          protocol.DeviceTypeSpeaker,
		SoftwareVersion:     version.Version,
		MinAudioQuality:     1,
		MaxAudioQuality:     uint64(s.cfg.MaxQuality.ToProtocol()),
		VolumeRemoteControl: protocol.VolumeRemoteByController,
		SessionUUID:         s.cfg.Tokens.SessionID,
		Reason:              protocol.JoinReasonNormal,
		IsActive:            true,
	}
	frame := s.payloadFrame(protocol.InnerJoinSession, join.Encode())
	if err := s.write(conn, frame); err != nil {
		return fmt.Errorf("session: join: %w", err)
	}
	return nil
}

func (s *Session) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			silent := s.now().Sub(s.lastPong) > pongTimeout
			s.mu.Unlock()
			if silent {
				s.log.Warn("no pong within timeout, dropping connection")
				conn.Close()
				return
			}
			s.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, s.now().Add(5*time.Second))
			s.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// readLoop polls with a short deadline so the token-expiry check can
// run between reads.
func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if s.cfg.Tokens.WSExpired(s.now()) {
			return ErrTokenExpired
		}

		conn.SetReadDeadline(s.now().Add(readPollTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return fmt.Errorf("session: read: %w", err)
		}
		s.dispatch(ctx, data)
	}
}

// dispatch decodes one frame and routes its inner messages in order.
// Malformed frames are dropped with a warning; unknown inner types log
// at debug.
func (s *Session) dispatch(ctx context.Context, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		s.log.Warn("dropping malformed frame", "error", err)
		return
	}

	switch env.Type {
	case protocol.OuterPayload:
		batch, err := protocol.DecodeBatch(env.Payload)
		if err != nil {
			s.log.Warn("dropping malformed payload batch", "error", err)
			return
		}
		for _, m := range batch.Messages {
			fn, ok := s.handlers[m.Type]
			if !ok {
				s.log.Debug("unhandled inner message", "type", uint32(m.Type))
				continue
			}
			if err := fn(ctx, m.Body); err != nil {
				s.log.Warn("handler failed", "type", uint32(m.Type), "error", err)
			}
		}
	case protocol.OuterError:
		s.log.Warn("server error frame", "code", env.Code, "message", env.Message)
	case protocol.OuterDisconnect:
		s.log.Info("server requested disconnect")
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	default:
		s.log.Debug("ignoring outer frame", "type", env.Type.String())
	}
}

func (s *Session) payloadFrame(t protocol.InnerType, body []byte) []byte {
	batch := protocol.Batch{
		MessagesTime: s.now().UnixMilli(),
		MessagesID:   1,
		Messages:     []protocol.RawMessage{{Type: t, Body: body}},
	}
	return s.codec.Encode(protocol.OuterPayload, protocol.Envelope{Payload: batch.Encode()})
}

// Send encodes an inner message and either writes it immediately (when
// live) or queues it for the next live connection. Frames are written
// whole under a lock, so no partial frame ever hits the wire.
func (s *Session) Send(t protocol.InnerType, body []byte) {
	frame := s.payloadFrame(t, body)

	s.mu.Lock()
	if !s.live || s.conn == nil {
		s.pending = append(s.pending, frame)
		s.mu.Unlock()
		return
	}
	conn := s.conn
	err := conn.WriteMessage(websocket.BinaryMessage, frame)
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("send failed", "type", uint32(t), "error", err)
	}
}

// SendStateUpdate implements the player.Sender interface.
func (s *Session) SendStateUpdate(m protocol.StateUpdated) {
	s.Send(protocol.InnerStateUpdated, m.Encode())
}

// NotifyVolumeChanged implements player.Notifier.
func (s *Session) NotifyVolumeChanged(pct int) {
	s.Send(protocol.InnerVolumeChanged, protocol.VolumeChanged{Volume: uint64(pct)}.Encode())
}

// NotifyFileQuality implements player.Notifier.
func (s *Session) NotifyFileQuality(queueItemID uint64, q quality.ID, sampleRate, bitDepth int) {
	s.Send(protocol.InnerFileAudioQualityChanged, protocol.FileAudioQualityChanged{
		QueueItemID:  queueItemID,
		AudioQuality: uint64(q.ToProtocol()),
		SampleRate:   uint64(sampleRate),
		BitDepth:     uint64(bitDepth),
		Channels:     2,
	}.Encode())
}

// SendDeviceInfoUpdated refreshes the controller's device view.
func (s *Session) SendDeviceInfoUpdated(name, brand, model string) {
	s.Send(protocol.InnerDeviceInfoUpdated, protocol.DeviceInfoUpdated{
		FriendlyName: name,
		Brand:        brand,
		Model:        model,
	}.Encode())
}

// SendMaxQualityChanged announces a new quality ceiling.
func (s *Session) SendMaxQualityChanged(q quality.ID) {
	s.Send(protocol.InnerMaxAudioQualityChanged, protocol.AudioQualityChanged{
		AudioQuality: uint64(q.ToProtocol()),
	}.Encode())
}

// SendDeviceQualityChanged announces the sink device's quality.
func (s *Session) SendDeviceQualityChanged(q quality.ID) {
	s.Send(protocol.InnerDeviceAudioQualityChanged, protocol.AudioQualityChanged{
		AudioQuality: uint64(q.ToProtocol()),
	}.Encode())
}

// write sends one whole frame under the session lock.
func (s *Session) write(conn *websocket.Conn, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (s *Session) teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = false
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

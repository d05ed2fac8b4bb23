package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/orchestra-mcp/livecache/src/types"
	"github.com/rs/zerolog"
)

var errHeartbeatTimeout = errors.New("no data received within heartbeat window")

// wire carries whole STOMP payloads over some framing.
type wire interface {
	Read() ([]byte, error)
	Write(p []byte) error
	Close() error
}

// stompSession speaks STOMP 1.2 over a wire.
type stompSession struct {
	w      wire
	opts   ConnectOptions
	logger zerolog.Logger

	writeMu     sync.Mutex
	sendEvery   time.Duration
	expectEvery time.Duration
	lastRead    atomic.Int64

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

func millis(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d / time.Millisecond)
}

// handshake sends CONNECT and waits for CONNECTED, then starts the read and
// heartbeat loops.
func handshake(ctx context.Context, w wire, opts ConnectOptions) (*stompSession, error) {
	s := &stompSession{
		w:      w,
		opts:   opts,
		logger: opts.Logger.With().Str("component", "stomp").Logger(),
		done:   make(chan struct{}),
	}

	connect := frame.New(frame.CONNECT,
		frame.AcceptVersion, "1.2,1.1,1.0",
		frame.HeartBeat, strconv.Itoa(millis(opts.HeartbeatOutgoing))+","+strconv.Itoa(millis(opts.HeartbeatIncoming)),
	)
	if opts.VirtualHost != "" {
		connect.Header.Add(frame.Host, opts.VirtualHost)
	}
	keys := make([]string, 0, len(opts.Headers))
	for k := range opts.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		connect.Header.Add(k, opts.Headers[k])
	}

	if err := s.write(connect); err != nil {
		w.Close()
		return nil, fmt.Errorf("%w: %w", ErrHandshake, err)
	}

	type result struct {
		connected *frame.Frame
		pending   []*frame.Frame
		err       error
	}
	ch := make(chan result, 1)
	go func() {
		f, pending, err := readConnected(w)
		ch <- result{f, pending, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		w.Close()
		<-ch
		return nil, fmt.Errorf("%w: %w", ErrHandshake, ctx.Err())
	case r = <-ch:
	}
	if r.err != nil {
		w.Close()
		return nil, fmt.Errorf("%w: %w", ErrHandshake, r.err)
	}

	sx, sy, err := frame.ParseHeartBeat(r.connected.Header.Get(frame.HeartBeat))
	if err != nil {
		s.logger.Debug().Err(err).Msg("server heart-beat ignored")
	}
	s.sendEvery = negotiate(opts.HeartbeatOutgoing.Truncate(time.Millisecond), sy)
	s.expectEvery = negotiate(opts.HeartbeatIncoming.Truncate(time.Millisecond), sx)
	s.lastRead.Store(time.Now().UnixNano())

	s.logger.Debug().
		Str("version", r.connected.Header.Get(frame.Version)).
		Str("server", r.connected.Header.Get(frame.Server)).
		Dur("send_every", s.sendEvery).
		Dur("expect_every", s.expectEvery).
		Msg("stomp connected")

	for _, f := range r.pending {
		s.handle(f)
	}
	go s.readLoop()
	if s.sendEvery > 0 || s.expectEvery > 0 {
		go s.heartbeatLoop()
	}
	return s, nil
}

func readConnected(w wire) (*frame.Frame, []*frame.Frame, error) {
	for {
		data, err := w.Read()
		if err != nil {
			return nil, nil, err
		}
		frames, err := decodeFrames(data)
		if err != nil {
			return nil, nil, err
		}
		for i, f := range frames {
			switch f.Command {
			case frame.CONNECTED:
				return f, frames[i+1:], nil
			case frame.ERROR:
				return nil, nil, brokerError(f)
			}
		}
	}
}

func brokerError(f *frame.Frame) error {
	msg := f.Header.Get(frame.Message)
	if len(f.Body) > 0 {
		if msg != "" {
			msg += ": "
		}
		msg += string(f.Body)
	}
	return fmt.Errorf("broker error: %s", msg)
}

func (s *stompSession) write(f *frame.Frame) error {
	if s.opts.Debug {
		s.logger.Debug().Str("command", f.Command).Msg(">>> frame")
	}
	p, err := encodeFrame(f)
	if err != nil {
		return err
	}
	return s.writeRaw(p)
}

func (s *stompSession) writeRaw(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.w.Write(p)
}

func (s *stompSession) readLoop() {
	for {
		data, err := s.w.Read()
		if err != nil {
			s.finish(err)
			return
		}
		s.lastRead.Store(time.Now().UnixNano())

		frames, err := decodeFrames(data)
		for _, f := range frames {
			s.handle(f)
		}
		if err != nil {
			s.logger.Warn().Err(err).Msg("dropping malformed frame")
		}
	}
}

func (s *stompSession) handle(f *frame.Frame) {
	if s.opts.Debug {
		s.logger.Debug().Str("command", f.Command).Msg("<<< frame")
	}
	switch f.Command {
	case frame.MESSAGE:
		if s.opts.OnMessage == nil {
			return
		}
		s.opts.OnMessage(types.Message{
			Destination:  f.Header.Get(frame.Destination),
			Subscription: f.Header.Get(frame.Subscription),
			Headers:      headerMap(f.Header),
			Body:         f.Body,
			ReceivedAt:   time.Now(),
		})
	case frame.ERROR:
		err := brokerError(f)
		if s.opts.OnError != nil {
			s.opts.OnError(err)
		}
		s.finish(err)
	case frame.RECEIPT:
		s.logger.Debug().Str("receipt_id", f.Header.Get(frame.ReceiptId)).Msg("receipt")
	}
}

func (s *stompSession) heartbeatLoop() {
	var sendC, checkC <-chan time.Time
	if s.sendEvery > 0 {
		t := time.NewTicker(s.sendEvery)
		defer t.Stop()
		sendC = t.C
	}
	if s.expectEvery > 0 {
		t := time.NewTicker(s.expectEvery)
		defer t.Stop()
		checkC = t.C
	}

	for {
		select {
		case <-s.done:
			return
		case <-sendC:
			if err := s.writeRaw([]byte("\n")); err != nil {
				s.finish(err)
				return
			}
		case <-checkC:
			last := time.Unix(0, s.lastRead.Load())
			if time.Since(last) > 2*s.expectEvery {
				s.finish(errHeartbeatTimeout)
				return
			}
		}
	}
}

func (s *stompSession) finish(err error) {
	s.closeOnce.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		s.w.Close()
		close(s.done)
	})
}

func (s *stompSession) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *stompSession) Subscribe(id, destination string) error {
	if s.closed() {
		return ErrClosed
	}
	return s.write(frame.New(frame.SUBSCRIBE, frame.Id, id, frame.Destination, destination, frame.Ack, "auto"))
}

func (s *stompSession) Unsubscribe(id string) error {
	if s.closed() {
		return ErrClosed
	}
	return s.write(frame.New(frame.UNSUBSCRIBE, frame.Id, id))
}

func (s *stompSession) Done() <-chan struct{} {
	return s.done
}

func (s *stompSession) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close sends DISCONNECT on a best-effort basis and tears the wire down.
func (s *stompSession) Close() error {
	if s.closed() {
		return nil
	}
	if err := s.write(frame.New(frame.DISCONNECT)); err != nil {
		s.logger.Debug().Err(err).Msg("disconnect frame not sent")
	}
	s.finish(nil)
	return nil
}

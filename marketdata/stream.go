package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tungnguyentu/trade/logger"
	"github.com/tungnguyentu/trade/types"
)

const (
	FuturesStreamURL = "wss://fstream.binance.com"
	TestnetStreamURL = "wss://stream.binancefuture.com"
)

// StreamOptions tune the connection loop.
type StreamOptions struct {
	BaseURL      string
	PingInterval time.Duration
	ReadTimeout  time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	Buffer       int
}

func (o *StreamOptions) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = FuturesStreamURL
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.MinBackoff <= 0 {
		o.MinBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.Buffer <= 0 {
		o.Buffer = 256
	}
}

// BinanceStream subscribes to kline streams and yields each bar once it has
// closed. It reconnects with backoff until its context ends.
type BinanceStream struct {
	opts    StreamOptions
	streams []string
	log     logger.Logger
	bars    chan types.Bar
	last    map[seriesKey]time.Time
}

func NewBinanceStream(symbols []string, tfs []types.Timeframe, opts StreamOptions, log logger.Logger) *BinanceStream {
	opts.defaults()
	if log == nil {
		log = logger.NewNop()
	}
	var streams []string
	for _, s := range symbols {
		for _, tf := range tfs {
			streams = append(streams, strings.ToLower(s)+"@kline_"+string(tf))
		}
	}
	return &BinanceStream{
		opts:    opts,
		streams: streams,
		log:     log,
		bars:    make(chan types.Bar, opts.Buffer),
		last:    map[seriesKey]time.Time{},
	}
}

// URL is the combined-stream endpoint.
func (s *BinanceStream) URL() string {
	return strings.TrimRight(s.opts.BaseURL, "/") + "/stream?streams=" + strings.Join(s.streams, "/")
}

// Run owns the connection until ctx is done. Call it in its own goroutine.
func (s *BinanceStream) Run(ctx context.Context) {
	backoff := s.opts.MinBackoff
	for ctx.Err() == nil {
		start := time.Now()
		err := s.session(ctx)
		if ctx.Err() != nil {
			break
		}
		if time.Since(start) > s.opts.MaxBackoff {
			backoff = s.opts.MinBackoff
		}
		s.log.Warn("stream_reconnect",
			logger.Err(err),
			logger.Duration("backoff", backoff),
		)
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, s.opts.MaxBackoff)
	}
	close(s.bars)
}

func (s *BinanceStream) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.URL(), nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	s.log.Info("stream_connected", logger.Int("streams", len(s.streams)))

	conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	})
	// the server pings every few minutes and expects a pong carrying the payload
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(s.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.Close()
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		b, closed, err := parseKline(msg)
		if err != nil {
			s.log.Warn("stream_bad_message", logger.Err(err))
			continue
		}
		if !closed {
			continue
		}
		k := seriesKey{b.Symbol, b.Timeframe}
		switch last := s.last[k]; {
		case b.OpenTime.Equal(last):
			// the last closed kline is resent after a reconnect
			s.log.Info("stream_replay_dropped", logger.String("symbol", b.Symbol), logger.String("timeframe", string(b.Timeframe)))
			continue
		case b.OpenTime.Before(last):
			// passed on so the consumer halts the series
			s.log.Warn("stream_out_of_order",
				logger.String("symbol", b.Symbol),
				logger.String("timeframe", string(b.Timeframe)),
				logger.Time("open_time", b.OpenTime),
				logger.Time("last", last),
			)
		default:
			s.last[k] = b.OpenTime
		}
		select {
		case s.bars <- b:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Next blocks until a closed bar arrives or ctx ends.
func (s *BinanceStream) Next(ctx context.Context) (types.Bar, error) {
	select {
	case b, ok := <-s.bars:
		if !ok {
			return types.Bar{}, context.Canceled
		}
		return b, nil
	case <-ctx.Done():
		return types.Bar{}, ctx.Err()
	}
}

type klineEvent struct {
	Stream string `json:"stream"`
	Data   struct {
		Event  string `json:"e"`
		Symbol string `json:"s"`
		K      struct {
			OpenTime int64  `json:"t"`
			Interval string `json:"i"`
			Open     string `json:"o"`
			High     string `json:"h"`
			Low      string `json:"l"`
			Close    string `json:"c"`
			Volume   string `json:"v"`
			Closed   bool   `json:"x"`
		} `json:"k"`
	} `json:"data"`
}

func parseKline(msg []byte) (types.Bar, bool, error) {
	var ev klineEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		return types.Bar{}, false, err
	}
	if ev.Data.Event != "kline" {
		return types.Bar{}, false, fmt.Errorf("unexpected event %q on %q", ev.Data.Event, ev.Stream)
	}
	k := ev.Data.K
	b := types.Bar{
		Symbol:    ev.Data.Symbol,
		Timeframe: types.Timeframe(k.Interval),
		OpenTime:  time.UnixMilli(k.OpenTime).UTC(),
	}
	var err error
	for _, f := range []struct {
		raw string
		dst *float64
	}{{k.Open, &b.Open}, {k.High, &b.High}, {k.Low, &b.Low}, {k.Close, &b.Close}, {k.Volume, &b.Volume}} {
		if *f.dst, err = strconv.ParseFloat(f.raw, 64); err != nil {
			return b, false, fmt.Errorf("kline %s: %w", ev.Stream, err)
		}
	}
	return b, k.Closed, nil
}

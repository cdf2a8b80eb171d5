package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tungnguyentu/trade/logger"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestMulti_FansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Multi{a, nil, Nop{}, b}.Notify(Event{Kind: Status, Text: "up"})
	assert.Len(t, a.events, 1)
	assert.Len(t, b.events, 1)
}

func TestLog_LevelByKind(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	n := Log{L: logger.New(zap.New(core))}
	n.Notify(Event{Kind: TradeOpened, Symbol: "BTCUSDT"})
	n.Notify(Event{Kind: DrawdownWarning})

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zap.InfoLevel, entries[0].Level)
	assert.Equal(t, "BTCUSDT", entries[0].ContextMap()["symbol"])
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
}

func TestFormat(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	out := Format(Event{Kind: TradeOpened, Symbol: "BTCUSDT", Text: "long 0.5 @ 100 on near_band", At: at})
	assert.True(t, strings.HasPrefix(out, "*🚀 NEW TRADE ENTRY*"))
	assert.Contains(t, out, "*Symbol:* BTCUSDT")
	assert.Contains(t, out, "2024-03-01 12:30:00")
	assert.Contains(t, out, `near\_band`)

	assert.Contains(t, Format(Event{Kind: "custom"}), "*CUSTOM*")
}

/*
------------------------------------------------------------------
Telegram against a fake Bot API
------------------------------------------------------------------
*/
type fakeBot struct {
	mu    sync.Mutex
	sent  []map[string]string
	fail  bool
	down  bool
	block chan struct{}
}

func (f *fakeBot) setDown(v bool) {
	f.mu.Lock()
	f.down = v
	f.mu.Unlock()
}

func (f *fakeBot) handler(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/getMe"):
		f.mu.Lock()
		down := f.down
		f.mu.Unlock()
		if down {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"id": 1, "is_bot": true, "first_name": "trade", "username": "trade_bot"},
		})
	case strings.HasSuffix(r.URL.Path, "/sendMessage"):
		if f.block != nil {
			<-f.block
		}
		f.mu.Lock()
		f.sent = append(f.sent, map[string]string{
			"chat_id":    r.Form.Get("chat_id"),
			"text":       r.Form.Get("text"),
			"parse_mode": r.Form.Get("parse_mode"),
		})
		f.mu.Unlock()
		if f.fail {
			json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 400, "description": "Bad Request: chat not found"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok":     true,
			"result": map[string]any{"message_id": 7, "date": 0, "chat": map[string]any{"id": 42, "type": "private"}},
		})
	default:
		http.NotFound(w, r)
	}
}

func startBot(t *testing.T, f *fakeBot, queue int, log logger.Logger) *Telegram {
	t.Helper()
	return startBotWith(t, f, TelegramOptions{Queue: queue}, log)
}

func startBotWith(t *testing.T, f *fakeBot, opts TelegramOptions, log logger.Logger) *Telegram {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(srv.Close)
	opts.Token = "123:abc"
	opts.ChatID = 42
	opts.Endpoint = srv.URL + "/bot%s/%s"
	tg, err := NewTelegram(opts, log)
	require.NoError(t, err)
	return tg
}

func TestTelegram_Sends(t *testing.T) {
	f := &fakeBot{}
	tg := startBot(t, f, 8, nil)
	tg.Notify(Event{Kind: TradeClosed, Symbol: "ETHUSDT", Text: "pnl 12.5"})
	tg.Close()

	require.Len(t, f.sent, 1)
	assert.Equal(t, "42", f.sent[0]["chat_id"])
	assert.Equal(t, "Markdown", f.sent[0]["parse_mode"])
	assert.Contains(t, f.sent[0]["text"], "pnl 12.5")

	// after Close events are ignored
	tg.Notify(Event{Kind: Status})
}

func TestTelegram_FailureOnlyLogged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	f := &fakeBot{fail: true}
	tg := startBot(t, f, 8, logger.New(zap.New(core)))
	tg.Notify(Event{Kind: Error, Text: "boom"})
	tg.Close()

	assert.Equal(t, 1, logs.FilterMessage("telegram_send_failed").Len())
}

func TestTelegram_DropsWhenFull(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	f := &fakeBot{block: make(chan struct{})}
	tg := startBot(t, f, 1, logger.New(zap.New(core)))

	// the first event is taken by the sender and blocks on the fake
	tg.Notify(Event{Kind: Status, Text: "1"})
	require.Eventually(t, func() bool { return len(tg.queue) == 0 }, time.Second, 5*time.Millisecond)
	tg.Notify(Event{Kind: Status, Text: "2"})
	tg.Notify(Event{Kind: Status, Text: "3"})
	close(f.block)
	tg.Close()

	assert.Equal(t, 1, logs.FilterMessage("notify_dropped").Len())
	assert.Len(t, f.sent, 2)
}

func TestTelegram_UnreachableAtStart(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	f := &fakeBot{down: true}
	tg := startBot(t, f, 8, logger.New(zap.New(core)))

	tg.Notify(Event{Kind: Status, Text: "starting"})
	require.Eventually(t, func() bool {
		return logs.FilterMessage("telegram_unavailable").Len() == 1
	}, time.Second, 5*time.Millisecond)

	f.setDown(false)
	tg.Notify(Event{Kind: Status, Text: "back"})
	tg.Close()

	require.Len(t, f.sent, 1)
	assert.Contains(t, f.sent[0]["text"], "back")
	assert.Equal(t, 1, logs.FilterMessage("telegram_ready").Len())
}

func TestTelegram_HungAPIDoesNotBlockClose(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	f := &fakeBot{block: make(chan struct{})}
	tg := startBotWith(t, f, TelegramOptions{Queue: 4, Timeout: 50 * time.Millisecond}, logger.New(zap.New(core)))
	t.Cleanup(func() { close(f.block) })

	tg.Notify(Event{Kind: Status, Text: "stuck"})
	done := make(chan struct{})
	go func() {
		tg.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a hung Bot API")
	}
	assert.Equal(t, 1, logs.FilterMessage("telegram_send_failed").Len())
}

func TestNewTelegram_RequiresChat(t *testing.T) {
	_, err := NewTelegram(TelegramOptions{Token: "123:abc"}, nil)
	assert.Error(t, err)
}

package notify

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tungnguyentu/trade/logger"
)

var headings = map[Kind]string{
	TradeOpened:     "🚀 NEW TRADE ENTRY",
	TradeClosed:     "TRADE EXIT",
	DrawdownWarning: "⚠️ DRAWDOWN WARNING",
	Error:           "⚠️ ERROR",
	Status:          "📊 SYSTEM STATUS",
	Skipped:         "⏸ CYCLE SKIPPED",
}

// TelegramOptions configure the bot. Endpoint defaults to the public API.
type TelegramOptions struct {
	Token    string
	ChatID   int64
	Endpoint string // printf pattern taking token and method
	Queue    int
	Timeout  time.Duration // per Bot API request
}

// Telegram sends events to one chat from a background goroutine. When the
// queue is full new events are dropped and logged. The bot connects on the
// first event, so an unreachable Bot API never blocks startup; events that
// arrive while it cannot connect are dropped and the next one retries.
type Telegram struct {
	opts TelegramOptions
	bot  *tgbotapi.BotAPI // owned by loop
	log  logger.Logger

	queue  chan Event
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewTelegram(opts TelegramOptions, log logger.Logger) (*Telegram, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if opts.Token == "" || opts.ChatID == 0 {
		return nil, errors.New("telegram: token and chat id are required")
	}
	if opts.Endpoint == "" {
		opts.Endpoint = tgbotapi.APIEndpoint
	}
	if opts.Queue <= 0 {
		opts.Queue = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	t := &Telegram{opts: opts, log: log, queue: make(chan Event, opts.Queue)}
	t.wg.Add(1)
	go t.loop()
	return t, nil
}

func (t *Telegram) Notify(e Event) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.queue <- e:
	default:
		t.log.Warn("notify_dropped", logger.String("kind", string(e.Kind)), logger.String("symbol", e.Symbol))
	}
}

// Close stops accepting events and waits for the queue to drain.
func (t *Telegram) Close() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()
	t.wg.Wait()
}

func (t *Telegram) loop() {
	defer t.wg.Done()
	for e := range t.queue {
		if err := t.connect(); err != nil {
			t.log.Warn("telegram_unavailable", logger.String("kind", string(e.Kind)), logger.Err(err))
			continue
		}
		msg := tgbotapi.NewMessage(t.opts.ChatID, Format(e))
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := t.bot.Send(msg); err != nil {
			t.log.Error("telegram_send_failed", logger.String("kind", string(e.Kind)), logger.Err(err))
		}
	}
}

func (t *Telegram) connect() error {
	if t.bot != nil {
		return nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.opts.Token, t.opts.Endpoint, &http.Client{Timeout: t.opts.Timeout})
	if err != nil {
		return err
	}
	t.bot = bot
	t.log.Info("telegram_ready", logger.String("bot", bot.Self.UserName))
	return nil
}

// Format renders an event as a Markdown message.
func Format(e Event) string {
	head, ok := headings[e.Kind]
	if !ok {
		head = strings.ToUpper(string(e.Kind))
	}
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n\n", head)
	if e.Symbol != "" {
		fmt.Fprintf(&b, "*Symbol:* %s\n", tgbotapi.EscapeText(tgbotapi.ModeMarkdown, e.Symbol))
	}
	fmt.Fprintf(&b, "*Time:* %s\n", at.UTC().Format("2006-01-02 15:04:05"))
	if e.Text != "" {
		b.WriteString("\n")
		b.WriteString(tgbotapi.EscapeText(tgbotapi.ModeMarkdown, e.Text))
	}
	return b.String()
}

package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tmchow/hzl-sub002/internal/app"
	"github.com/tmchow/hzl-sub002/internal/config"
	"github.com/tmchow/hzl-sub002/internal/domain"
)

const (
	defaultHookInterval = 2 * time.Second
	defaultHookTimeout  = 5 * time.Second
	defaultHookBatch    = 100
)

// hookDispatcher drains the event log to configured webhooks. Each hook
// keeps its own cursor; the cursor only advances past an event after a 2xx
// delivery, so a failing subscriber sees every event again on recovery.
type hookDispatcher struct {
	app    *app.App
	hooks  []config.Webhook
	client *http.Client

	mu      sync.Mutex
	cursors map[int]int64
	stop    chan struct{}
}

// StartHooks begins webhook delivery for the workspace. It returns a stop
// function; a workspace with no hooks gets a no-op.
func StartHooks(a *app.App) func() {
	if len(a.Config.Webhooks) == 0 {
		return func() {}
	}
	d := &hookDispatcher{
		app:     a,
		hooks:   a.Config.Webhooks,
		client:  &http.Client{Timeout: defaultHookTimeout},
		cursors: make(map[int]int64),
		stop:    make(chan struct{}),
	}
	go d.run()
	return func() { close(d.stop) }
}

func (d *hookDispatcher) run() {
	ticker := time.NewTicker(defaultHookInterval)
	defer ticker.Stop()
	for {
		d.dispatchAll()
		select {
		case <-d.stop:
			return
		case <-ticker.C:
		}
	}
}

func (d *hookDispatcher) dispatchAll() {
	for i, hook := range d.hooks {
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatch(i, hook)
	}
}

func (d *hookDispatcher) dispatch(idx int, hook config.Webhook) {
	ctx := context.Background()
	cursor := d.cursorFor(idx)
	events, err := d.app.Store.ReadSince(ctx, d.app.DB, cursor, defaultHookBatch)
	if err != nil {
		slog.Error("webhook: read events failed", "err", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, env := range events {
		if !filter.match(env.Type) {
			d.setCursor(idx, env.Sequence)
			continue
		}
		if err := d.post(ctx, hook, env); err != nil {
			slog.Warn("webhook: delivery failed", "url", hook.URL, "sequence", env.Sequence, "err", err)
			return
		}
		d.setCursor(idx, env.Sequence)
	}
}

func (d *hookDispatcher) cursorFor(idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	// New hooks start at the log head; they subscribe to the future, not
	// the whole history.
	cur, err := d.app.Store.LatestSequence(context.Background())
	if err != nil {
		slog.Error("webhook: init cursor failed", "err", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *hookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

func (d *hookDispatcher) post(ctx context.Context, hook config.Webhook, env domain.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if hook.Secret != "" {
		mac := hmac.New(sha256.New, []byte(hook.Secret))
		mac.Write(payload)
		req.Header.Set("X-Hzl-Signature", hex.EncodeToString(mac.Sum(nil)))
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

// eventFilter matches event types against a hook's subscription list. An
// empty list matches everything; a trailing "*" makes a prefix pattern.
type eventFilter struct {
	all      bool
	exact    map[domain.EventType]bool
	prefixes []string
}

func newEventFilter(patterns []string) eventFilter {
	if len(patterns) == 0 {
		return eventFilter{all: true}
	}
	f := eventFilter{exact: map[domain.EventType]bool{}}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if p == "*" {
			f.all = true
			continue
		}
		if strings.HasSuffix(p, "*") {
			f.prefixes = append(f.prefixes, strings.TrimSuffix(p, "*"))
			continue
		}
		f.exact[domain.EventType(p)] = true
	}
	return f
}

func (f eventFilter) match(t domain.EventType) bool {
	if f.all || f.exact[t] {
		return true
	}
	for _, p := range f.prefixes {
		if strings.HasPrefix(string(t), p) {
			return true
		}
	}
	return false
}

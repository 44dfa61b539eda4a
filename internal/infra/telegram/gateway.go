package telegram

import (
	"context"
	"strings"
	"sync"
	"time"

	"activity_reminder_engine/internal/domain/gateway"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// ButtonUniqueOpen tags the inline "Open" button; its callback is the
// reliable "user tapped it" signal the engine consumes.
const ButtonUniqueOpen = "open_reminder"

// TelebotGateway implements the delivery gateway over a Telegram bot. A
// scheduled notification is an in-process timer that sends the message at
// fire time; handles are opaque uuids. Authorized means the bot can reach
// the chat; denied means the user blocked it.
type TelebotGateway struct {
	bot    *telebot.Bot
	chatID int64
	logger *logrus.Logger

	mu         sync.Mutex
	pending    map[string]*pendingNotification
	permission gateway.PermissionStatus
}

type pendingNotification struct {
	timer   *time.Timer
	payload gateway.Payload
	fireAt  time.Time
}

func NewTelebotGateway(bot *telebot.Bot, chatID int64, logger *logrus.Logger) *TelebotGateway {
	return &TelebotGateway{
		bot:        bot,
		chatID:     chatID,
		logger:     logger,
		pending:    make(map[string]*pendingNotification),
		permission: gateway.PermissionNotRequested,
	}
}

// ScheduleAt arms a one-shot notification and returns its handle.
func (g *TelebotGateway) ScheduleAt(_ context.Context, fireAt time.Time, payload gateway.Payload) (string, error) {
	handle := uuid.New().String()
	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}

	g.mu.Lock()
	g.pending[handle] = &pendingNotification{
		timer:   time.AfterFunc(delay, func() { g.deliver(handle) }),
		payload: payload,
		fireAt:  fireAt,
	}
	g.mu.Unlock()

	g.logger.Debugf("Armed notification %s (%s) for %s", handle, payload.Key, fireAt.Format(time.RFC3339))
	return handle, nil
}

// Cancel disarms a pending notification. Unknown or already-fired handles
// are not an error.
func (g *TelebotGateway) Cancel(_ context.Context, handle string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if p, ok := g.pending[handle]; ok {
		p.timer.Stop()
		delete(g.pending, handle)
	}
	return nil
}

// ListPending returns the handles still armed.
func (g *TelebotGateway) ListPending(_ context.Context) (map[string]struct{}, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	handles := make(map[string]struct{}, len(g.pending))
	for handle := range g.pending {
		handles[handle] = struct{}{}
	}
	return handles, nil
}

// Permission returns the cached authorization status.
func (g *TelebotGateway) Permission(_ context.Context) (gateway.PermissionStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.permission, nil
}

// RequestPermission probes the chat and caches the result.
func (g *TelebotGateway) RequestPermission(_ context.Context) (gateway.PermissionStatus, error) {
	_, err := g.bot.ChatByID(g.chatID)

	g.mu.Lock()
	defer g.mu.Unlock()
	if err != nil {
		if isForbidden(err) {
			g.permission = gateway.PermissionDenied
		} else {
			g.permission = gateway.PermissionRestricted
		}
		g.logger.Warnf("Chat probe for %d failed: %v (permission %s)", g.chatID, err, g.permission)
		return g.permission, nil
	}
	g.permission = gateway.PermissionAuthorized
	return g.permission, nil
}

// deliver fires one notification. Runs on the timer goroutine: the handle
// leaves the pending set first (the platform no longer "holds" it), then the
// message is sent with bounded retries.
func (g *TelebotGateway) deliver(handle string) {
	g.mu.Lock()
	p, ok := g.pending[handle]
	if ok {
		delete(g.pending, handle)
	}
	g.mu.Unlock()
	if !ok {
		return // cancelled in the window between timer fire and lock
	}

	markup := &telebot.ReplyMarkup{}
	btnOpen := markup.Data("Open", ButtonUniqueOpen, p.payload.Key, string(p.payload.Category))
	markup.Inline(markup.Row(btnOpen))

	text := p.payload.Title
	if p.payload.Body != "" {
		text += "\n" + p.payload.Body
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	err := retry.Do(
		func() error {
			_, err := g.bot.Send(&telebot.User{ID: g.chatID}, text, &telebot.SendOptions{ReplyMarkup: markup})
			if err != nil && isForbidden(err) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Warnf("Retrying send for %s (attempt %d): %v", p.payload.Key, n+1, err)
		}),
	)
	if err != nil {
		g.logger.Errorf("Failed to deliver notification %s (%s): %v", handle, p.payload.Key, err)
		if isForbidden(err) {
			g.mu.Lock()
			g.permission = gateway.PermissionDenied
			g.mu.Unlock()
		}
		return
	}
	g.logger.Infof("Delivered notification %s (%s)", handle, p.payload.Key)
}

// isForbidden detects the user having blocked the bot, which maps to a
// denied permission rather than a transient failure.
func isForbidden(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "forbidden") || strings.Contains(msg, "blocked")
}

package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tb "gopkg.in/tucnak/telebot.v2"

	"github.com/paynow/approval-server/internal/audit"
	"github.com/paynow/approval-server/internal/model"
	"github.com/paynow/approval-server/internal/service"
)

const (
	pollTimeout    = 15 * time.Second
	commandTimeout = 10 * time.Second
)

// CommandRunner executes one operator chat line and returns the reply.
type CommandRunner interface {
	HandleText(ctx context.Context, text string) string
}

type sender interface {
	Send(to tb.Recipient, what interface{}, options ...interface{}) (*tb.Message, error)
}

// OperatorBot relays operator commands from a single Telegram chat and
// posts checkout events back to it. Messages from any other chat are
// ignored.
type OperatorBot struct {
	bot      *tb.Bot
	sender   sender
	chat     *tb.Chat
	operator CommandRunner
}

// New connects to Telegram. Commands are not handled until Start.
func New(token string, chatID int64) (*OperatorBot, error) {
	b, err := tb.NewBot(tb.Settings{
		Token:  token,
		Poller: &tb.LongPoller{Timeout: pollTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	ob := newOperatorBot(b, chatID)
	ob.bot = b
	return ob, nil
}

func newOperatorBot(s sender, chatID int64) *OperatorBot {
	return &OperatorBot{
		sender: s,
		chat:   &tb.Chat{ID: chatID},
	}
}

// Start routes operator commands to operator and begins long polling in the
// background.
func (b *OperatorBot) Start(operator CommandRunner) {
	b.operator = operator
	b.bot.Handle(tb.OnText, b.onText)
	go b.bot.Start()
	log.Info().Int64("chatId", b.chat.ID).Msg("telegram operator bot started")
}

func (b *OperatorBot) Stop() {
	b.bot.Stop()
	log.Info().Msg("telegram operator bot stopped")
}

func (b *OperatorBot) onText(m *tb.Message) {
	if b.operator == nil || m.Chat == nil || !strings.HasPrefix(m.Text, "/") {
		return
	}
	if m.Chat.ID != b.chat.ID {
		audit.Log(context.Background(), audit.Event{
			Type:  audit.EventAuthFailure,
			Actor: fmt.Sprintf("telegram:%d", m.Chat.ID),
			Details: map[string]interface{}{
				"channel": "telegram",
			},
		})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	reply := b.operator.HandleText(ctx, m.Text)
	if _, err := b.sender.Send(m.Chat, reply, tb.NoPreview); err != nil {
		log.Warn().Err(err).Msg("failed to reply to operator")
	}
}

// Notify posts event to the operator chat. The telegram client has no
// context support, so a send still in flight when ctx ends is abandoned.
func (b *OperatorBot) Notify(ctx context.Context, event model.OperatorEvent) error {
	text := FormatEvent(event)
	if text == "" {
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := b.sender.Send(b.chat, text, tb.NoPreview)
		errCh <- err
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("send telegram notification: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("send telegram notification: %w", ctx.Err())
	}
}

// FormatEvent renders event as an operator chat message, with the commands
// the operator is expected to answer with. Events that need no operator
// attention render as "".
func FormatEvent(event model.OperatorEvent) string {
	id := event.SessionID

	switch event.Type {
	case model.OperatorEventApprovalRequested:
		return fmt.Sprintf("New approval request\n%s\n\n/approve %s\n/reject %s <reason>\n/fail %s invalid_code|no_balance|bank_rejected",
			summary(event), id, id, id)

	case model.OperatorEventCodeSubmitted:
		return fmt.Sprintf("Verification code submitted: %s\n%s\n\n/code %s correct|incorrect|no_balance|rejected",
			event.Code, summary(event), id)

	case model.OperatorEventActivationIssued:
		return fmt.Sprintf("Activation code for session %s\nPhone: %s\nCode: %s", id, event.Phone, event.Code)

	case model.OperatorEventSessionUpdated:
		line := fmt.Sprintf("Session %s is now %s", id, event.Status)
		if event.Reason != "" {
			line += fmt.Sprintf(" (%s)", event.Reason)
		}
		if event.Actor != "" {
			line += fmt.Sprintf(" by %s", event.Actor)
		}
		return line
	}

	return ""
}

func summary(event model.OperatorEvent) string {
	session := &model.Session{
		ID:              event.SessionID,
		Status:          event.Status,
		RejectionReason: event.Reason,
	}
	if event.Meta != nil {
		session.Meta = *event.Meta
	}
	return service.FormatSession(session)
}

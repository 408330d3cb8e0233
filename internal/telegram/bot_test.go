package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tb "gopkg.in/tucnak/telebot.v2"

	"github.com/paynow/approval-server/internal/model"
)

type sentMessage struct {
	to   tb.Recipient
	text string
}

type fakeSender struct {
	mu    sync.Mutex
	sent  []sentMessage
	err   error
	block chan struct{}
}

func (f *fakeSender) Send(to tb.Recipient, what interface{}, options ...interface{}) (*tb.Message, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	text, _ := what.(string)
	f.sent = append(f.sent, sentMessage{to: to, text: text})
	return &tb.Message{Text: text}, nil
}

type fakeRunner struct {
	got []string
}

func (f *fakeRunner) HandleText(ctx context.Context, text string) string {
	f.got = append(f.got, text)
	return "ok: " + text
}

const operatorChat int64 = -100200300

func TestOperatorBot_onText(t *testing.T) {
	t.Run("runs commands from the operator chat", func(t *testing.T) {
		s := &fakeSender{}
		runner := &fakeRunner{}
		bot := newOperatorBot(s, operatorChat)
		bot.operator = runner

		bot.onText(&tb.Message{Text: "/approve abc", Chat: &tb.Chat{ID: operatorChat}})

		assert.Equal(t, []string{"/approve abc"}, runner.got)
		require.Len(t, s.sent, 1)
		assert.Equal(t, "ok: /approve abc", s.sent[0].text)
	})

	t.Run("ignores other chats", func(t *testing.T) {
		s := &fakeSender{}
		runner := &fakeRunner{}
		bot := newOperatorBot(s, operatorChat)
		bot.operator = runner

		bot.onText(&tb.Message{Text: "/approve abc", Chat: &tb.Chat{ID: 42}})

		assert.Empty(t, runner.got)
		assert.Empty(t, s.sent)
	})

	t.Run("ignores commands before start", func(t *testing.T) {
		s := &fakeSender{}
		bot := newOperatorBot(s, operatorChat)

		bot.onText(&tb.Message{Text: "/help", Chat: &tb.Chat{ID: operatorChat}})

		assert.Empty(t, s.sent)
	})

	t.Run("ignores plain chatter", func(t *testing.T) {
		s := &fakeSender{}
		runner := &fakeRunner{}
		bot := newOperatorBot(s, operatorChat)
		bot.operator = runner

		bot.onText(&tb.Message{Text: "looks fine to me", Chat: &tb.Chat{ID: operatorChat}})

		assert.Empty(t, runner.got)
	})
}

func TestOperatorBot_Notify(t *testing.T) {
	t.Run("sends formatted event to the operator chat", func(t *testing.T) {
		s := &fakeSender{}
		bot := newOperatorBot(s, operatorChat)

		err := bot.Notify(context.Background(), model.OperatorEvent{
			Type:      model.OperatorEventApprovalRequested,
			SessionID: "s1",
			Status:    model.SessionStatusPending,
			Meta:      &model.CheckoutMeta{CustomerName: "Jane Doe", Amount: 129900, Currency: "USD"},
		})

		require.NoError(t, err)
		require.Len(t, s.sent, 1)
		assert.Equal(t, "-100200300", s.sent[0].to.Recipient())
		assert.Contains(t, s.sent[0].text, "Customer: Jane Doe")
		assert.Contains(t, s.sent[0].text, "Amount: 1299.00 USD")
		assert.Contains(t, s.sent[0].text, "/approve s1")
	})

	t.Run("skips events without operator text", func(t *testing.T) {
		s := &fakeSender{}
		bot := newOperatorBot(s, operatorChat)

		err := bot.Notify(context.Background(), model.OperatorEvent{Type: model.OperatorEventSessionCleared, SessionID: "s1"})

		require.NoError(t, err)
		assert.Empty(t, s.sent)
	})

	t.Run("wraps send failures", func(t *testing.T) {
		s := &fakeSender{err: errors.New("telegram: Too Many Requests")}
		bot := newOperatorBot(s, operatorChat)

		err := bot.Notify(context.Background(), model.OperatorEvent{Type: model.OperatorEventSessionUpdated, SessionID: "s1"})

		require.Error(t, err)
		assert.Contains(t, err.Error(), "send telegram notification")
	})

	t.Run("gives up on a stalled send when the context ends", func(t *testing.T) {
		s := &fakeSender{block: make(chan struct{})}
		defer close(s.block)
		bot := newOperatorBot(s, operatorChat)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		start := time.Now()
		err := bot.Notify(ctx, model.OperatorEvent{Type: model.OperatorEventSessionUpdated, SessionID: "s1"})

		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), time.Second)
	})
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		name  string
		event model.OperatorEvent
		want  []string
	}{
		{
			name: "code submitted carries code and judge command",
			event: model.OperatorEvent{
				Type:      model.OperatorEventCodeSubmitted,
				SessionID: "s1",
				Status:    model.SessionStatusAwaitingVerification,
				Code:      "482913",
			},
			want: []string{"482913", "/code s1 correct|incorrect|no_balance|rejected"},
		},
		{
			name: "activation code carries phone and code",
			event: model.OperatorEvent{
				Type:      model.OperatorEventActivationIssued,
				SessionID: "s1",
				Phone:     "+15551234567",
				Code:      "0042",
			},
			want: []string{"Phone: +15551234567", "Code: 0042"},
		},
		{
			name: "session update names status reason and actor",
			event: model.OperatorEvent{
				Type:      model.OperatorEventSessionUpdated,
				SessionID: "s1",
				Status:    model.SessionStatusError,
				Reason:    "no_balance",
				Actor:     model.ActorOperator,
			},
			want: []string{"Session s1 is now error (no_balance) by operator"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			text := FormatEvent(tc.event)
			for _, want := range tc.want {
				assert.Contains(t, text, want)
			}
		})
	}

	t.Run("cleared sessions are silent", func(t *testing.T) {
		assert.Empty(t, FormatEvent(model.OperatorEvent{Type: model.OperatorEventSessionCleared}))
	})
}

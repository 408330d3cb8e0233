package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/paynow/approval-server/internal/errors"
	"github.com/paynow/approval-server/internal/model"
)

type CommandType string

const (
	CommandApprove CommandType = "APPROVE"
	CommandReject  CommandType = "REJECT"
	CommandFail    CommandType = "FAIL"
	CommandCode    CommandType = "CODE"
	CommandStatus  CommandType = "STATUS"
	CommandHelp    CommandType = "HELP"
)

type Command struct {
	Type      CommandType
	SessionID string
	Arg       string
}

const OperatorHelp = `Commands:
/approve <session> - approve the payment details
/reject <session> [reason] - reject the payment details
/fail <session> invalid_code|no_balance|bank_rejected - reject with a failure reason
/code <session> correct|incorrect|no_balance|rejected - judge the submitted code
/status <session> - show the session status
/help - show this message`

var commandNames = map[string]CommandType{
	"approve": CommandApprove,
	"reject":  CommandReject,
	"fail":    CommandFail,
	"code":    CommandCode,
	"status":  CommandStatus,
	"help":    CommandHelp,
}

// ParseCommand reads an operator chat line. It returns nil for anything that
// is not a well-formed command.
func ParseCommand(text string) *Command {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return nil
	}

	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// Group chats address bots as /command@botname.
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	cmdType, ok := commandNames[name]
	if !ok {
		return nil
	}
	if cmdType == CommandHelp {
		return &Command{Type: CommandHelp}
	}
	if len(fields) < 2 {
		return nil
	}

	cmd := &Command{Type: cmdType, SessionID: fields[1]}
	rest := fields[2:]
	switch cmdType {
	case CommandReject:
		cmd.Arg = strings.Join(rest, " ")
	case CommandFail, CommandCode:
		if len(rest) != 1 {
			return nil
		}
		cmd.Arg = strings.ToLower(rest[0])
	default:
		if len(rest) != 0 {
			return nil
		}
	}
	return cmd
}

// OperatorService runs operator commands against the checkout protocol. It
// backs both the chat webhook and the bot.
type OperatorService struct {
	checkout *CheckoutService
}

func NewOperatorService(checkout *CheckoutService) *OperatorService {
	return &OperatorService{checkout: checkout}
}

// HandleText parses and runs a chat line, returning the reply for the
// operator. Unknown input gets the help text.
func (o *OperatorService) HandleText(ctx context.Context, text string) string {
	cmd := ParseCommand(text)
	if cmd == nil {
		return OperatorHelp
	}
	reply, err := o.Execute(ctx, cmd)
	if err != nil {
		log.Info().
			Err(err).
			Str("command", string(cmd.Type)).
			Str("sessionId", cmd.SessionID).
			Msg("operator command refused")
		return describeError(err)
	}
	return reply
}

func (o *OperatorService) Execute(ctx context.Context, cmd *Command) (string, error) {
	switch cmd.Type {
	case CommandHelp:
		return OperatorHelp, nil

	case CommandApprove:
		session, err := o.checkout.Decide(ctx, cmd.SessionID, Decision{Action: DecisionApprove}, model.ActorOperator)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Session %s approved", session.ID), nil

	case CommandReject:
		session, err := o.checkout.Decide(ctx, cmd.SessionID, Decision{Action: DecisionReject, Reason: cmd.Arg}, model.ActorOperator)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Session %s rejected", session.ID), nil

	case CommandFail:
		kind := model.RejectionKind(cmd.Arg)
		if kind == model.RejectionPlain {
			return "", apperrors.MissingRequired("reason")
		}
		session, err := o.checkout.Decide(ctx, cmd.SessionID, Decision{Action: DecisionReject, Kind: kind}, model.ActorOperator)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Session %s failed: %s", session.ID, session.RejectionReason), nil

	case CommandCode:
		session, err := o.checkout.JudgeCode(ctx, cmd.SessionID, model.VerificationResult(cmd.Arg), model.ActorOperator)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Session %s code judged: %s", session.ID, session.Status), nil

	case CommandStatus:
		session, err := o.checkout.Record(ctx, cmd.SessionID)
		if err != nil {
			return "", err
		}
		reply := FormatSession(session)

		last, err := o.checkout.LastDecision(ctx, cmd.SessionID)
		if err != nil {
			log.Warn().Err(err).Str("sessionId", cmd.SessionID).Msg("failed to read last decision")
		} else if last != nil {
			reply += "\n" + FormatDecision(last)
		}
		return reply, nil
	}

	return "", apperrors.InvalidInput("command", string(cmd.Type))
}

// FormatSession renders a session for an operator chat message.
func FormatSession(session *model.Session) string {
	meta := session.EffectiveMeta()

	var b strings.Builder
	fmt.Fprintf(&b, "Session %s\n", session.ID)
	fmt.Fprintf(&b, "Status: %s", session.Status)
	if session.RejectionReason != "" {
		fmt.Fprintf(&b, " (%s)", session.RejectionReason)
	}
	b.WriteString("\n")
	if meta.CustomerName != "" {
		fmt.Fprintf(&b, "Customer: %s\n", meta.CustomerName)
	}
	if meta.Amount != 0 {
		fmt.Fprintf(&b, "Amount: %s\n", FormatAmount(meta.Amount, meta.Currency))
	}
	if meta.CardLast4 != "" {
		fmt.Fprintf(&b, "Card: %s **** %s\n", meta.CardBrand, meta.CardLast4)
	}
	if meta.Installments > 1 {
		fmt.Fprintf(&b, "Installments: %d\n", meta.Installments)
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatDecision renders a journaled transition as a one-line summary.
func FormatDecision(record *model.DecisionRecord) string {
	return fmt.Sprintf("Last decision: %s by %s at %s",
		record.ToStatus, record.Actor, record.CreatedAt.UTC().Format(time.RFC3339))
}

// FormatAmount renders minor units with two decimals.
func FormatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	out := fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
	if currency != "" {
		out += " " + currency
	}
	return out
}

func describeError(err error) string {
	if appErr, ok := apperrors.AsAppError(err); ok {
		return fmt.Sprintf("%s: %s", appErr.Code, appErr.Message)
	}
	return "Command failed"
}

// Command checkout-sim walks one checkout through the approval flow against
// a running server, the way the checkout page does. Point it at a server in
// SIMULATION_MODE to exercise the whole flow unattended.
package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stevenroose/gonfig"

	"github.com/paynow/approval-server/internal/client"
	"github.com/paynow/approval-server/internal/model"
	"github.com/paynow/approval-server/internal/service"
)

type Params struct {
	Server        string `id:"server" short:"s" default:"http://localhost:8080" desc:"Approval server base URL"`
	Amount        int64  `id:"amount" default:"129900" desc:"Amount in minor units"`
	Currency      string `id:"currency" default:"USD"`
	Customer      string `id:"customer" default:"Jane Doe"`
	CardLast4     string `id:"card-last4" default:"4242"`
	Code          string `id:"code" default:"123456" desc:"Verification code to submit after approval"`
	Phone         string `id:"phone" desc:"Also issue and verify an activation code for this phone"`
	RequestTimeMs int    `id:"request-timeout-ms" default:"10000"`
	Debug         bool   `id:"debug"`
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var params Params
	if err := gonfig.Load(&params, gonfig.Conf{
		FileDisable: true,
		EnvPrefix:   "CHECKOUT_SIM_",
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if params.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	c := client.New(params.Server, time.Duration(params.RequestTimeMs)*time.Millisecond)
	if err := run(context.Background(), c, params); err != nil {
		log.Fatal().Err(err).Msg("checkout failed")
	}
}

func run(ctx context.Context, c *client.Client, params Params) error {
	id := uuid.NewString()
	logger := log.With().Str("sessionId", id).Logger()

	created, err := c.RequestApproval(ctx, id, model.CheckoutMeta{
		CustomerName: params.Customer,
		Amount:       params.Amount,
		Currency:     params.Currency,
		CardLast4:    params.CardLast4,
	})
	if err != nil {
		return err
	}
	logger.Info().Time("expiresAt", created.ExpiresAt).Msg("approval requested")

	poll := service.PollOptions{
		Interval: time.Duration(created.PollIntervalMs) * time.Millisecond,
		Timeout:  time.Duration(created.PollTimeoutMs) * time.Millisecond,
	}

	decided, err := service.PollStatus(ctx, c, id, poll)
	if err != nil {
		return err
	}
	logger.Info().Str("status", string(decided.Status)).Str("reason", decided.Reason).Msg("approval decided")
	if decided.Status != model.SessionStatusApproved {
		return nil
	}

	if err := c.SubmitCode(ctx, id, params.Code, nil); err != nil {
		return err
	}
	logger.Info().Msg("verification code submitted")

	poll.Until = service.UntilVerified
	verified, err := service.PollStatus(ctx, c, id, poll)
	if err != nil {
		return err
	}
	logger.Info().
		Str("status", string(verified.Status)).
		Str("result", string(verified.VerificationResult)).
		Msg("verification judged")

	if params.Phone != "" {
		issued, err := c.IssueActivationCode(ctx, id, params.Phone)
		if err != nil {
			return err
		}
		if issued.Code == "" {
			logger.Info().Msg("activation code sent to operators; server is not in simulation mode")
		} else {
			result, err := c.VerifyActivationCode(ctx, id, issued.Code)
			if err != nil {
				return err
			}
			logger.Info().Bool("valid", result.Valid).Str("reason", result.Reason).Msg("activation code verified")
		}
	}

	return c.Clear(ctx, id)
}

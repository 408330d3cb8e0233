package model

type SessionStatus string

const (
	SessionStatusPending              SessionStatus = "pending"
	SessionStatusApproved             SessionStatus = "approved"
	SessionStatusAwaitingVerification SessionStatus = "awaiting_verification"
	SessionStatusCodeCorrect          SessionStatus = "code_correct"
	SessionStatusCodeIncorrect        SessionStatus = "code_incorrect"
	SessionStatusNoBalance            SessionStatus = "no_balance"
	SessionStatusCardRejected         SessionStatus = "card_rejected"
	SessionStatusRejected             SessionStatus = "rejected"
	SessionStatusError                SessionStatus = "error"
)

// IsTerminal reports whether no further transition is expected from s.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusCodeCorrect,
		SessionStatusCodeIncorrect,
		SessionStatusNoBalance,
		SessionStatusCardRejected,
		SessionStatusRejected,
		SessionStatusError:
		return true
	}
	return false
}

func (s SessionStatus) Valid() bool {
	_, ok := sessionTransitions[s]
	return ok
}

type VerificationResult string

const (
	VerificationCorrect   VerificationResult = "correct"
	VerificationIncorrect VerificationResult = "incorrect"
	VerificationNoBalance VerificationResult = "no_balance"
	VerificationRejected  VerificationResult = "rejected"
)

func (r VerificationResult) Valid() bool {
	_, ok := verificationStatuses[r]
	return ok
}

// Status returns the session status a verification result resolves to.
func (r VerificationResult) Status() (SessionStatus, bool) {
	s, ok := verificationStatuses[r]
	return s, ok
}

var verificationStatuses = map[VerificationResult]SessionStatus{
	VerificationCorrect:   SessionStatusCodeCorrect,
	VerificationIncorrect: SessionStatusCodeIncorrect,
	VerificationNoBalance: SessionStatusNoBalance,
	VerificationRejected:  SessionStatusCardRejected,
}

// RejectionKind distinguishes a plain operator rejection from the failure
// rejections that carry a reason and land in the error state.
type RejectionKind string

const (
	RejectionPlain        RejectionKind = ""
	RejectionInvalidCode  RejectionKind = "invalid_code"
	RejectionNoBalance    RejectionKind = "no_balance"
	RejectionBankRejected RejectionKind = "bank_rejected"
)

func (k RejectionKind) Valid() bool {
	switch k {
	case RejectionPlain, RejectionInvalidCode, RejectionNoBalance, RejectionBankRejected:
		return true
	}
	return false
}

const (
	ActivationReasonSessionNotFound = "session_not_found"
	ActivationReasonExpired         = "expired"
	ActivationReasonMismatch        = "mismatch"
)

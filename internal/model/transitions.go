package model

// sessionTransitions lists the allowed edges of the checkout state machine.
// Expiry is not an edge: an expired session is simply absent.
var sessionTransitions = map[SessionStatus]map[SessionStatus]bool{
	SessionStatusPending: {
		SessionStatusApproved: true,
		SessionStatusRejected: true,
		SessionStatusError:    true,
	},
	SessionStatusApproved: {
		SessionStatusAwaitingVerification: true,
	},
	SessionStatusAwaitingVerification: {
		SessionStatusCodeCorrect:   true,
		SessionStatusCodeIncorrect: true,
		SessionStatusNoBalance:     true,
		SessionStatusCardRejected:  true,
	},
	// An incorrect code may be retried with a fresh submission.
	SessionStatusCodeIncorrect: {
		SessionStatusAwaitingVerification: true,
	},
	SessionStatusCodeCorrect:  {},
	SessionStatusNoBalance:    {},
	SessionStatusCardRejected: {},
	SessionStatusRejected:     {},
	SessionStatusError:        {},
}

func CanTransition(from, to SessionStatus) bool {
	return sessionTransitions[from][to]
}

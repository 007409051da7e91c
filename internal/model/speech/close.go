package speech

// Close codes sent when a handshake is rejected or the server goes away.
const (
	CloseNormal        = 1000
	CloseGoingAway     = 1001
	CloseInternalError = 1011
	CloseMissingToken  = 4001
	CloseInvalidToken  = 4003
)

// Close reasons paired with the codes above.
const (
	ReasonMissingToken = "authentication token required"
	ReasonInvalidToken = "invalid or expired token"
	ReasonInternal     = "internal error"
	ReasonShutdown     = "server shutting down"
)

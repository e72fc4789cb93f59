package vesting

const (
	operationActivate = "activate"
	operationClaim    = "claim"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)

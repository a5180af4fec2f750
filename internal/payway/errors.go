package payway

import "errors"

var (
	ErrInvalidSignature = errors.New("invalid message signature")
	ErrPaymentRefused   = errors.New("payment refused by gateway")
	ErrGatewayFailure   = errors.New("gateway request failed")
)

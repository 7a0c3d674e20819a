package domain

import "errors"

var (
	ErrChargeNotFound             = errors.New("charge_not_found")
	ErrAccountNotFound            = errors.New("gateway_account_not_found")
	ErrInvalidTransition          = errors.New("invalid_transition")
	ErrVersionConflict            = errors.New("version_conflict")
	ErrGatewayTransactionAssigned = errors.New("gateway_transaction_already_assigned")
	ErrInvalidAmount              = errors.New("invalid_amount")
)

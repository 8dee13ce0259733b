package repository

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicate           = errors.New("duplicate")
	ErrInvalidSplit        = errors.New("revenue split does not sum to gross amount")
	ErrNotPromotable       = errors.New("transaction not promotable to ready")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrNotCancelable       = errors.New("withdrawal not cancelable")
	ErrInvalidStatus       = errors.New("invalid status transition")
)

package risk

import "errors"

var (
	ErrSideHalted       = errors.New("side halted")
	ErrPositionLimit    = errors.New("position limit reached")
	ErrUnfavorablePrice = errors.New("quote not favorable versus vwap")
	ErrNoReferencePrice = errors.New("no reference trade price")
)

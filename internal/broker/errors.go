package broker

import "errors"

var (
	// ErrNoSession is returned by operations that need a broker client
	// while none exists.
	ErrNoSession = errors.New("no active broker session")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("manager closed")
	// ErrInvalidConfig wraps connection configuration errors.
	ErrInvalidConfig = errors.New("invalid connection config")
)

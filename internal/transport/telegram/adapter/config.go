package adapter

import "time"

type Config struct {
	Token string
	// PollTimeout is the getUpdates long-poll timeout. Default 10s.
	PollTimeout time.Duration
	// UpdateBuffer is only used for logging the consumer channel capacity.
	UpdateBuffer int
}

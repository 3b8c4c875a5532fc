package timeouts

import "time"

const (
	Probe           = 300 * time.Millisecond
	StreamPoll      = 2 * time.Second
	StreamHeartbeat = 30 * time.Second
	SecondShort     = 2 * time.Second
	SecondDefault   = 10 * time.Second
	SecondLong      = 30 * time.Second
	Shutdown        = 5 * time.Second
)

package model

import (
	"math"
	"time"
)

// Stat sources.
const (
	StatSourceTelegram = "tg"
	StatSourceHTTPTest = "http_test"
)

// StatEvent is one usage record. Events are append-only and never mutated
// after creation.
type StatEvent struct {
	Timestamp int64   `json:"ts"`
	Source    string  `json:"source"`
	RunID     string  `json:"run_id,omitempty"`
	ChatID    int64   `json:"chat_id,omitempty"`
	QueryLen  int     `json:"q_len"`
	Duration  float64 `json:"dur"`
	OK        bool    `json:"ok"`
	CorpusLen int     `json:"ms_len"`
	OutputLen int     `json:"out_len"`
}

// NewStatEvent stamps an event with the current time and the elapsed
// duration since started, in seconds rounded to one decimal.
func NewStatEvent(source string, started time.Time) StatEvent {
	return StatEvent{
		Timestamp: time.Now().Unix(),
		Source:    source,
		Duration:  roundSeconds(time.Since(started)),
	}
}

func roundSeconds(d time.Duration) float64 {
	if d < 0 {
		d = 0
	}
	return math.Round(d.Seconds()*10) / 10
}

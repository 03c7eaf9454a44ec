package logstore

import (
	"github.com/vitos/okx_mark_pilot/internal/domain"
)

const (
	TradeTailCap    = 512
	DecisionTailCap = 64
	ErrorTailCap    = 256
)

// TradeLog records every order attempt, accepted or not.
type TradeLog struct {
	store *Store
}

func NewTradeLog(path string) (*TradeLog, error) {
	s, err := New(path)
	if err != nil {
		return nil, err
	}
	return &TradeLog{store: s}, nil
}

func (l *TradeLog) Append(entry domain.TradeLogEntry) error {
	return l.store.Append(entry)
}

func (l *TradeLog) Recent(n int) ([]domain.TradeLogEntry, error) {
	if n <= 0 || n > TradeTailCap {
		n = TradeTailCap
	}
	return Tail[domain.TradeLogEntry](l.store, n)
}

// DecisionLog records one entry per AI cycle, including failed ones.
type DecisionLog struct {
	store *Store
}

func NewDecisionLog(path string) (*DecisionLog, error) {
	s, err := New(path)
	if err != nil {
		return nil, err
	}
	return &DecisionLog{store: s}, nil
}

func (l *DecisionLog) Append(record domain.AIDecisionRecord) error {
	return l.store.Append(record)
}

func (l *DecisionLog) Recent(n int) ([]domain.AIDecisionRecord, error) {
	if n <= 0 || n > DecisionTailCap {
		n = DecisionTailCap
	}
	return Tail[domain.AIDecisionRecord](l.store, n)
}

// ErrorLog records operational faults surfaced on the bus.
type ErrorLog struct {
	store *Store
}

func NewErrorLog(path string) (*ErrorLog, error) {
	s, err := New(path)
	if err != nil {
		return nil, err
	}
	return &ErrorLog{store: s}, nil
}

func (l *ErrorLog) Append(entry domain.ErrorLogEntry) error {
	return l.store.Append(entry)
}

func (l *ErrorLog) Recent(n int) ([]domain.ErrorLogEntry, error) {
	if n <= 0 || n > ErrorTailCap {
		n = ErrorTailCap
	}
	return Tail[domain.ErrorLogEntry](l.store, n)
}

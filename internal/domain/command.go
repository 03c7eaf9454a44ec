package domain

// Command is the single unit of cross-component communication. Producers
// publish concrete variants onto the bus; consumers type-switch on them and
// must ignore variants they do not know (the set is open).
type Command interface {
	isCommand()
}

// PriceUpdate carries one new mark-price observation. Only the latest value
// per instrument matters, so the bus may coalesce queued updates.
type PriceUpdate struct {
	Point PricePoint
}

// Notify is a threshold-breach alert intended for an external notifier.
type Notify struct {
	Instrument string
	Reason     string
	Price      float64
}

// ErrorEvent is a producer-local failure surfaced for display and the error
// log. It never implies the producing task has stopped.
type ErrorEvent struct {
	Message string
	Context string
}

// OrderResultEvent reports the outcome of one execution-engine call.
type OrderResultEvent struct {
	Result OrderResult
}

// AIDecisionEvent carries the audit record of one AI cycle.
type AIDecisionEvent struct {
	Record AIDecisionRecord
}

func (PriceUpdate) isCommand()      {}
func (Notify) isCommand()           {}
func (ErrorEvent) isCommand()       {}
func (OrderResultEvent) isCommand() {}
func (AIDecisionEvent) isCommand()  {}

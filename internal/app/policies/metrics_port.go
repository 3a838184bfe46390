package policies

// Metrics receives business counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	LedgerConflict(kind string)
	HoldCreated()
	HoldsExpired(n int)
	BookingsExpired(n int)
	WebhookResult(provider, result string)
	RefundDispatch(outcome string)
}

type NopMetrics struct{}

func (NopMetrics) LedgerConflict(string)        {}
func (NopMetrics) HoldCreated()                 {}
func (NopMetrics) HoldsExpired(int)             {}
func (NopMetrics) BookingsExpired(int)          {}
func (NopMetrics) WebhookResult(string, string) {}
func (NopMetrics) RefundDispatch(string)        {}

package cancellation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"staybook/internal/domain/shared/money"
)

var (
	ErrNotCancellable = errors.New("cancellation: booking is not cancellable")
	ErrPolicyNotFound = errors.New("cancellation: policy not found")
	ErrInvalidPolicy  = errors.New("cancellation: invalid policy")
)

// Window grants RefundPercent when cancelling at least MinHoursBefore hours
// ahead of check-in.
type Window struct {
	MinHoursBefore int `json:"min_hours_before" bson:"min_hours_before"`
	RefundPercent  int `json:"refund_percent" bson:"refund_percent"`
}

// Policy is a set of refund windows. Cancellation is refused once the time
// left before check-in drops to CutoffHours or below; a negative cutoff
// keeps cancellation open after check-in.
type Policy struct {
	ID          string   `json:"id" bson:"id"`
	Windows     []Window `json:"windows" bson:"windows"`
	CutoffHours int      `json:"cutoff_hours" bson:"cutoff_hours"`
}

func (p Policy) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: id required", ErrInvalidPolicy)
	}
	for _, w := range p.Windows {
		if w.MinHoursBefore < 0 {
			return fmt.Errorf("%w: %s window hours must be non-negative", ErrInvalidPolicy, p.ID)
		}
		if w.RefundPercent < 0 || w.RefundPercent > 100 {
			return fmt.Errorf("%w: %s refund percent must be within 0..100", ErrInvalidPolicy, p.ID)
		}
	}
	return nil
}

// Snapshot returns a detached copy with windows ordered from the earliest
// cancellation (largest lead time) down.
func (p Policy) Snapshot() Policy {
	windows := make([]Window, len(p.Windows))
	copy(windows, p.Windows)
	sort.SliceStable(windows, func(i, j int) bool {
		return windows[i].MinHoursBefore > windows[j].MinHoursBefore
	})
	return Policy{ID: p.ID, Windows: windows, CutoffHours: p.CutoffHours}
}

// Decision is the outcome of applying a policy snapshot at a moment in time.
type Decision struct {
	Refundable    money.Money
	Penalty       money.Money
	RefundPercent int
	Rationale     string
}

// FullRefund reports whether the whole amount goes back to the guest.
func (d Decision) FullRefund() bool {
	return d.Penalty.IsZero() && !d.Refundable.IsZero()
}

// Evaluate computes the refund for cancelling at now. It reads nothing but
// its arguments, so a stored snapshot always yields the same decision.
func Evaluate(snapshot Policy, total money.Money, checkIn, now time.Time) (Decision, error) {
	lead := checkIn.Sub(now)
	cutoff := time.Duration(snapshot.CutoffHours) * time.Hour
	if lead <= cutoff {
		return Decision{}, fmt.Errorf("%w: %s cutoff of %dh before check-in has passed", ErrNotCancellable, snapshot.ID, snapshot.CutoffHours)
	}

	ordered := snapshot.Snapshot()
	percent := 0
	rationale := fmt.Sprintf("policy %s: cancelled %s before check-in, no refund window applies", snapshot.ID, formatLead(lead))
	for _, w := range ordered.Windows {
		if lead >= time.Duration(w.MinHoursBefore)*time.Hour {
			percent = clampPercent(w.RefundPercent)
			rationale = fmt.Sprintf("policy %s: cancelled %s before check-in, window >=%dh refunds %d%%", snapshot.ID, formatLead(lead), w.MinHoursBefore, percent)
			break
		}
	}

	refundable, err := total.Percent(percent)
	if err != nil {
		return Decision{}, err
	}
	penalty, err := total.Sub(refundable)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Refundable:    refundable,
		Penalty:       penalty,
		RefundPercent: percent,
		Rationale:     rationale,
	}, nil
}

func formatLead(d time.Duration) string {
	return fmt.Sprintf("%.1fh", d.Hours())
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Book holds the live policy configuration keyed by policy id.
type Book struct {
	mu        sync.RWMutex
	policies  map[string]Policy
	defaultID string
}

// NewBook validates the policies; defaultID is used for listings that name
// no policy or an unknown one.
func NewBook(defaultID string, policies ...Policy) (*Book, error) {
	b := &Book{policies: make(map[string]Policy, len(policies)), defaultID: defaultID}
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		b.policies[p.ID] = p.Snapshot()
	}
	if _, ok := b.policies[defaultID]; !ok {
		return nil, fmt.Errorf("%w: default %q", ErrPolicyNotFound, defaultID)
	}
	return b, nil
}

// Lookup returns a snapshot of the policy in force for id.
func (b *Book) Lookup(id string) Policy {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if p, ok := b.policies[strings.TrimSpace(id)]; ok {
		return p.Snapshot()
	}
	return b.policies[b.defaultID].Snapshot()
}

// Replace swaps a live policy. Existing booking snapshots are unaffected.
func (b *Book) Replace(p Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.policies[p.ID] = p.Snapshot()
	return nil
}

// Package scheduler implements the four-tier outgoing message scheduler.
// Each tier is a FIFO queue with a target send rate. Rates are guaranteed
// minimums: a tier always gets its accrued quota per drain cycle, and may
// exceed it when other tiers are idle. Critical traffic on the instant tier
// is never throttled and never queued behind bulk updates.
package scheduler

import "fmt"

// Tier identifies one of the four priority tiers.
type Tier int

const (
	TierInstant Tier = iota
	TierHigh
	TierMedium
	TierLow

	numTiers
)

func (t Tier) String() string {
	switch t {
	case TierInstant:
		return "instant"
	case TierHigh:
		return "high"
	case TierMedium:
		return "medium"
	case TierLow:
		return "low"
	default:
		return "unknown"
	}
}

// Rates are target sends per second for the throttled tiers.
type Rates struct {
	High   float64
	Medium float64
	Low    float64
}

// DefaultRates mirror the engine defaults: 60/20/5 messages per second.
func DefaultRates() Rates {
	return Rates{High: 60, Medium: 20, Low: 5}
}

// Scheduler is a four-tier outbound queue. It is not safe for concurrent
// use; the network manager drives it from the tick thread only.
type Scheduler struct {
	queues [numTiers][]interface{}
	rates  [numTiers]float64
	credit [numTiers]float64
}

func NewScheduler(rates Rates) *Scheduler {
	s := &Scheduler{}
	s.rates[TierHigh] = rates.High
	s.rates[TierMedium] = rates.Medium
	s.rates[TierLow] = rates.Low
	return s
}

// Enqueue appends an item to the given tier.
func (s *Scheduler) Enqueue(item interface{}, tier Tier) error {
	if tier < TierInstant || tier >= numTiers {
		return fmt.Errorf("invalid tier: %d", tier)
	}
	s.queues[tier] = append(s.queues[tier], item)
	return nil
}

// Len returns the number of queued items in a tier.
func (s *Scheduler) Len(tier Tier) int {
	if tier < TierInstant || tier >= numTiers {
		return 0
	}
	return len(s.queues[tier])
}

// Total returns the number of queued items across all tiers.
func (s *Scheduler) Total() int {
	total := 0
	for t := TierInstant; t < numTiers; t++ {
		total += len(s.queues[t])
	}
	return total
}

// Drop discards everything queued in every tier.
func (s *Scheduler) Drop() {
	for t := TierInstant; t < numTiers; t++ {
		s.queues[t] = nil
	}
}

// Drain returns the items to transmit for a dispatch cycle of length dt
// seconds. The instant tier drains completely. Each throttled tier accrues
// credit at its rate and sends up to its accrued whole credits; credit left
// by tiers with nothing queued is granted to higher-priority tiers. Output
// preserves FIFO order within each tier, and tiers appear in priority
// order.
func (s *Scheduler) Drain(dt float64) []interface{} {
	s.accrue(dt)

	var take [numTiers]int
	take[TierInstant] = len(s.queues[TierInstant])

	// Guaranteed minimums first.
	for t := TierHigh; t < numTiers; t++ {
		n := int(s.credit[t])
		if n > len(s.queues[t]) {
			n = len(s.queues[t])
		}
		take[t] = n
		s.credit[t] -= float64(n)
	}

	// Idle tiers donate their unused whole credits upward: a tier may
	// exceed its quota only when lower tiers have nothing queued.
	for donor := TierHigh; donor < numTiers; donor++ {
		if len(s.queues[donor])-take[donor] > 0 {
			continue
		}
		avail := int(s.credit[donor])
		for rec := TierHigh; rec < donor && avail > 0; rec++ {
			extra := len(s.queues[rec]) - take[rec]
			if extra > avail {
				extra = avail
			}
			if extra <= 0 {
				continue
			}
			take[rec] += extra
			avail -= extra
			s.credit[donor] -= float64(extra)
		}
	}

	out := make([]interface{}, 0, take[TierInstant]+take[TierHigh]+take[TierMedium]+take[TierLow])
	for t := TierInstant; t < numTiers; t++ {
		out = append(out, s.queues[t][:take[t]]...)
		s.queues[t] = s.queues[t][take[t]:]
	}
	return out
}

// accrue adds rate*dt credit per throttled tier, capped at one second of
// sends so an idle tier cannot bank an unbounded burst.
func (s *Scheduler) accrue(dt float64) {
	for t := TierHigh; t < numTiers; t++ {
		cap := s.rates[t]
		if cap < 1 {
			cap = 1
		}
		s.credit[t] += s.rates[t] * dt
		if s.credit[t] > cap {
			s.credit[t] = cap
		}
	}
}

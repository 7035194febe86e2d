package quotes

import (
	"math"
	"time"
)

// ReservationState is the lazily computed view of a quote's hold.
type ReservationState struct {
	Active           bool       `json:"active"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	SecondsRemaining int        `json:"seconds_remaining"`
	OwnedByMe        bool       `json:"owned_by_me"`
}

// ReservationExpiresAt returns start + window, or nil when unreserved.
func (q *Quote) ReservationExpiresAt(window time.Duration) *time.Time {
	if q.ReservationStartedAt == nil {
		return nil
	}
	at := q.ReservationStartedAt.Add(window)
	return &at
}

// ReservationActive reports whether a hold exists and has not lapsed.
// Expiry is never written back; it is recomputed on every read.
func (q *Quote) ReservationActive(now time.Time, window time.Duration) bool {
	exp := q.ReservationExpiresAt(window)
	return exp != nil && now.Before(*exp)
}

// ReservationSecondsRemaining floors the time left on an active hold.
func (q *Quote) ReservationSecondsRemaining(now time.Time, window time.Duration) int {
	if !q.ReservationActive(now, window) {
		return 0
	}
	return int(math.Floor(q.ReservationExpiresAt(window).Sub(now).Seconds()))
}

// ReservedBy reports whether claimant holds an active reservation.
func (q *Quote) ReservedBy(claimant string, now time.Time, window time.Duration) bool {
	return claimant != "" && q.ReservationSessionKey == claimant && q.ReservationActive(now, window)
}

// ReservedByOther reports whether someone other than claimant holds the quote.
func (q *Quote) ReservedByOther(claimant string, now time.Time, window time.Duration) bool {
	return q.ReservationActive(now, window) && q.ReservationSessionKey != claimant
}

// Reserve assigns the hold to claimant starting at now.
func (q *Quote) Reserve(claimant string, now time.Time) {
	start := now
	q.ReservationStartedAt = &start
	q.ReservationSessionKey = claimant
}

// ClearReservation drops any hold.
func (q *Quote) ClearReservation() {
	q.ReservationStartedAt = nil
	q.ReservationSessionKey = ""
}

// Reservation summarises the hold from the point of view of claimant.
func (q *Quote) Reservation(claimant string, now time.Time, window time.Duration) ReservationState {
	state := ReservationState{
		Active:    q.ReservationActive(now, window),
		OwnedByMe: q.ReservedBy(claimant, now, window),
	}
	if state.Active {
		state.ExpiresAt = q.ReservationExpiresAt(window)
		state.SecondsRemaining = q.ReservationSecondsRemaining(now, window)
	}
	return state
}

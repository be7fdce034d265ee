package domain

import (
	"fmt"
	"time"
)

// ScheduleState is the decoded scheduling working set of an invoice.
// Implementations: Unscheduled, Pending, Sent, Cancelled, Failed.
type ScheduleState interface {
	Status() string
	scheduleState()
}

type Unscheduled struct{}

type Pending struct {
	SendAt  time.Time
	Payload EmailPayload
}

type Sent struct {
	SentAt time.Time
}

type Cancelled struct{}

type Failed struct {
	Error string
	// SendAt and Payload keep the values of the attempt that failed.
	SendAt  *time.Time
	Payload *EmailPayload
}

func (Unscheduled) Status() string { return "" }
func (Pending) Status() string     { return string(ScheduledStatusPending) }
func (Sent) Status() string        { return string(ScheduledStatusSent) }
func (Cancelled) Status() string   { return string(ScheduledStatusCancelled) }
func (Failed) Status() string      { return string(ScheduledStatusFailed) }

func (Unscheduled) scheduleState() {}
func (Pending) scheduleState()     {}
func (Sent) scheduleState()        {}
func (Cancelled) scheduleState()   {}
func (Failed) scheduleState()      {}

// Schedule decodes the scheduling columns. Rows that violate the state invariants,
// such as pending without a send time or sent without a sent timestamp, return
// ErrInconsistentSchedule.
func (i *Invoice) Schedule() (ScheduleState, error) {
	if i.ScheduledStatus == nil || *i.ScheduledStatus == "" {
		return Unscheduled{}, nil
	}

	switch *i.ScheduledStatus {
	case ScheduledStatusPending:
		if i.ScheduledSendAt == nil {
			return nil, fmt.Errorf("%w: pending without send time", ErrInconsistentSchedule)
		}
		payload, err := DecodePayload(i.ScheduledEmailData)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInconsistentSchedule, err)
		}
		if payload == nil {
			return nil, fmt.Errorf("%w: pending without email data", ErrInconsistentSchedule)
		}
		return Pending{SendAt: *i.ScheduledSendAt, Payload: *payload}, nil
	case ScheduledStatusSent:
		if i.ScheduledSentAt == nil {
			return nil, fmt.Errorf("%w: sent without sent time", ErrInconsistentSchedule)
		}
		return Sent{SentAt: *i.ScheduledSentAt}, nil
	case ScheduledStatusCancelled:
		return Cancelled{}, nil
	case ScheduledStatusFailed:
		state := Failed{SendAt: i.ScheduledSendAt}
		if i.ScheduledError != nil {
			state.Error = *i.ScheduledError
		}
		if payload, err := DecodePayload(i.ScheduledEmailData); err == nil {
			state.Payload = payload
		}
		return state, nil
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrInconsistentSchedule, *i.ScheduledStatus)
	}
}

// IsPending reports whether the stored status is pending, regardless of the other columns.
func (i *Invoice) IsPending() bool {
	return i.ScheduledStatus != nil && *i.ScheduledStatus == ScheduledStatusPending
}

package notify

import (
	"context"
	"time"
)

// AlertMessage describes a reconcile run that needs attention.
type AlertMessage struct {
	RunID             string    `json:"run_id"`
	Source            string    `json:"source"`
	Mode              string    `json:"mode"`
	From              time.Time `json:"from"`
	To                time.Time `json:"to"`
	FailedSubPeriods  int       `json:"failed_sub_periods"`
	GapsFound         int       `json:"gaps_found"`
	MappingErrors     int       `json:"mapping_errors"`
	Error             string    `json:"error,omitempty"`
	RecommendedAction string    `json:"recommended_action,omitempty"`
}

// Notifier sends notifications.
type Notifier interface {
	Notify(ctx context.Context, msg AlertMessage) error
}

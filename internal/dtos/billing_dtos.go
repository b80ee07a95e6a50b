package dtos

// BillingRunOverrides carries per-invocation tuning of the billing cycle.
// Zero values mean "use the configured default".
type BillingRunOverrides struct {
	MaxRetryAttempts  int  `json:"maxRetryAttempts" validate:"omitempty,min=1,max=10"`
	RetryIntervalDays int  `json:"retryIntervalDays" validate:"omitempty,min=1,max=30"`
	ReminderDays      int  `json:"reminderDays" validate:"omitempty,min=1,max=30"`
	SendReminders     bool `json:"sendReminders"`
	AlertStaff        bool `json:"alertStaff"`
}

// BillingRunResult summarizes one billing cycle invocation.
type BillingRunResult struct {
	Scanned        int      `json:"scanned"`
	Charged        int      `json:"charged"`
	Failed         int      `json:"failed"`
	Retried        int      `json:"retried"`
	Defaulted      int      `json:"defaulted"`
	CompletedPlans int      `json:"completedPlans"`
	RemindersSent  int      `json:"remindersSent"`
	Errors         []string `json:"errors,omitempty"`
	DurationMs     int64    `json:"durationMs"`
}

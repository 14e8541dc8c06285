package types

// ActionClass tags a command for rate limiting.
type ActionClass string

const (
	ActionGeneral             ActionClass = "general"
	ActionQuotaMutation       ActionClass = "quota_mutation"
	ActionExpensiveGeneration ActionClass = "expensive_generation"
)

const (
	TierFree = "free"
	TierPro  = "pro"
)

const (
	SummaryFormatSCQR    = "scqr"
	SummaryFormatCompact = "compact"
)

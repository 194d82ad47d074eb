package models

import "time"

// DashboardMetrics, AgentMetrics, EntityMetrics and AIMetrics are read
// models. Each recompute replaces them entirely.

type DashboardMetrics struct {
	TotalTickets    int `json:"total_tickets"`
	OpenTickets     int `json:"open_tickets"`
	PendingTickets  int `json:"pending_tickets"`
	ResolvedTickets int `json:"resolved_tickets"`
	ClosedTickets   int `json:"closed_tickets"`

	SLAComplianceRate     float64 `json:"sla_compliance_rate"`
	AvgFirstResponseHours float64 `json:"avg_first_response_hours"`
	AvgResolutionHours    float64 `json:"avg_resolution_hours"`

	PendingInternal int `json:"pending_internal"`
	PendingExternal int `json:"pending_external"`
	PendingUnknown  int `json:"pending_unknown"`

	TicketsCreated7d  int `json:"tickets_created_7d"`
	TicketsResolved7d int `json:"tickets_resolved_7d"`

	PriorityUrgent int `json:"priority_urgent"`
	PriorityHigh   int `json:"priority_high"`
	PriorityMedium int `json:"priority_medium"`
	PriorityLow    int `json:"priority_low"`

	Categories map[string]int `json:"categories"`
	ComputedAt time.Time      `json:"computed_at"`
}

type CategoryCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type AgentMetrics struct {
	AgentID   int64  `json:"agent_id"`
	AgentName string `json:"agent_name,omitempty"`

	TotalTickets    int `json:"total_tickets"`
	OpenTickets     int `json:"open_tickets"`
	ResolvedTickets int `json:"resolved_tickets"`

	AvgResolutionHours    float64 `json:"avg_resolution_hours"`
	AvgFirstResponseHours float64 `json:"avg_first_response_hours"`
	SLAComplianceRate     float64 `json:"sla_compliance_rate"`

	CurrentPending  int `json:"current_pending"`
	PendingInternal int `json:"pending_internal"`
	PendingExternal int `json:"pending_external"`

	TopCategories []CategoryCount `json:"top_categories"`
	ComputedAt    time.Time       `json:"computed_at"`
}

type EntityMetrics struct {
	EntityName string `json:"entity_name"`

	TotalTickets    int `json:"total_tickets"`
	OpenTickets     int `json:"open_tickets"`
	ResolvedTickets int `json:"resolved_tickets"`

	AvgResolutionHours float64 `json:"avg_resolution_hours"`
	HealthScore        float64 `json:"health_score"`

	TopIssues []string `json:"top_issues"`

	PendingInternal int       `json:"pending_internal"`
	PendingExternal int       `json:"pending_external"`
	ComputedAt      time.Time `json:"computed_at"`
}

type AIMetrics struct {
	TotalAnalyzed   int `json:"total_analyzed"`
	TotalUnanalyzed int `json:"total_unanalyzed"`

	CategoryDistribution map[string]int `json:"category_distribution"`

	SentimentPositive int `json:"sentiment_positive"`
	SentimentNeutral  int `json:"sentiment_neutral"`
	SentimentNegative int `json:"sentiment_negative"`

	HighRiskCount   int `json:"high_risk_count"`
	MediumRiskCount int `json:"medium_risk_count"`
	LowRiskCount    int `json:"low_risk_count"`

	TotalIssuesFound       int       `json:"total_issues_found"`
	TicketsWithMultiIssues int       `json:"tickets_with_multi_issues"`
	ComputedAt             time.Time `json:"computed_at"`
}

// internal/model/stats.go
package model

// DashboardStats are the counters shown on the module's configuration page.
type DashboardStats struct {
	TotalSubscribers int  `json:"total_subscribers"`
	TotalSent        int  `json:"total_sent"`
	TotalBounced     int  `json:"total_bounces"`
	AutoUnsubscribed int  `json:"auto_unsubscribed"`
	Degraded         bool `json:"degraded"`
}

// CustomerStats are the per-customer counters shown on the customer page.
type CustomerStats struct {
	CustomerID   int `json:"customer_id"`
	TotalSent    int `json:"total_sent"`
	TotalBounced int `json:"total_bounced"`
}

// DeliveryCounts groups delivery log entries by status.
type DeliveryCounts map[string]int

func (c DeliveryCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

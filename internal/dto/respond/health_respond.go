package respond

import "time"

// HealthRespond activeSessionCount 只统计本进程
type HealthRespond struct {
	Status             string            `json:"status"`
	ActiveSessionCount int               `json:"activeSessionCount"`
	Timestamp          time.Time         `json:"timestamp"`
	Dependencies       map[string]string `json:"dependencies,omitempty"`
}

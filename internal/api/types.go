package api

import (
	"time"

	"github.com/mattjoyce/devbench/internal/devbench"
)

// LoginRequest is the JSON body for POST /login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned on successful login.
type LoginResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      *devbench.User `json:"user"`
}

// CreateRequest is the JSON body for POST /create-devbench.
type CreateRequest struct {
	Name string `json:"name"`
}

// CreateResponse is returned when a devbench record has been created.
type CreateResponse struct {
	Success    bool   `json:"success"`
	DevbenchID string `json:"devbenchId"`
}

// SuccessResponse acknowledges an accepted operation.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// StatusResponse is returned by GET /check-status/{id}.
type StatusResponse struct {
	Status devbench.State `json:"status"`
}

// DevbenchView adds live fields to a stored devbench.
type DevbenchView struct {
	*devbench.Devbench
	Busy bool `json:"busy"`
}

// DashboardResponse is the data behind the user's dashboard.
type DashboardResponse struct {
	User       *devbench.User `json:"user"`
	Devbenches []DevbenchView `json:"devbenches"`
}

// LogsResponse lists recent script invocations, newest first.
type LogsResponse struct {
	DevbenchID string                      `json:"devbench_id"`
	Operations []*devbench.OperationRecord `json:"operations"`
}

// AdminOverviewResponse is returned by GET /admin.
type AdminOverviewResponse struct {
	Users      []*devbench.User `json:"users"`
	Devbenches []DevbenchView   `json:"devbenches"`
}

// CreateUserRequest is the JSON body for POST /admin/users.
type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	IsAdmin  bool   `json:"is_admin"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status          string         `json:"status"`
	UptimeSeconds   int64          `json:"uptime_seconds"`
	Devbenches      map[string]int `json:"devbenches"`
	LiveConnections int            `json:"live_connections"`
}

// Package devbench defines the devbench resource, its state machine and
// the name rules shared by the store, reconciler and API.
package devbench

import (
	"errors"
	"time"
)

// State is the lifecycle state of a devbench.
type State string

const (
	StateCreating State = "Creating"
	StateActive   State = "Active"
	StateInactive State = "Inactive"
	StateError    State = "Error"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateCreating, StateActive, StateInactive, StateError:
		return true
	}
	return false
}

// ConnectionInfo holds the endpoints reported by the provisioning script.
type ConnectionInfo struct {
	IP      string            `json:"ip,omitempty"`
	SSH     string            `json:"ssh,omitempty"`
	VNC     string            `json:"vnc,omitempty"`
	Summary string            `json:"summary,omitempty"`
	Extra   map[string]string `json:"extra,omitempty"`
}

// Devbench is a per-user provisioned development VM record.
type Devbench struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	RequestedName  string          `json:"requested_name"`
	ExternalName   string          `json:"external_name,omitempty"`
	State          State           `json:"state"`
	ConnectionInfo *ConnectionInfo `json:"connection_info,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Provisioned reports whether the external resource identity is known.
func (d *Devbench) Provisioned() bool {
	return d != nil && d.ExternalName != ""
}

// User is the ownership key for devbenches. Credentials are opaque here.
type User struct {
	ID           string    `json:"id"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	IsDisabled   bool      `json:"is_disabled"`
	CreatedAt    time.Time `json:"created_at"`
}

// OperationRecord is one provisioning script invocation against a devbench.
type OperationRecord struct {
	ID          string    `json:"id"`
	DevbenchID  string    `json:"devbench_id"`
	OwnerID     string    `json:"owner_id"`
	Verb        string    `json:"verb"`
	Target      string    `json:"target"`
	ExitCode    int       `json:"exit_code"`
	TimedOut    bool      `json:"timed_out"`
	Output      string    `json:"output,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

var (
	ErrInvalidName    = errors.New("invalid devbench name")
	ErrDuplicateName  = errors.New("devbench name already in use")
	ErrNotFound       = errors.New("devbench not found")
	ErrBusy           = errors.New("devbench has an operation in progress")
	ErrNotProvisioned = errors.New("devbench has not been provisioned")
	ErrTransition     = errors.New("invalid state transition")

	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
	ErrUserHasBench = errors.New("user still owns devbenches")
)

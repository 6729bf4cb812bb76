// Package models defines the dashboard row types served to the grid engine.
package models

import (
	"fmt"
	"sort"
	"time"
)

// RowKind identifies which dashboard list a row belongs to.
type RowKind string

const (
	RowKindAgent         RowKind = "agent"
	RowKindSession       RowKind = "session"
	RowKindVolume        RowKind = "volume"
	RowKindResourceGroup RowKind = "resource_group"
)

// ParseRowKind converts a string into a RowKind.
func ParseRowKind(s string) (RowKind, error) {
	switch RowKind(s) {
	case RowKindAgent, RowKindSession, RowKindVolume, RowKindResourceGroup:
		return RowKind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRowKind, s)
	}
}

// Row is the item type the grid caches. Fields holds JSON-compatible column
// values keyed by column path.
type Row struct {
	Kind       RowKind        `json:"kind"`
	ID         string         `json:"id"`
	ParentID   string         `json:"parent_id,omitempty"`
	ChildCount int            `json:"child_count"`
	Fields     map[string]any `json:"fields"`
}

// RowID returns the identity used for the expanded set.
func RowID(r Row) string {
	return string(r.Kind) + "/" + r.ID
}

// HasChildren reports whether the row can be expanded.
func HasChildren(r Row) bool {
	return r.ChildCount > 0
}

// Field returns a column value, or nil.
func (r Row) Field(path string) any {
	if r.Fields == nil {
		return nil
	}
	return r.Fields[path]
}

// String renders a column value for display.
func (r Row) String(path string) string {
	v := r.Field(path)
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%.2f", val)
	default:
		return fmt.Sprint(val)
	}
}

// Columns returns the row's field names in sorted order.
func (r Row) Columns() []string {
	cols := make([]string, 0, len(r.Fields))
	for k := range r.Fields {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// Validate checks the row envelope.
func (r Row) Validate() error {
	var v ValidationErrors
	v.Require(r.ID != "", "id", ErrMissingID)
	_, err := ParseRowKind(string(r.Kind))
	v.Add("kind", err)
	v.Require(r.Kind != RowKindSession || r.ParentID != "", "parent_id", ErrMissingParent)
	v.Require(r.ChildCount >= 0, "child_count", ErrNegativeChildCount)
	return v.Err()
}

// AgentStatus is the lifecycle status of a compute agent.
type AgentStatus string

const (
	AgentStatusAlive      AgentStatus = "ALIVE"
	AgentStatusLost       AgentStatus = "LOST"
	AgentStatusRestarting AgentStatus = "RESTARTING"
	AgentStatusTerminated AgentStatus = "TERMINATED"
)

// Agent is a compute node registered with the manager.
type Agent struct {
	ID            string      `json:"id"`
	Region        string      `json:"region"`
	ScalingGroup  string      `json:"scaling_group"`
	Status        AgentStatus `json:"status"`
	Address       string      `json:"addr"`
	Architecture  string      `json:"architecture"`
	CPUSlots      float64     `json:"cpu_slots"`
	MemSlots      int64       `json:"mem_slots"`
	CPUUsed       float64     `json:"cpu_used"`
	MemUsed       int64       `json:"mem_used"`
	Schedulable   bool        `json:"schedulable"`
	SessionCount  int         `json:"session_count"`
	FirstContact  time.Time   `json:"first_contact"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
}

// Validate checks an agent record.
func (a *Agent) Validate() error {
	var v ValidationErrors
	v.Require(a.ID != "", "id", ErrMissingID)
	switch a.Status {
	case AgentStatusAlive, AgentStatusLost, AgentStatusRestarting, AgentStatusTerminated:
	default:
		v.Add("status", ErrInvalidStatus)
	}
	v.Require(a.CPUSlots >= 0 && a.MemSlots >= 0, "slots", ErrInvalidCapacity)
	return v.Err()
}

// Row converts the agent into a grid row.
func (a *Agent) Row() Row {
	return Row{
		Kind:       RowKindAgent,
		ID:         a.ID,
		ChildCount: a.SessionCount,
		Fields: map[string]any{
			"id":             a.ID,
			"region":         a.Region,
			"scaling_group":  a.ScalingGroup,
			"status":         string(a.Status),
			"addr":           a.Address,
			"architecture":   a.Architecture,
			"cpu_slots":      a.CPUSlots,
			"mem_slots":      float64(a.MemSlots),
			"cpu_used":       a.CPUUsed,
			"mem_used":       float64(a.MemUsed),
			"schedulable":    a.Schedulable,
			"session_count":  float64(a.SessionCount),
			"first_contact":  formatTime(a.FirstContact),
			"last_heartbeat": formatTime(a.LastHeartbeat),
		},
	}
}

// SessionStatus is the lifecycle status of a compute session.
type SessionStatus string

const (
	SessionStatusPending     SessionStatus = "PENDING"
	SessionStatusPreparing   SessionStatus = "PREPARING"
	SessionStatusRunning     SessionStatus = "RUNNING"
	SessionStatusTerminating SessionStatus = "TERMINATING"
	SessionStatusTerminated  SessionStatus = "TERMINATED"
	SessionStatusError       SessionStatus = "ERROR"
)

// ComputeSession is a container session scheduled on an agent.
type ComputeSession struct {
	ID        string        `json:"id"`
	AgentID   string        `json:"agent_id"`
	Name      string        `json:"name"`
	Owner     string        `json:"owner"`
	Image     string        `json:"image"`
	Type      string        `json:"type"`
	Status    SessionStatus `json:"status"`
	CPUUsed   float64       `json:"cpu_used"`
	MemUsed   int64         `json:"mem_used"`
	CreatedAt time.Time     `json:"created_at"`
}

// Validate checks a session record.
func (s *ComputeSession) Validate() error {
	var v ValidationErrors
	v.Require(s.ID != "", "id", ErrMissingID)
	v.Require(s.AgentID != "", "agent_id", ErrMissingParent)
	switch s.Status {
	case SessionStatusPending, SessionStatusPreparing, SessionStatusRunning,
		SessionStatusTerminating, SessionStatusTerminated, SessionStatusError:
	default:
		v.Add("status", ErrInvalidStatus)
	}
	return v.Err()
}

// Row converts the session into a grid row.
func (s *ComputeSession) Row() Row {
	return Row{
		Kind:     RowKindSession,
		ID:       s.ID,
		ParentID: s.AgentID,
		Fields: map[string]any{
			"id":         s.ID,
			"agent_id":   s.AgentID,
			"name":       s.Name,
			"owner":      s.Owner,
			"image":      s.Image,
			"type":       s.Type,
			"status":     string(s.Status),
			"cpu_used":   s.CPUUsed,
			"mem_used":   float64(s.MemUsed),
			"created_at": formatTime(s.CreatedAt),
		},
	}
}

// StorageVolume is a storage proxy volume.
type StorageVolume struct {
	ID           string   `json:"id"`
	Proxy        string   `json:"proxy"`
	Backend      string   `json:"backend"`
	Capabilities []string `json:"capabilities"`
	Capacity     int64    `json:"capacity"`
	Used         int64    `json:"used"`
}

// Validate checks a volume record.
func (v *StorageVolume) Validate() error {
	var errs ValidationErrors
	errs.Require(v.ID != "", "id", ErrMissingID)
	if v.Capacity < 0 || v.Used < 0 {
		errs.Add("capacity", ErrInvalidCapacity)
	} else {
		errs.Require(v.Capacity == 0 || v.Used <= v.Capacity, "used", ErrUsageOverCapacity)
	}
	return errs.Err()
}

// UsageRatio returns used/capacity, or 0 when capacity is unknown.
func (v *StorageVolume) UsageRatio() float64 {
	if v.Capacity <= 0 {
		return 0
	}
	return float64(v.Used) / float64(v.Capacity)
}

// Row converts the volume into a grid row.
func (v *StorageVolume) Row() Row {
	caps := make([]any, len(v.Capabilities))
	for i, c := range v.Capabilities {
		caps[i] = c
	}
	return Row{
		Kind: RowKindVolume,
		ID:   v.ID,
		Fields: map[string]any{
			"id":           v.ID,
			"proxy":        v.Proxy,
			"backend":      v.Backend,
			"capabilities": caps,
			"capacity":     float64(v.Capacity),
			"used":         float64(v.Used),
			"usage":        v.UsageRatio(),
		},
	}
}

// ResourceGroup is a scaling group agents are assigned to.
type ResourceGroup struct {
	Name          string `json:"name"`
	Description   string `json:"description"`
	IsActive      bool   `json:"is_active"`
	SchedulerType string `json:"scheduler"`
	AgentCount    int    `json:"agent_count"`
}

// Validate checks a resource group record.
func (g *ResourceGroup) Validate() error {
	var v ValidationErrors
	v.Require(g.Name != "", "name", ErrMissingID)
	return v.Err()
}

// Row converts the resource group into a grid row.
func (g *ResourceGroup) Row() Row {
	return Row{
		Kind:       RowKindResourceGroup,
		ID:         g.Name,
		ChildCount: g.AgentCount,
		Fields: map[string]any{
			"name":        g.Name,
			"description": g.Description,
			"is_active":   g.IsActive,
			"scheduler":   g.SchedulerType,
			"agent_count": float64(g.AgentCount),
		},
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

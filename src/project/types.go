package project

import "time"

// Status is the project lifecycle stage as encoded by the API.
type Status int

const (
	StatusPlanning Status = iota
	StatusActive
	StatusPaused
	StatusDone
)

func (s Status) String() string {
	switch s {
	case StatusPlanning:
		return "Planning"
	case StatusActive:
		return "Active"
	case StatusPaused:
		return "Paused"
	case StatusDone:
		return "Done"
	}
	return "Unknown"
}

// Project is the cached entity.
type Project struct {
	ID          string   `json:"id"`
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	Owner       string   `json:"owner"`
	Status      Status   `json:"status"`
	StartDate   string   `json:"startDate"`
	DueDate     string   `json:"dueDate,omitempty"`
	Budget      *float64 `json:"budget,omitempty"`
	Progress    *int     `json:"progress,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Description string   `json:"description,omitempty"`
	CreatedAt   string   `json:"createdAt"`
	UpdatedAt   string   `json:"updatedAt"`
}

func (p Project) EntityID() string { return p.ID }

// LastModified parses UpdatedAt. Unparseable values sort last.
func (p Project) LastModified() time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, p.UpdatedAt); err == nil {
			return t
		}
	}
	return time.Time{}
}

// CreateRequest is the body of a create call.
type CreateRequest struct {
	Code        string   `json:"code"`
	Name        string   `json:"name"`
	Owner       string   `json:"owner"`
	Status      Status   `json:"status"`
	StartDate   string   `json:"startDate"`
	DueDate     string   `json:"dueDate,omitempty"`
	Budget      *float64 `json:"budget,omitempty"`
	Progress    *int     `json:"progress,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Description string   `json:"description,omitempty"`
}

// UpdateRequest carries the fields to change. Nil fields are left alone.
type UpdateRequest struct {
	Code        *string  `json:"code,omitempty"`
	Name        *string  `json:"name,omitempty"`
	Owner       *string  `json:"owner,omitempty"`
	Status      *Status  `json:"status,omitempty"`
	StartDate   *string  `json:"startDate,omitempty"`
	DueDate     *string  `json:"dueDate,omitempty"`
	Budget      *float64 `json:"budget,omitempty"`
	Progress    *int     `json:"progress,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Description *string  `json:"description,omitempty"`
}

type deleteResult struct {
	ID string `json:"id"`
}

package models

import "time"

type CollaboratorRole string

const (
	CollaboratorOwner  CollaboratorRole = "owner"
	CollaboratorEditor CollaboratorRole = "editor"
	CollaboratorViewer CollaboratorRole = "viewer"
)

type Cursor struct {
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	ElementID string  `json:"elementId,omitempty"`
}

// Collaborator - удаленный редактор презентации
type Collaborator struct {
	UserID       string           `json:"userId"`
	Name         string           `json:"name"`
	Email        string           `json:"email,omitempty"`
	Color        string           `json:"color,omitempty"`
	Cursor       *Cursor          `json:"cursor,omitempty"`
	LastActiveAt time.Time        `json:"lastActiveAt"`
	IsActive     bool             `json:"isActive"`
	Role         CollaboratorRole `json:"role,omitempty"`
}

type ChangeType string

const (
	ChangeCreate  ChangeType = "create"
	ChangeUpdate  ChangeType = "update"
	ChangeDelete  ChangeType = "delete"
	ChangeReorder ChangeType = "reorder"
)

type ChangeTarget string

const (
	TargetPresentation ChangeTarget = "presentation"
	TargetSlide        ChangeTarget = "slide"
	TargetContent      ChangeTarget = "content"
)

// CollaborationChange - запись журнала правок
type CollaborationChange struct {
	ID          string         `json:"id"`
	UserID      string         `json:"userId"`
	UserName    string         `json:"userName"`
	Timestamp   time.Time      `json:"timestamp"`
	Type        ChangeType     `json:"type"`
	Target      ChangeTarget   `json:"target"`
	TargetID    string         `json:"targetId"`
	Before      map[string]any `json:"before,omitempty"`
	After       map[string]any `json:"after,omitempty"`
	Description string         `json:"description,omitempty"`
}

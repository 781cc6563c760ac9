package models

import (
	"time"
)

// Session - запись реестра кодов сессий
type Session struct {
	Code      string     `json:"code" db:"code"`
	Title     string     `json:"title" db:"title"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

func NewSession(code, title string) *Session {
	return &Session{
		Code:      code,
		Title:     title,
		CreatedAt: time.Now(),
	}
}

func (s *Session) Active() bool {
	return s.EndedAt == nil
}

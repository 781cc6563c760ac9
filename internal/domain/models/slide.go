package models

import (
	"encoding/json"
	"fmt"
	"slices"
)

// SlideState - фаза активного интерактивного слайда, которой управляет ведущий
type SlideState string

const (
	SlideStateLobby  SlideState = "lobby"
	SlideStateShow   SlideState = "show"
	SlideStateLocked SlideState = "locked"
	SlideStateReveal SlideState = "reveal"
)

func (s SlideState) Valid() bool {
	switch s {
	case SlideStateLobby, SlideStateShow, SlideStateLocked, SlideStateReveal:
		return true
	default:
		return false
	}
}

// Slide - то, что ядро знает о слайде. Содержимое рендерит внешний слой.
type Slide struct {
	ID           string   `json:"id"`
	Type         string   `json:"type,omitempty"`
	Title        string   `json:"title,omitempty"`
	Options      []string `json:"options,omitempty"`
	CorrectIndex *int     `json:"correctIndex,omitempty"`
}

// ResultsSnapshot - агрегированные ответы, индексированные по вариантам слайда
type ResultsSnapshot struct {
	SlideID string `json:"slideId,omitempty"`
	Counts  []int  `json:"counts"`
	Total   int    `json:"total"`
}

func (r ResultsSnapshot) Equal(other ResultsSnapshot) bool {
	return r.SlideID == other.SlideID && r.Total == other.Total && slices.Equal(r.Counts, other.Counts)
}

// TeamScore кодируется в JSON как кортеж [name, score]
type TeamScore struct {
	Name  string
	Score int
}

func (t TeamScore) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{t.Name, t.Score})
}

func (t *TeamScore) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if len(raw) != 2 {
		return fmt.Errorf("team score: want 2 elements, got %d", len(raw))
	}

	if err := json.Unmarshal(raw[0], &t.Name); err != nil {
		return fmt.Errorf("team score name: %w", err)
	}

	var score float64
	if err := json.Unmarshal(raw[1], &score); err != nil {
		return fmt.Errorf("team score value: %w", err)
	}
	t.Score = int(score)

	return nil
}

// QnaMessage - вопрос аудитории
type QnaMessage struct {
	ID          string `json:"id"`
	Text        string `json:"text,omitempty"`
	Author      string `json:"author,omitempty"`
	Approved    bool   `json:"approved,omitempty"`
	Highlighted bool   `json:"highlighted,omitempty"`
}

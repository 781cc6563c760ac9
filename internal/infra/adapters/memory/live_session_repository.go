package memory

import (
	"errors"
	"strings"
	"sync"

	"github.com/takato23/sparkrelay/internal/domain/models"
	"github.com/takato23/sparkrelay/internal/domain/runtime"
)

var (
	ErrNoActiveSlide     = errors.New("no active slide")
	ErrSlideMismatch     = errors.New("response for another slide")
	ErrSubmissionsClosed = errors.New("slide is not accepting responses")
	ErrAlreadyResponded  = errors.New("participant already responded")
	ErrInvalidOption     = errors.New("option index out of range")
	ErrEmptyWord         = errors.New("empty word")
)

// LiveSessionRepository - состояние активного слайда, ответы и облако слов
type LiveSessionRepository interface {
	SetSlide(code string, slide *models.Slide) runtime.LiveSlide
	SetState(code string, state models.SlideState) runtime.LiveSlide
	Snapshot(code string) (runtime.LiveSlide, bool)

	RecordResponse(code, participantID, slideID string, option int) (models.ResultsSnapshot, error)
	Results(code string) (models.ResultsSnapshot, bool)
	AddWord(code, word string) (map[string]int, error)

	Drop(code string)
}

type liveSession struct {
	slide runtime.LiveSlide
	// responses хранит map[participant_id]option для текущего слайда
	responses map[string]int
	words     map[string]int
}

type liveSessionRepository struct {
	sessions map[string]*liveSession

	mu sync.RWMutex
}

func NewLiveSessionRepository() LiveSessionRepository {
	return &liveSessionRepository{
		sessions: make(map[string]*liveSession),
	}
}

func (r *liveSessionRepository) session(code string) *liveSession {
	s, ok := r.sessions[code]
	if !ok {
		s = &liveSession{
			slide:     runtime.LiveSlide{State: models.SlideStateLobby},
			responses: make(map[string]int),
			words:     make(map[string]int),
		}
		r.sessions[code] = s
	}

	return s
}

// SetSlide делает слайд активным и сбрасывает ответы предыдущего
func (r *liveSessionRepository) SetSlide(code string, slide *models.Slide) runtime.LiveSlide {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.session(code)
	s.slide = runtime.LiveSlide{Slide: slide, State: models.SlideStateShow}
	s.responses = make(map[string]int)

	return s.slide
}

func (r *liveSessionRepository) SetState(code string, state models.SlideState) runtime.LiveSlide {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.session(code)
	s.slide.State = state

	if state == models.SlideStateLobby {
		s.slide.Slide = nil
		s.responses = make(map[string]int)
	}

	return s.slide
}

func (r *liveSessionRepository) Snapshot(code string) (runtime.LiveSlide, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[code]
	if !ok {
		return runtime.LiveSlide{State: models.SlideStateLobby}, false
	}

	return s.slide, true
}

func (r *liveSessionRepository) RecordResponse(code, participantID, slideID string, option int) (models.ResultsSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[code]
	if !ok || s.slide.Slide == nil {
		return models.ResultsSnapshot{}, ErrNoActiveSlide
	}

	slide := s.slide.Slide

	if slideID != "" && slideID != slide.ID {
		return models.ResultsSnapshot{}, ErrSlideMismatch
	}

	if s.slide.State != models.SlideStateShow {
		return models.ResultsSnapshot{}, ErrSubmissionsClosed
	}

	if option < 0 || (len(slide.Options) > 0 && option >= len(slide.Options)) {
		return models.ResultsSnapshot{}, ErrInvalidOption
	}

	if _, answered := s.responses[participantID]; answered {
		return models.ResultsSnapshot{}, ErrAlreadyResponded
	}
	s.responses[participantID] = option

	return s.results(), nil
}

func (r *liveSessionRepository) Results(code string) (models.ResultsSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[code]
	if !ok || s.slide.Slide == nil {
		return models.ResultsSnapshot{}, false
	}

	return s.results(), true
}

func (s *liveSession) results() models.ResultsSnapshot {
	size := len(s.slide.Slide.Options)
	for _, option := range s.responses {
		if option >= size {
			size = option + 1
		}
	}

	counts := make([]int, size)
	for _, option := range s.responses {
		counts[option]++
	}

	return models.ResultsSnapshot{
		SlideID: s.slide.Slide.ID,
		Counts:  counts,
		Total:   len(s.responses),
	}
}

// AddWord учитывает слово без учета регистра и возвращает копию облака
func (r *liveSessionRepository) AddWord(code, word string) (map[string]int, error) {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return nil, ErrEmptyWord
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.session(code)
	s.words[word]++

	counts := make(map[string]int, len(s.words))
	for w, n := range s.words {
		counts[w] = n
	}

	return counts, nil
}

func (r *liveSessionRepository) Drop(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, code)
}

// Package progress implements the per-session XP, level and topic unlock
// state machine.
package progress

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/p-n-ai/pai-quest/internal/catalog"
	"github.com/p-n-ai/pai-quest/internal/schedule"
)

const (
	// XPPerLevel scales the level threshold: threshold = level * XPPerLevel.
	XPPerLevel = 500
	// MasteryBonusXP is added once every topic of a subject is completed.
	MasteryBonusXP = 200
	// MasteryDelay is how long after the last completion the bonus lands.
	MasteryDelay = 2 * time.Second
	// AchievementTTL is how long an achievement stays visible.
	AchievementTTL = 5 * time.Second
)

// ErrInvalidTransition is returned when an operation's preconditions fail.
var ErrInvalidTransition = errors.New("invalid transition")

// Kind classifies an achievement.
type Kind string

const (
	KindXP         Kind = "xp"
	KindLevel      Kind = "level"
	KindCompletion Kind = "completion"
)

// Achievement is a transient progress notification.
type Achievement struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	XP          int       `json:"xp"`
	Kind        Kind      `json:"type"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Topic is a catalog topic with its session state.
type Topic struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	XPReward    int    `json:"xpReward"`
	Completed   bool   `json:"completed"`
	Locked      bool   `json:"locked"`
}

// State is a snapshot of a machine.
type State struct {
	SubjectID       string       `json:"subjectId"`
	SubjectName     string       `json:"subjectName"`
	Topics          []Topic      `json:"topics"`
	XP              int          `json:"xp"`
	Level           int          `json:"level"`
	LevelThreshold  int          `json:"levelThreshold"`
	TotalXP         int          `json:"totalXp"`
	CompletedCount  int          `json:"completedCount"`
	TotalTopics     int          `json:"totalTopics"`
	ProgressPercent float64      `json:"progressPercent"`
	Achievement     *Achievement `json:"achievement,omitempty"`
	MasteryPending  bool         `json:"masteryPending"`
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock sets the clock used to stamp achievement expiry times.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// Machine holds the progress of one subject-viewing session.
type Machine struct {
	mu      sync.Mutex
	catalog *catalog.Catalog
	sched   schedule.Scheduler
	now     func() time.Time

	subjectID   string
	subjectName string
	topics      []Topic
	xp          int
	level       int
	totalXP     int

	achievement    *Achievement
	achievementSeq int
	expiry         schedule.Handle

	// generation changes on every reset; delayed tasks compare it before
	// touching state.
	generation int
	mastery    schedule.Handle
	closed     bool
}

// New creates a machine with no subject selected.
func New(cat *catalog.Catalog, sched schedule.Scheduler, opts ...Option) *Machine {
	m := &Machine{
		catalog: cat,
		sched:   sched,
		now:     time.Now,
		level:   1,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SelectSubject loads a subject's topics and resets progress. It returns
// false and leaves an empty topic list when the subject is unknown.
func (m *Machine) SelectSubject(subjectID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetLocked()
	m.subjectID = subjectID
	m.subjectName = m.catalog.SubjectName(subjectID)

	subject, ok := m.catalog.Subject(subjectID)
	if !ok {
		return false
	}
	m.topics = make([]Topic, len(subject.Topics))
	for i, def := range subject.Topics {
		m.topics[i] = Topic{
			ID:          def.ID,
			Title:       def.Title,
			Description: def.Description,
			XPReward:    def.XPReward,
			Locked:      i != 0,
		}
	}
	return true
}

func (m *Machine) resetLocked() {
	m.generation++
	if m.mastery != nil {
		m.mastery.Cancel()
		m.mastery = nil
	}
	if m.expiry != nil {
		m.expiry.Cancel()
		m.expiry = nil
	}
	m.topics = nil
	m.xp = 0
	m.level = 1
	m.totalXP = 0
	m.achievement = nil
}

// CompleteTopic marks an unlocked, incomplete topic completed, unlocks its
// successor and awards its XP. At most one level-up is applied per call.
// Completing the last topic schedules the mastery bonus.
func (m *Machine) CompleteTopic(topicID string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return m.snapshotLocked(), fmt.Errorf("complete topic %q: session closed: %w", topicID, ErrInvalidTransition)
	}

	idx := -1
	for i := range m.topics {
		if m.topics[i].ID == topicID {
			idx = i
			break
		}
	}
	switch {
	case idx < 0:
		return m.snapshotLocked(), fmt.Errorf("complete topic %q: unknown topic: %w", topicID, ErrInvalidTransition)
	case m.topics[idx].Locked:
		return m.snapshotLocked(), fmt.Errorf("complete topic %q: topic is locked: %w", topicID, ErrInvalidTransition)
	case m.topics[idx].Completed:
		return m.snapshotLocked(), fmt.Errorf("complete topic %q: already completed: %w", topicID, ErrInvalidTransition)
	}

	topic := &m.topics[idx]
	topic.Completed = true
	if idx+1 < len(m.topics) {
		m.topics[idx+1].Locked = false
	}

	reward := topic.XPReward
	m.totalXP += reward
	newXP := m.xp + reward
	threshold := m.level * XPPerLevel
	if newXP >= threshold {
		m.level++
		m.xp = newXP - threshold
		m.emitLocked(Achievement{
			Title:       "Level Up! 🎉",
			Description: fmt.Sprintf("You've reached Level %d!", m.level),
			XP:          reward,
			Kind:        KindLevel,
		})
	} else {
		m.xp = newXP
		m.emitLocked(Achievement{
			Title:       "Topic Completed! ✨",
			Description: "Great job! Keep learning!",
			XP:          reward,
			Kind:        KindCompletion,
		})
	}

	if m.allCompletedLocked() {
		m.scheduleMasteryLocked()
	}

	return m.snapshotLocked(), nil
}

func (m *Machine) allCompletedLocked() bool {
	if len(m.topics) == 0 {
		return false
	}
	for _, t := range m.topics {
		if !t.Completed {
			return false
		}
	}
	return true
}

func (m *Machine) scheduleMasteryLocked() {
	gen := m.generation
	m.mastery = m.sched.After(MasteryDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed || m.generation != gen {
			return
		}
		m.mastery = nil
		// The bonus is flat: no threshold check.
		m.xp += MasteryBonusXP
		m.totalXP += MasteryBonusXP
		m.emitLocked(Achievement{
			Title:       "Subject Mastered! 🏆",
			Description: fmt.Sprintf("You've completed all topics in %s!", m.subjectName),
			XP:          MasteryBonusXP,
			Kind:        KindLevel,
		})
	})
}

// emitLocked replaces the pending achievement and schedules its expiry.
func (m *Machine) emitLocked(a Achievement) {
	m.achievementSeq++
	seq := m.achievementSeq
	a.ExpiresAt = m.now().Add(AchievementTTL)
	m.achievement = &a

	if m.expiry != nil {
		m.expiry.Cancel()
	}
	m.expiry = m.sched.After(AchievementTTL, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.achievementSeq == seq {
			m.achievement = nil
			m.expiry = nil
		}
	})
}

// DismissAchievement clears the pending achievement.
func (m *Machine) DismissAchievement() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.achievementSeq++
	m.achievement = nil
	if m.expiry != nil {
		m.expiry.Cancel()
		m.expiry = nil
	}
}

// State returns a snapshot of the machine.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() State {
	s := State{
		SubjectID:      m.subjectID,
		SubjectName:    m.subjectName,
		Topics:         make([]Topic, len(m.topics)),
		XP:             m.xp,
		Level:          m.level,
		LevelThreshold: m.level * XPPerLevel,
		TotalXP:        m.totalXP,
		TotalTopics:    len(m.topics),
		MasteryPending: m.mastery != nil,
	}
	copy(s.Topics, m.topics)
	for _, t := range m.topics {
		if t.Completed {
			s.CompletedCount++
		}
	}
	if s.TotalTopics > 0 {
		s.ProgressPercent = float64(s.CompletedCount) / float64(s.TotalTopics) * 100
	}
	if m.achievement != nil {
		a := *m.achievement
		s.Achievement = &a
	}
	return s
}

// Close cancels pending delayed tasks. Later callbacks are no-ops.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.generation++
	if m.mastery != nil {
		m.mastery.Cancel()
		m.mastery = nil
	}
	if m.expiry != nil {
		m.expiry.Cancel()
		m.expiry = nil
	}
}

package domain

import (
	"time"
)

// SessionStatus is the lifecycle state of a practice session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusEvaluated SessionStatus = "evaluated"
	StatusCompleted SessionStatus = "completed"
)

// MissionStatus records that a mission was completed.
type MissionStatus struct {
	MissionID   string    `json:"missionId"`
	CompletedAt time.Time `json:"completedAt"`
}

// Progress holds the boolean progress flags of a session.
type Progress struct {
	KickoffSent      bool `json:"kickoffSent"`
	LearnerEngaged   bool `json:"learnerEngaged"`
	AgentResponded   bool `json:"agentResponded"`
	MissionsComplete bool `json:"missionsComplete"`
}

// Session is one attempt at a scenario.
type Session struct {
	ID             string          `json:"id"`
	LearnerID      string          `json:"learnerId,omitempty"`
	ScenarioID     string          `json:"scenarioId"`
	Discipline     string          `json:"discipline,omitempty"`
	Status         SessionStatus   `json:"status"`
	StartedAt      time.Time       `json:"startedAt"`
	LastActivityAt time.Time       `json:"lastActivityAt"`
	Progress       Progress        `json:"progress"`
	MissionStatus  []MissionStatus `json:"missionStatus"`
}

// IsActive reports whether the session can still receive messages.
func (s *Session) IsActive() bool {
	return s.Status == StatusActive
}

// MissionCompleted reports whether the mission has a completion entry.
func (s *Session) MissionCompleted(missionID string) bool {
	for _, ms := range s.MissionStatus {
		if ms.MissionID == missionID {
			return true
		}
	}
	return false
}

// SetMission marks a mission completed or not. Completing an already
// completed mission keeps the original timestamp; un-completing removes the
// entry entirely.
func (s *Session) SetMission(missionID string, completed bool, at time.Time) {
	if completed {
		if s.MissionCompleted(missionID) {
			return
		}
		s.MissionStatus = append(s.MissionStatus, MissionStatus{MissionID: missionID, CompletedAt: at})
		return
	}
	kept := s.MissionStatus[:0]
	for _, ms := range s.MissionStatus {
		if ms.MissionID != missionID {
			kept = append(kept, ms)
		}
	}
	s.MissionStatus = kept
}

// RefreshProgress recomputes the progress flags from the message history and
// the scenario's mission list.
func (s *Session) RefreshProgress(messages []Message, scenario *Scenario) {
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			s.Progress.KickoffSent = true
		case RoleUser:
			s.Progress.LearnerEngaged = true
		case RoleAgent:
			s.Progress.AgentResponded = true
		}
	}
	if scenario == nil || len(scenario.Missions) == 0 {
		s.Progress.MissionsComplete = false
		return
	}
	done := true
	for _, m := range scenario.Missions {
		if !s.MissionCompleted(m.ID) {
			done = false
			break
		}
	}
	s.Progress.MissionsComplete = done
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	c.MissionStatus = append([]MissionStatus(nil), s.MissionStatus...)
	return &c
}

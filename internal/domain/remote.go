package domain

// CreateSessionRequest asks the session store for a new session record.
type CreateSessionRequest struct {
	ScenarioID  string `json:"scenarioId"`
	Discipline  string `json:"discipline,omitempty"`
	KickoffText string `json:"kickoffText,omitempty"`
}

// CreateSessionResult is the freshly created session and its seeded messages.
type CreateSessionResult struct {
	Session  Session   `json:"session"`
	Messages []Message `json:"messages"`
}

// SessionSnapshot is a session record together with its evaluation, if any.
type SessionSnapshot struct {
	Session    Session     `json:"session"`
	Evaluation *Evaluation `json:"evaluation,omitempty"`
}

// PostMessageRequest carries one conversation turn to the session store.
type PostMessageRequest struct {
	Message        Message         `json:"message"`
	MissionStatus  []MissionStatus `json:"missionStatus"`
	GradingContext string          `json:"gradingContext,omitempty"`
}

// PostMessageResult is the store's reply to a posted turn.
type PostMessageResult struct {
	Reply   []Message `json:"reply"`
	Session Session   `json:"session"`
}

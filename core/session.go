package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a session.
type State string

const (
	// StateIdle means no file has been uploaded yet.
	StateIdle State = "idle"
	// StateReady means a file is uploaded but not analyzed, or a previous
	// analysis was invalidated by a new upload.
	StateReady State = "ready"
	// StateAnalyzing means a run is in progress.
	StateAnalyzing State = "analyzing"
	// StateComplete means all artifacts are populated and consistent with
	// the current upload.
	StateComplete State = "complete"
	// StateFailed means the last run aborted; partial artifacts were
	// discarded.
	StateFailed State = "failed"
)

// Session is the per-user mutable record holding upload identity,
// analysis state, derived artifacts and chat history. All mutation goes
// through the transition methods below, which enforce the lifecycle:
//
//	Idle -> Ready            on first upload
//	Ready -> Ready           on upload with a different identity (full reset)
//	Ready|Complete|Failed -> Analyzing   on explicit trigger (clean slate)
//	Analyzing -> Complete    transcription + all five artifacts succeeded
//	Analyzing -> Failed      any step failed or transcript was empty
type Session struct {
	mu sync.Mutex

	ID        string
	CreatedAt time.Time

	state      State
	fileID     string // identity of the most recent upload (name + content hash)
	fileName   string
	audioPath  string // where the uploaded bytes are staged between upload and analyze
	language   string
	transcript *Transcript
	artifacts  Artifacts
	messages   []ChatMessage
	failure    string
	updatedAt  time.Time
}

func NewSession(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	return &Session{ID: id, CreatedAt: now, updatedAt: now, state: StateIdle}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RegisterUpload records a new upload on the session. A different file
// identity invalidates everything derived from the previous one: the
// transcript, all five artifacts, the chat history and the completion
// flag. Re-uploading the identical file leaves existing results intact.
func (s *Session) RegisterUpload(fileID, fileName, audioPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fileID == fileID && s.state != StateIdle {
		s.audioPath = audioPath
		s.updatedAt = time.Now()
		return
	}
	s.fileID = fileID
	s.fileName = fileName
	s.audioPath = audioPath
	s.resetArtifactsLocked()
	s.state = StateReady
	s.updatedAt = time.Now()
}

// BeginAnalysis moves the session into Analyzing, clearing every prior
// artifact and the chat history first so a failed run can never expose
// stale results. It rejects sessions with no upload and sessions that
// already have a run in progress.
func (s *Session) BeginAnalysis(language string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateIdle:
		return fmt.Errorf("no file uploaded")
	case StateAnalyzing:
		return fmt.Errorf("analysis already in progress")
	}
	s.resetArtifactsLocked()
	s.language = language
	s.state = StateAnalyzing
	s.updatedAt = time.Now()
	return nil
}

// CompleteAnalysis attaches the run results. The transition is refused
// unless a run is in progress, the transcript has text, and all five
// artifacts are populated, so analysisComplete can never hold with a
// partial result set.
func (s *Session) CompleteAnalysis(t *Transcript, a Artifacts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAnalyzing {
		return fmt.Errorf("no analysis in progress (state %s)", s.state)
	}
	if t.Empty() {
		return fmt.Errorf("transcript is empty")
	}
	if !a.Complete() {
		return fmt.Errorf("incomplete artifact set")
	}
	s.transcript = t
	s.artifacts = a
	s.failure = ""
	s.state = StateComplete
	s.updatedAt = time.Now()
	return nil
}

// FailAnalysis aborts the current run and discards any partial results.
func (s *Session) FailAnalysis(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateAnalyzing {
		return
	}
	s.resetArtifactsLocked()
	s.failure = reason
	s.state = StateFailed
	s.updatedAt = time.Now()
}

// AnalysisComplete reports whether the session holds a full, consistent
// result set for the current upload.
func (s *Session) AnalysisComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateComplete && !s.transcript.Empty() && s.artifacts.Complete()
}

func (s *Session) Transcript() *Transcript {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript
}

func (s *Session) Artifacts() Artifacts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifacts
}

func (s *Session) AudioPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioPath
}

func (s *Session) FileName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fileName
}

// AppendChatTurn appends one user/assistant pair. Chat is only enabled
// once analysis is complete; the history never grows by anything other
// than whole pairs.
func (s *Session) AppendChatTurn(question, answer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateComplete {
		return fmt.Errorf("chat requires a completed analysis (state %s)", s.state)
	}
	s.messages = append(s.messages,
		ChatMessage{Role: RoleUser, Content: question},
		ChatMessage{Role: RoleAssistant, Content: answer},
	)
	s.updatedAt = time.Now()
	return nil
}

// ClearChat atomically empties the chat history, leaving the transcript
// and all artifacts untouched.
func (s *Session) ClearChat() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.updatedAt = time.Now()
}

// Messages returns a copy of the chat history.
func (s *Session) Messages() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Snapshot is an immutable view of a session for serialization.
type Snapshot struct {
	ID               string        `json:"id"`
	State            State         `json:"state"`
	FileName         string        `json:"file_name,omitempty"`
	Language         string        `json:"language,omitempty"`
	AnalysisComplete bool          `json:"analysis_complete"`
	Failure          string        `json:"failure,omitempty"`
	Transcript       *Transcript   `json:"transcript,omitempty"`
	Artifacts        Artifacts     `json:"artifacts"`
	Messages         []ChatMessage `json:"messages"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]ChatMessage, len(s.messages))
	copy(msgs, s.messages)
	return Snapshot{
		ID:               s.ID,
		State:            s.state,
		FileName:         s.fileName,
		Language:         s.language,
		AnalysisComplete: s.state == StateComplete && !s.transcript.Empty() && s.artifacts.Complete(),
		Failure:          s.failure,
		Transcript:       s.transcript,
		Artifacts:        s.artifacts,
		Messages:         msgs,
		UpdatedAt:        s.updatedAt,
	}
}

// resetArtifactsLocked wipes everything derived from an upload. Caller
// must hold s.mu.
func (s *Session) resetArtifactsLocked() {
	s.transcript = nil
	s.artifacts = Artifacts{}
	s.messages = nil
	s.failure = ""
}

// SessionManager owns every live session, addressed by the session ID
// issued in a cookie. Sessions are never evicted; they live for the
// lifetime of the process.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*Session)}
}

func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// GetOrCreate returns the session for id, creating it on first contact.
// An empty id yields a fresh session with a generated ID.
func (m *SessionManager) GetOrCreate(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id != "" {
		if s, ok := m.sessions[id]; ok {
			return s
		}
	}
	s := NewSession(id)
	m.sessions[s.ID] = s
	return s
}

func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

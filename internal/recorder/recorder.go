package recorder

// Engine event types.
const (
	EventPersistOK     = "PERSIST_OK"
	EventPersistFailed = "PERSIST_FAILED"
	EventReload        = "RELOAD"
	EventEcho          = "ECHO"
	EventLoadFailed    = "LOAD_FAILED"
	EventCapReached    = "CAP_REACHED"
)

// EngineEvent is one entry in the accrual engine history.
type EngineEvent struct {
	AccountID string
	SessionID string
	EventType string
	Principal float64
	Yield     float64
	Note      string
}

// Recorder persists engine history for later analysis.
type Recorder interface {
	RecordEvent(evt *EngineEvent) error
	Close() error
}

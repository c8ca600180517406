package interfaces

// SyncCounts summarizes one completed sync pass.
type SyncCounts struct {
	FoldersSynced   int
	FoldersFailed   int
	MessagesNew     int
	MessagesFlagged int
}

// Notifier receives engine lifecycle events. Implementations must return
// quickly; the engine calls them inline.
type Notifier interface {
	SyncStarted(accountID string)
	SyncCompleted(accountID string, counts SyncCounts)
	SyncFailed(accountID string, reason string)
	SendFailed(accountID string, reason string)
}

// NoopNotifier discards every event.
type NoopNotifier struct{}

func (NoopNotifier) SyncStarted(string)               {}
func (NoopNotifier) SyncCompleted(string, SyncCounts) {}
func (NoopNotifier) SyncFailed(string, string)        {}
func (NoopNotifier) SendFailed(string, string)        {}

package enum

type EmailProvider string

const (
	EmailProviderGmail   EmailProvider = "gmail"
	EmailProviderOutlook EmailProvider = "outlook"
	EmailProviderYahoo   EmailProvider = "yahoo"
	EmailProviderCustom  EmailProvider = "custom"
)

func (t EmailProvider) String() string {
	return string(t)
}

type AuthKind string

const (
	AuthKindPassword AuthKind = "password"
	AuthKindOAuth2   AuthKind = "oauth2"
)

func (t AuthKind) String() string {
	return string(t)
}

type EmailSecurity string

const (
	EmailSecurityNone     EmailSecurity = "none"
	EmailSecurityTLS      EmailSecurity = "tls"
	EmailSecurityStartTLS EmailSecurity = "startTLS"
)

func (t EmailSecurity) String() string {
	return string(t)
}

type FolderKind string

const (
	FolderKindInbox  FolderKind = "inbox"
	FolderKindSent   FolderKind = "sent"
	FolderKindDrafts FolderKind = "drafts"
	FolderKindTrash  FolderKind = "trash"
	FolderKindSpam   FolderKind = "spam"
	FolderKindCustom FolderKind = "custom"
)

func (t FolderKind) String() string {
	return string(t)
}

// System reports whether the folder kind is server-managed. System folders
// cannot be renamed or deleted by the user.
func (t FolderKind) System() bool {
	switch t {
	case FolderKindInbox, FolderKindSent, FolderKindDrafts, FolderKindTrash, FolderKindSpam:
		return true
	}
	return false
}

type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusRunning SyncStatus = "running"
	SyncStatusFailed  SyncStatus = "failed"
)

func (t SyncStatus) String() string {
	return string(t)
}

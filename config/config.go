package config

type AppConfig struct {
	DataDir       string `env:"MAILCOVE_DATA_DIR" envDefault:"./data"`
	ShutdownGrace int    `env:"MAILCOVE_SHUTDOWN_GRACE_SECONDS" envDefault:"10"`
}

type CacheConfig struct {
	DatabasePath  string `env:"MAILCOVE_CACHE_DB_PATH" envDefault:"./data/mailcove.db"`
	KeyPath       string `env:"MAILCOVE_KEY_PATH" envDefault:"./data/secret.key"`
	AttachmentDir string `env:"MAILCOVE_ATTACHMENT_DIR" envDefault:"./data/attachments"`
	LogLevel      string `env:"MAILCOVE_CACHE_LOG_LEVEL" envDefault:"WARN"`
	BusyTimeoutMs int    `env:"MAILCOVE_CACHE_BUSY_TIMEOUT_MS" envDefault:"5000"`
}

type OAuthConfig struct {
	GoogleClientID        string `env:"MAILCOVE_GOOGLE_CLIENT_ID"`
	GoogleClientSecret    string `env:"MAILCOVE_GOOGLE_CLIENT_SECRET"`
	MicrosoftClientID     string `env:"MAILCOVE_MICROSOFT_CLIENT_ID"`
	MicrosoftClientSecret string `env:"MAILCOVE_MICROSOFT_CLIENT_SECRET"`
	YahooClientID         string `env:"MAILCOVE_YAHOO_CLIENT_ID"`
	YahooClientSecret     string `env:"MAILCOVE_YAHOO_CLIENT_SECRET"`
	RedirectURL           string `env:"MAILCOVE_OAUTH_REDIRECT_URL" envDefault:"http://localhost:8089/oauth/callback"`
}

type SyncConfig struct {
	IntervalMinutes    int `env:"MAILCOVE_SYNC_INTERVAL_MINUTES" envDefault:"5"`
	PageSize           int `env:"MAILCOVE_PAGE_SIZE" envDefault:"50"`
	InboxInitialLimit  int `env:"MAILCOVE_INBOX_INITIAL_LIMIT" envDefault:"100"`
	FolderInitialLimit int `env:"MAILCOVE_FOLDER_INITIAL_LIMIT" envDefault:"50"`
	FlagRecheckWindow  int `env:"MAILCOVE_FLAG_RECHECK_WINDOW" envDefault:"50"`
}

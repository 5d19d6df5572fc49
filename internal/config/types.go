package config

// Config is the single on-disk configuration document.
//
// Accepted as YAML or JSON; unknown fields are rejected so typos surface
// at startup instead of silently doing nothing.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Logging LoggingConfig `json:"logging"`
	Relay   RelayConfig   `json:"relay"`
	Storage StorageConfig `json:"storage,omitempty"`
	Notify  NotifyConfig  `json:"notify,omitempty"`
	Media   MediaConfig   `json:"media,omitempty"`
	Pprof   PprofConfig   `json:"pprof,omitempty"`
}

type ServerConfig struct {
	// Listen is the address for the HTTP + WebSocket listener, e.g. ":3000".
	Listen string `json:"listen"`

	// ReadTimeout/WriteTimeout are Go duration strings. WriteTimeout is left
	// unset by default because the video proxy streams large responses.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// RelayConfig controls the update router.
//
// FocusSubjects is the number of focusable subjects N; a focus index is
// valid when 0 <= index <= N. Hot-reloadable.
type RelayConfig struct {
	FocusSubjects int `json:"focus_subjects"`
}

// StorageConfig controls document mirroring.
//
// Driver values:
//   - "file": one JSON document per persisted slot under Path
//   - "sqlite": a SQLite database file at Path
//   - "" or "none": mirroring disabled (in-memory only)
//
// SnapshotEvery is a Go duration string for the periodic flush of dirty
// documents; "0s" disables the periodic job (event-driven writes remain).
type StorageConfig struct {
	Driver        string `json:"driver,omitempty"`
	Path          string `json:"path,omitempty"`
	BusyTimeout   string `json:"busy_timeout,omitempty"`
	SnapshotEvery string `json:"snapshot_every,omitempty"`
}

// NotifyConfig controls the outbound fiche notification collaborator.
type NotifyConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// MediaConfig controls the upload store and the external video proxy.
type MediaConfig struct {
	UploadDir string `json:"upload_dir,omitempty"`

	// VideoUpstream is a URL template with one %s for the video id.
	VideoUpstream string `json:"video_upstream,omitempty"`
}

type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
}

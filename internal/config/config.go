package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/hireloop/agentcall/internal/util"
)

type Config struct {
	Signaling Signaling `json:"signaling"`
	ICE       ICE       `json:"ice"`
	Schedule  Schedule  `json:"schedule"`
	Room      Room      `json:"room"`
	Storage   Storage   `json:"storage"`
	Prompt    Prompt    `json:"prompt"`
	API       API       `json:"api"`
}

type Signaling struct {
	// Websocket URL of the call service, e.g. wss://calls.example.org/agent.
	URL string `json:"url"`

	// Handshake timeout in seconds. 0 = default (5s).
	DialTimeoutSec int `json:"dial_timeout_seconds"`
}

type ICE struct {
	// Static STUN server URLs handed to the peer connection.
	STUNServers []string `json:"stun_servers"`
}

type Schedule struct {
	// How long before the scheduled start a participant may join.
	GraceSec int `json:"grace_seconds"`

	// Re-evaluation interval while waiting for the join window.
	PollSec int `json:"poll_seconds"`
}

type Room struct {
	// Conferencing room join URL and token. Empty = no room provider;
	// the agent audio bridge then runs against the no-op room.
	URL   string `json:"url"`
	Token string `json:"token"`

	// Name under which the agent's audio is republished into the room.
	TrackName string `json:"track_name"`
}

type Storage struct {
	// SQLite database path for transcripts and session reports.
	DBPath string `json:"db_path"`
}

type Prompt struct {
	// Directory holding the prompt section files (policy.txt, role.txt,
	// resume.txt, opener.txt). Watched for changes between sessions.
	Dir string `json:"dir"`
}

type API struct {
	// Bind address for the local control API, e.g. "127.0.0.1:8750".
	HTTPAddr string `json:"http_addr"`
}

func Default() Config {
	return Config{
		Signaling: Signaling{
			URL:            "",
			DialTimeoutSec: 5,
		},
		ICE: ICE{
			STUNServers: []string{"stun:stun.l.google.com:19302"},
		},
		Schedule: Schedule{
			GraceSec: 120,
			PollSec:  20,
		},
		Room: Room{
			TrackName: "agent-audio",
		},
		Storage: Storage{
			DBPath: "data/agentcall.db",
		},
		Prompt: Prompt{
			Dir: "prompts",
		},
		API: API{
			HTTPAddr: "127.0.0.1:8750",
		},
	}
}

func (c *Config) Validate() error {
	// Signaling
	if u := strings.TrimSpace(c.Signaling.URL); u != "" {
		if err := validateWSURL(u); err != nil {
			return fmt.Errorf("signaling.url: %w", err)
		}
	}
	if c.Signaling.DialTimeoutSec < 0 || c.Signaling.DialTimeoutSec > 120 {
		return errors.New("signaling.dial_timeout_seconds must be 0..120")
	}

	// ICE
	for _, s := range c.ICE.STUNServers {
		s = strings.TrimSpace(s)
		if s == "" {
			return errors.New("ice.stun_servers must not contain empty entries")
		}
		if !strings.HasPrefix(s, "stun:") && !strings.HasPrefix(s, "stuns:") {
			return fmt.Errorf("ice.stun_servers entry %q must use the stun: or stuns: scheme", s)
		}
	}

	// Schedule
	if c.Schedule.GraceSec < 0 {
		return errors.New("schedule.grace_seconds must be >= 0")
	}
	if c.Schedule.PollSec <= 0 {
		return errors.New("schedule.poll_seconds must be > 0")
	}

	// Storage
	if strings.TrimSpace(c.Storage.DBPath) == "" {
		return errors.New("storage.db_path is required")
	}

	// Prompt
	if strings.TrimSpace(c.Prompt.Dir) == "" {
		return errors.New("prompt.dir is required")
	}

	// Room token without a URL is a config mistake worth catching early.
	if c.Room.URL == "" && c.Room.Token != "" {
		return errors.New("room.token is set but room.url is empty")
	}
	if strings.TrimSpace(c.Room.TrackName) == "" {
		return errors.New("room.track_name is required")
	}

	return nil
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.New("scheme must be ws or wss")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}

package main

import (
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Config is the full configuration surface of a harvester instance.
type Config struct {
	MaxActiveThreads int     `long:"max-active-threads" env:"MAX_ACTIVE_THREADS" default:"8" description:"Size of the worker pool running scrape messages"`
	MaxIfaceRequests int     `long:"max-iface-requests" env:"MAX_IFACE_REQUESTS" default:"3" description:"Browser tabs opened per source interface"`
	URLTimeout       float64 `long:"url-timeout" env:"URL_TIMEOUT" default:"30" description:"Per-page load timeout in seconds"`
	MinWaitTime      float64 `long:"min-wait-time" env:"MIN_WAIT_TIME" default:"1" description:"Lower bound of the politeness wait window in seconds"`
	MaxWaitTime      float64 `long:"max-wait-time" env:"MAX_WAIT_TIME" default:"4" description:"Upper bound of the politeness wait window in seconds"`

	MinSecondsBetweenUpdates int     `long:"min-seconds-between-updates" env:"MIN_SECONDS_BETWEEN_UPDATES" default:"604800" description:"Freshness threshold below which stored documents are reused"`
	MaxMsWorktime            int     `long:"max-ms-worktime" env:"MAX_MS_WORKTIME" default:"-1" description:"Stop producing new scrape work after this many seconds (-1 = uncapped)"`
	MaxBufferRetries         int     `long:"max-buffer-retries" env:"MAX_BUFFER_RETRIES" default:"3" description:"Retries granted to each failing message"`
	RetryTimeSec             float64 `long:"retry-time-sec" env:"RETRY_TIME_SEC" default:"5" description:"Sleep between retries of a failing message, in seconds"`
	DepthMax                 int     `long:"depth-max" env:"DEPTH_MAX" default:"4" description:"Hard cap on message depth"`

	ShuffleRoots     bool    `long:"shuffle-roots" env:"SHUFFLE_ROOTS" description:"Randomize the order of seed authors"`
	RecoveryInstance bool    `long:"recovery-instance" env:"RECOVERY_INSTANCE" description:"Ship undelivered documents at startup"`
	DebugDelay       bool    `long:"debug-delay" env:"DEBUG_DELAY" description:"Insert a 10s sleep before every send"`
	BanPenalty       float64 `long:"ban-penalty" env:"BAN_PENALTY" default:"3" description:"Wait-window widening step per detected ban, in seconds"`
	AutoAdaptive     bool    `long:"auto-adaptive" env:"AUTO_ADAPTIVE" description:"Run the hourly politeness monitor"`

	InterfacesEnabled string `long:"interfaces-enabled" env:"INTERFACES_ENABLED" default:"scholar,dblp,scimago,core_edu" description:"Comma-separated source adapter identifiers to run"`
	CaptchaAction     string `long:"captcha-action" env:"CAPTCHA_ACTION" default:"IGNORE" choice:"IGNORE" choice:"WAIT_USER" choice:"BYPASS" description:"Reaction to a captcha wall"`
	BrowserType       string `long:"browser-type" env:"BROWSER_TYPE" default:"chrome" choice:"chrome" choice:"firefox" choice:"embedded" description:"Browser driven by the tab pools"`
	DriverURL         string `long:"driver-url" env:"DRIVER_URL" default:"http://127.0.0.1:9515" description:"WebDriver endpoint"`

	ServerURL  string `long:"server-url" env:"SERVER_URL" default:"127.0.0.1" description:"Downstream aggregator host"`
	EntityPort int    `long:"entity-port" env:"ENTITY_PORT" default:"5005" description:"Aggregator entity port"`
	StatusPort int    `long:"status-port" env:"STATUS_PORT" default:"5006" description:"Local port accepting aggregator status reports"`
	FavoredOrg string `long:"favored-org" env:"FAVORED_ORG" description:"Organization hint breaking ties between same-named authors"`

	RootAuthors     string `long:"root-authors" env:"ROOT_AUTHORS" description:"Comma-separated seed author names"`
	CorePagesNumber int    `long:"core-pages-number" env:"CORE_PAGES_NUMBER" default:"10" description:"Conference portal pages to harvest"`
	ScimagoFromYear int    `long:"scimago-from-year" env:"SCIMAGO_FROM_YEAR" default:"1999" description:"First journal-ranking year to harvest"`

	RedisAddr     string `long:"redis-addr" env:"REDIS_ADDR" default:"127.0.0.1:6379" description:"Document store address"`
	RedisPassword string `long:"redis-password" env:"REDIS_PASSWORD" description:"Document store password"`
	RedisDB       int    `long:"redis-db" env:"REDIS_DB" default:"0" description:"Document store database index"`
	StatsPath     string `long:"stats-path" env:"STATS_PATH" default:"pubscraper.db" description:"Path of the SQLite stat store"`

	MetricsAddr string `long:"metrics-addr" env:"METRICS_ADDR" default:":9101" description:"Prometheus metrics listener address"`

	LogLevel  string `long:"log.level" env:"LOG_LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Logging level"`
	LogFormat string `long:"log.format" env:"LOG_FORMAT" default:"text" choice:"json" choice:"text" description:"Logging output format"`
}

// initLog configures the process logger from the parsed flags.
func (cfg *Config) initLog() {
	if cfg.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}
	log.SetOutput(os.Stderr)
}

// worktime returns the scrape-production cap as a duration. The flag's
// name is historical; its value has always counted seconds. A non-positive
// value disables the cap.
func (cfg *Config) worktime() time.Duration {
	if cfg.MaxMsWorktime <= 0 {
		return 0
	}
	return time.Duration(cfg.MaxMsWorktime) * time.Second
}

// enabledInterfaces splits the configured adapter list.
func (cfg *Config) enabledInterfaces() map[string]bool {
	var out = make(map[string]bool)
	for _, id := range strings.Split(cfg.InterfacesEnabled, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out[id] = true
		}
	}
	return out
}

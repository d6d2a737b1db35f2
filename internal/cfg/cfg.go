package cfg

import (
	"errors"
	"flag"
	"fmt"

	"github.com/robfig/cron/v3"
)

// Config adds service-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int

	DeviceTokens   string
	OperatorTokens string

	DatabaseURL string
	SiteFile    string

	PagingAddr          string
	PagingSystemTag     string
	PagingHeartbeatSecs int

	EscalationTimeoutSecs int
	DispatchMaxInFlight   int

	PushEndpoint    string
	SMSEndpoint     string
	SMSAPIKey       string
	MailEndpoint    string
	MailAPIKey      string
	MailFrom        string
	SlackWebhookURL string
	MQTTBrokerURL   string
	MQTTTopic       string
	TelemetryTopic  string

	DeviceRefreshCron string
	PositionPollCron  string
	TrackedEntityIDs  string
	VoicePhrases      string
	VoiceDeviceID     string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.DeviceTokens, "device-tokens", "", "comma-separated bearer tokens accepted from trigger devices")
	fs.StringVar(&c.OperatorTokens, "operator-tokens", "", "comma-separated bearer tokens accepted from operator clients")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory incident store)")
	fs.StringVar(&c.SiteFile, "site-file", "", "path to the site provisioning file (triggers, recipients, beacons, paging devices)")
	fs.StringVar(&c.PagingAddr, "paging-addr", "", "paging network address host:port (empty = paging disabled)")
	fs.StringVar(&c.PagingSystemTag, "paging-system-tag", "muster", "originating system tag appended to page bodies")
	fs.IntVar(&c.PagingHeartbeatSecs, "paging-heartbeat-seconds", 30, "paging keepalive interval in seconds (1..300)")
	fs.IntVar(&c.EscalationTimeoutSecs, "escalation-timeout-seconds", 120, "default unacknowledged-alert escalation timeout in seconds (1..3600)")
	fs.IntVar(&c.DispatchMaxInFlight, "dispatch-max-inflight", 16, "bound on concurrent channel sends per dispatch (1..256)")
	fs.StringVar(&c.PushEndpoint, "push-endpoint", "", "push relay endpoint (empty = push channel disabled)")
	fs.StringVar(&c.SMSEndpoint, "sms-endpoint", "", "SMS gateway endpoint (empty = sms channel disabled)")
	fs.StringVar(&c.SMSAPIKey, "sms-api-key", "", "SMS gateway API key")
	fs.StringVar(&c.MailEndpoint, "mail-endpoint", "", "mail API endpoint (empty = email channel disabled)")
	fs.StringVar(&c.MailAPIKey, "mail-api-key", "", "mail API key")
	fs.StringVar(&c.MailFrom, "mail-from", "alerts@muster.local", "From address on alert emails")
	fs.StringVar(&c.SlackWebhookURL, "slack-webhook-url", "", "Slack incoming webhook URL (empty = slack channel disabled)")
	fs.StringVar(&c.MQTTBrokerURL, "mqtt-broker-url", "", "MQTT broker URL for broadcasts and telemetry (empty = disabled)")
	fs.StringVar(&c.MQTTTopic, "mqtt-topic-prefix", "muster/alerts", "MQTT topic prefix for alert broadcasts")
	fs.StringVar(&c.TelemetryTopic, "mqtt-telemetry-prefix", "muster/telemetry", "MQTT topic prefix for entity radio telemetry")
	fs.StringVar(&c.DeviceRefreshCron, "device-refresh-cron", "*/5 * * * *", "cron schedule for paging device registry refresh")
	fs.StringVar(&c.PositionPollCron, "position-poll-cron", "* * * * *", "cron schedule for recipient position polling")
	fs.StringVar(&c.TrackedEntityIDs, "tracked-entity-ids", "", "comma-separated entity ids to poll positions for")
	fs.StringVar(&c.VoicePhrases, "voice-phrases", "", "comma-separated voice activation phrases (empty = voice disabled)")
	fs.StringVar(&c.VoiceDeviceID, "voice-device-id", "", "registered trigger device id for voice activations")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.PagingHeartbeatSecs <= 0 || c.PagingHeartbeatSecs > 300 {
		errs = append(errs, fmt.Errorf("invalid PAGING_HEARTBEAT_SECONDS %d (must be 1..300)", c.PagingHeartbeatSecs))
	}
	if c.EscalationTimeoutSecs <= 0 || c.EscalationTimeoutSecs > 3600 {
		errs = append(errs, fmt.Errorf("invalid ESCALATION_TIMEOUT_SECONDS %d (must be 1..3600)", c.EscalationTimeoutSecs))
	}
	if c.DispatchMaxInFlight <= 0 || c.DispatchMaxInFlight > 256 {
		errs = append(errs, fmt.Errorf("invalid DISPATCH_MAX_INFLIGHT %d (must be 1..256)", c.DispatchMaxInFlight))
	}

	// Unauthenticated signal ingestion would let anyone trip alarms.
	if c.DeviceTokens == "" {
		errs = append(errs, errors.New("DEVICE_TOKENS is required"))
	}
	if c.OperatorTokens == "" {
		errs = append(errs, errors.New("OPERATOR_TOKENS is required"))
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(c.DeviceRefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("invalid DEVICE_REFRESH_CRON %q: %w", c.DeviceRefreshCron, err))
	}
	if _, err := parser.Parse(c.PositionPollCron); err != nil {
		errs = append(errs, fmt.Errorf("invalid POSITION_POLL_CRON %q: %w", c.PositionPollCron, err))
	}

	// Voice activation needs a registered device to attribute events to,
	// and utterances arrive over the broker.
	if c.VoicePhrases != "" && c.VoiceDeviceID == "" {
		errs = append(errs, errors.New("VOICE_DEVICE_ID is required when VOICE_PHRASES is set"))
	}
	if c.VoicePhrases != "" && c.MQTTBrokerURL == "" {
		errs = append(errs, errors.New("MQTT_BROKER_URL is required when VOICE_PHRASES is set"))
	}

	// Position polling reads entity telemetry from the broker.
	if c.TrackedEntityIDs != "" && c.MQTTBrokerURL == "" {
		errs = append(errs, errors.New("MQTT_BROKER_URL is required when TRACKED_ENTITY_IDS is set"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

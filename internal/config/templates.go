package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", "client":
		return clientTemplate, nil
	case "simulator":
		return simulatorTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const clientTemplate = `host = "192.168.1.20"
port = 47995
log_level = "info"

[control]
connect_timeout = "5s"
handshake_timeout = "5s"
loss_report_interval = "50ms"
max_connect_attempts = 1
resync_mode = "compat"

[escalation]
loss_period = "15s"
max_loss_count_in_period = 2
max_slow_sink_count = 2
message_delay_factor = 3

[admin]
listen = "127.0.0.1:7020"
cors_origins = ["http://localhost:3000"]
# token = "change-me"
`

const simulatorTemplate = `host = "127.0.0.1"
port = 47995
log_level = "debug"

[simulator]
listen = "127.0.0.1:47995"
reply_status = 0
reply_delay = "0s"
`

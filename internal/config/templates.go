package config

import (
	"fmt"
	"os"
)

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(Template), 0o600)
}

const Template = `service = "testgenl"
group = "testgroup"
message = "Hello generic netlink!"
data = 9527

# bus runs both sides in-process; netlink talks to a loaded kernel module
transport = "bus"
max_message_size = 8192
dump_frames = false

metrics_addr = ""
cors_origins = []
request_rate = 0.0
request_burst = 1
`

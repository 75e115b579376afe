package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteTemplate writes a starter config. It refuses to overwrite unless asked.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(Template), 0o600)
}

// Template is a commented starter configuration.
const Template = `# bot_token may also come from FLEET_BOT_TOKEN
bot_token = ""
# empty list = every chat user is allowed
allowed_users = []
servers_per_page = 6
machines_per_page = 8
update_script = "/usr/local/bin/update-machine.sh"
connect_timeout_seconds = 30
# host keys are not checked unless known_hosts is set
# known_hosts = "/etc/fleetbot/known_hosts"
max_concurrent = 8
# admin_addr = ":9090"
# nats_url = "nats://localhost:4222"

[[servers]]
name = "Hall A"
host = "10.0.0.10"
username = "root"
password = ""
# key_path = "/etc/fleetbot/id_ed25519"
machines = 40
location = "Floor 1"
address_base = "192.168.1."
address_offset = 100
`

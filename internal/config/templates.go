package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "run":
		return runTemplate, nil
	case "host":
		return hostTemplate, nil
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

const runTemplate = `project = "projects/boreal.toml"
years = 10
hooks = ""

[engine]
kind = "engine.stub"

[engine.proc]
command = "taigad"
args = ["-stdio"]

[engine.remote]
addr = "localhost:9400"
client_id = "taigactl.local"
engine_kind = "engine.stub"
max_connect_attempts = 3

[engine.session]
security_mode = "development"
connect_timeout = "5s"
handshake_timeout = "5s"
read_timeout = "15s"
write_timeout = "15s"
dead_after = "60s"

[engine.session.tls]
enabled = false
mutual = false

[[overrides]]
key = "climate.warming"
value = "2.4"

[store]
backend = "sqlite"
path = "taiga-runs.db"

[log]
level = "info"
format = "console"
`

const hostTemplate = `host_id = "taigad.local"
listen_addr = ":9400"
admin_addr = ":9401"
admin_token = ""
cors_origins = ["http://localhost:3000"]
engines = ["engine.stub"]
skip_identity_binding = false

[session]
security_mode = "development"
dead_after = "60s"

[session.tls]
enabled = false
mutual = false
cert_file = ""
key_file = ""
ca_file = ""

[log]
level = "info"
format = "json"
`

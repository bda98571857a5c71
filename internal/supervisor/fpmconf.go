package supervisor

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"text/template"

	"gopkg.in/ini.v1"
)

// defaultConfigTemplate is the minimal single-pool config written when the
// configured fpm config file does not exist. One static child: the sandbox
// serves one request at a time.
const defaultConfigTemplate = `[global]
pid = {{ .PidPath }}
error_log = /dev/stderr
daemonize = no

[www]
listen = {{ .SocketPath }}
pm = static
pm.max_children = 1
pm.max_requests = 0
access.log = /dev/null
clear_env = no
catch_workers_output = yes
decorate_workers_output = no
`

// ensureConfig makes sure an fpm config exists and reads back the paths it
// declares. A declared pid path wins over the configured default so reclaim
// looks where php-fpm actually writes.
func (s *Supervisor) ensureConfig() error {
	if _, err := os.Stat(s.cfg.ConfigPath); errors.Is(err, fs.ErrNotExist) {
		if err := s.generateConfig(); err != nil {
			return fmt.Errorf("%w: %v", ErrStartFailed, err)
		}
		s.log.Info("generated default fpm config", "path", s.cfg.ConfigPath)
		return nil
	}

	return s.inspectConfig()
}

func (s *Supervisor) generateConfig() error {
	tmpl, err := template.New("fpm.conf").Parse(defaultConfigTemplate)
	if err != nil {
		return fmt.Errorf("parse config template: %w", err)
	}

	var buf bytes.Buffer
	err = tmpl.Execute(&buf, map[string]string{
		"PidPath":    s.cfg.PidPath,
		"SocketPath": s.cfg.SocketPath,
	})
	if err != nil {
		return fmt.Errorf("render config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.cfg.ConfigPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(s.cfg.ConfigPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// inspectConfig cross-checks the fpm config against the paths the bridge
// relies on. A listen address other than the expected socket means requests
// will never reach the worker, so it is worth a loud warning up front.
func (s *Supervisor) inspectConfig() error {
	f, err := ini.Load(s.cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("%w: parse fpm config %s: %v", ErrStartFailed, s.cfg.ConfigPath, err)
	}

	if pid := f.Section("global").Key("pid").String(); pid != "" && pid != s.cfg.PidPath {
		s.log.Warn("fpm config declares a different pid path", "declared", pid, "default", s.cfg.PidPath)
		s.pidOverride = pid
	}

	for _, section := range f.Sections() {
		name := section.Name()
		if name == ini.DefaultSection || name == "global" {
			continue
		}
		listen := section.Key("listen").String()
		if listen != "" && listen != s.cfg.SocketPath {
			s.log.Warn("fpm pool does not listen on the bridge socket",
				"pool", name, "listen", listen, "expected", s.cfg.SocketPath)
		}
	}
	return nil
}

// pidPath is where the worker's pid file actually lives.
func (s *Supervisor) pidPath() string {
	if s.pidOverride != "" {
		return s.pidOverride
	}
	return s.cfg.PidPath
}

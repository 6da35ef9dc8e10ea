package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Ashfaaq98/osint-console/internal/osint"
)

// scriptMapping is the fixed target-type to script-file table.
var scriptMapping = map[osint.TargetType]string{
	osint.TargetIP:     "ip_analysis.py",
	osint.TargetDomain: "domain_analysis.py",
	osint.TargetURL:    "url_analysis.py",
	osint.TargetEmail:  "email_analysis.py",
	osint.TargetHash:   "hash_analysis.py",
	osint.TargetPhone:  "phone_analysis.py",
}

// Script runs a local analysis script per target type and parses its JSON output.
type Script struct {
	dir         string
	interpreter string
	timeout     time.Duration
	env         []string
	logger      *log.Logger
}

// NewScript builds the local executor. Every configured option is exported to
// the script as an upper-cased environment variable.
func NewScript(cfg osint.ProviderConfig, logger *log.Logger) (Provider, error) {
	opts := newOptions(cfg)
	timeout, err := opts.duration("timeout", DefaultTimeout)
	if err != nil {
		return nil, err
	}

	env := make([]string, 0, len(cfg.Options))
	for _, o := range cfg.Options {
		name := strings.ToUpper(strings.TrimSpace(o.Name))
		if name == "" {
			continue
		}
		env = append(env, fmt.Sprintf("%s=%s", name, o.Value))
	}

	return &Script{
		dir:         opts.str("scripts_dir", "./scripts"),
		interpreter: opts.str("interpreter", ""),
		timeout:     timeout,
		env:         env,
		logger:      orDiscard(logger),
	}, nil
}

func (s *Script) Name() string { return "script" }

func (s *Script) SupportedTypes() osint.TypeSet {
	set := osint.NewTypeSet()
	for t := range scriptMapping {
		set[t] = struct{}{}
	}
	return set
}

func (s *Script) scriptPath(t osint.TargetType) (string, bool) {
	name, ok := scriptMapping[t]
	if !ok {
		return "", false
	}
	return filepath.Join(s.dir, name), true
}

func (s *Script) Analyze(ctx context.Context, targetType osint.TargetType, value string) osint.ProviderResult {
	path, ok := s.scriptPath(targetType)
	if !ok {
		return osint.Failure(s.Name(), fmt.Sprintf("no analysis script for target type: %s", targetType))
	}
	if _, err := os.Stat(path); err != nil {
		return osint.Failure(s.Name(), fmt.Sprintf("analysis script not found: %s", filepath.Base(path)))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := []string{value, "--format=json"}
	name := path
	if s.interpreter != "" {
		name = s.interpreter
		args = append([]string{path}, args...)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), s.env...)
	// Children that inherit stdout would otherwise hold Run open past the kill.
	cmd.WaitDelay = 2 * time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	switch ctx.Err() {
	case context.DeadlineExceeded:
		return osint.Failure(s.Name(), fmt.Sprintf("script timed out after %d seconds", int(s.timeout/time.Second)))
	case context.Canceled:
		return osint.Failure(s.Name(), "script cancelled")
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return osint.Failure(s.Name(), fmt.Sprintf("script failed with return code %d: %s",
				exitErr.ExitCode(), strings.TrimSpace(stderr.String())))
		}
		s.logger.Printf("failed to run %s: %v", path, err)
		return osint.Failure(s.Name(), fmt.Sprintf("failed to run script: %v", err))
	}

	var data map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &data); err != nil || data == nil {
		return osint.Failure(s.Name(), "script returned invalid output: expected a JSON object")
	}
	if _, set := data["execution_time"]; !set {
		data["execution_time"] = elapsed.Seconds()
	}
	return osint.Success(s.Name(), data)
}

// HealthCheck reports which mapped scripts are missing from the scripts dir.
func (s *Script) HealthCheck(ctx context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("scripts directory %s not available", s.dir)
	}
	var missing []string
	for _, t := range s.SupportedTypes().Sorted() {
		path, _ := s.scriptPath(t)
		if _, err := os.Stat(path); err != nil {
			missing = append(missing, filepath.Base(path))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing scripts: %s", strings.Join(missing, ", "))
	}
	return nil
}

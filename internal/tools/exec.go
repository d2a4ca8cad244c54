package tools

import (
	"bytes"
	"context"
	"os/exec"
	"regexp"
	"time"
)

// denyPatterns blocks the highest-risk shell primitives before a command
// ever runs — trimmed from the teacher's internal/tools/shell.go
// defaultDenyPatterns (destructive ops, exfiltration, reverse shells,
// privilege escalation); the Docker-sandbox and exec-approval layers that
// wrapped it in the teacher are dropped, since no sandbox container or
// multi-operator approval flow exists in this implementation.
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`\bdd\s+if=`),
	regexp.MustCompile(`\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
	regexp.MustCompile(`\bcurl\b.*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\bwget\b.*-O\s*-\s*\|\s*(ba)?sh\b`),
	regexp.MustCompile(`\b(nc|ncat|netcat)\b.*-[el]\b`),
	regexp.MustCompile(`\bsudo\b`),
	regexp.MustCompile(`\bmkfs\b|\bdiskpart\b`),
	regexp.MustCompile(`/var/run/docker\.sock`),
}

// ExecTool implements spec §4.4's "bash execution" capability.
type ExecTool struct {
	workingDir string
	restrict   bool
	timeout    time.Duration
}

func NewExecTool(workingDir string, restrict bool) *ExecTool {
	return &ExecTool{workingDir: workingDir, restrict: restrict, timeout: 60 * time.Second}
}

func (t *ExecTool) Name() string        { return "exec" }
func (t *ExecTool) Description() string { return "Execute a shell command and return its output" }
func (t *ExecTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command":     map[string]interface{}{"type": "string", "description": "The shell command to execute"},
			"working_dir": map[string]interface{}{"type": "string", "description": "Optional working directory for the command"},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Execute(ctx context.Context, _ AuthContext, args map[string]interface{}) *Result {
	command, _ := args["command"].(string)
	if command == "" {
		return Errorf("bad_args", "command is required")
	}
	for _, pattern := range denyPatterns {
		if pattern.MatchString(command) {
			return Errorf("policy_denied", "command denied by safety policy")
		}
	}

	cwd := t.workingDir
	if wd, _ := args["working_dir"].(string); wd != "" {
		resolved, err := resolvePath(wd, t.workingDir, t.restrict)
		if err != nil {
			return Errorf("authorization", err.Error())
		}
		cwd = resolved
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = cwd
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	var out string
	if stdout.Len() > 0 {
		out = stdout.String()
	}
	if stderr.Len() > 0 {
		if out != "" {
			out += "\n"
		}
		out += "STDERR:\n" + stderr.String()
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Errorf("timeout", "command timed out after %s", t.timeout)
		}
		if out == "" {
			out = err.Error()
		}
		res := Errorf("tool_execution", "%s", out)
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.StatusCode = exitErr.ExitCode()
		}
		return res
	}
	if out == "" {
		out = "(command completed with no output)"
	}
	return Ok(out)
}

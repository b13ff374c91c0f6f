package gemini

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// agentdTmpDir is a dedicated temp directory for CLI invocations. Editor
// helper sockets left in the shared temp directory are known to confuse some
// agent CLIs, so subprocesses get a clean one.
var agentdTmpDir string

func init() {
	agentdTmpDir = filepath.Join(os.TempDir(), "agentd-gemini")
	os.MkdirAll(agentdTmpDir, 0755)
}

// SetCleanEnv configures cmd with the current environment, a clean TMPDIR,
// and the API key injected as GEMINI_API_KEY. The key is passed through
// opaquely; nothing in this process interprets it.
func SetCleanEnv(cmd *exec.Cmd, apiKey string) {
	env := os.Environ()

	setTmp := false
	for i, kv := range env {
		if strings.HasPrefix(kv, "TMPDIR=") {
			env[i] = "TMPDIR=" + agentdTmpDir
			setTmp = true
			break
		}
	}
	if !setTmp {
		env = append(env, "TMPDIR="+agentdTmpDir)
	}

	if apiKey != "" {
		env = append(env, "GEMINI_API_KEY="+apiKey)
	}

	cmd.Env = env
}

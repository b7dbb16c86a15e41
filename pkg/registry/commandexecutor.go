package registry

import (
	"fmt"
	"path/filepath"

	"github.com/cuemby/warren-agent/pkg/agentmodel"
)

// launcherBinary is the generic command-executor binary every launcher
// directory is expected to provide, mirroring Mesos's own
// mesos-executor shim.
const launcherBinary = "mesos-executor"

// emptyCommandPlaceholder is the deterministic display name used for a
// command-executor synthesized from an empty command string.
const emptyCommandPlaceholder = "(empty)"

// commandDisplayNameLimit and commandDisplayNameKeep implement the
// 15/12-char truncation rule: names longer than the limit are cut to
// the first keep characters plus an ellipsis.
const (
	commandDisplayNameLimit = 15
	commandDisplayNameKeep  = 12
)

// truncateCommandName derives the display name for a command-executor
// from the literal command string it wraps.
func truncateCommandName(command string) string {
	if command == "" {
		return emptyCommandPlaceholder
	}
	if len(command) <= commandDisplayNameLimit {
		return command
	}
	return command[:commandDisplayNameKeep] + "..."
}

// resolveLauncher locates the mesos-executor binary under launcherDir,
// resolving symlinks the way a shell's `realpath` would. When the
// binary cannot be resolved, it falls back to a shell invocation that
// reports the failure and exits nonzero rather than erroring out of
// task launch entirely: the resulting task still reaches the executor
// lifecycle (and so still produces an observable terminal status),
// it just fails immediately once the isolator launches it.
func resolveLauncher(launcherDir string) (command string, args []string) {
	candidate := filepath.Join(launcherDir, launcherBinary)
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		message := fmt.Sprintf("mesos-executor not found in %s: %v", launcherDir, err)
		return "/bin/sh", []string{"-c", fmt.Sprintf("echo %q >&2; exit 1", message)}
	}
	return resolved, nil
}

// newCommandExecutorInfo synthesizes an ExecutorInfo for a task
// submitted with an inline command rather than a full executor
// definition. executorID is caller-chosen (derived from the task-ID by
// convention, see Registry.RunTask) since a command task has no
// framework-assigned executor identity of its own.
func newCommandExecutorInfo(executorID, frameworkID, command, launcherDir string, resources agentmodel.Resources) agentmodel.ExecutorInfo {
	launcherPath, launcherArgs := resolveLauncher(launcherDir)
	displayCommand := truncateCommandName(command)

	args := append(append([]string{}, launcherArgs...), "--command", command)
	return agentmodel.ExecutorInfo{
		ExecutorID:  executorID,
		FrameworkID: frameworkID,
		Command:     launcherPath,
		Args:        args,
		Env:         []string{"MESOS_COMMAND_DISPLAY_NAME=" + displayCommand},
		Resources:   resources,
		IsCommand:   true,
	}
}

package runner

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/tidehq/tide/pkg/conf"
)

// TypeNameSubprocess is the discriminator of the subprocess runner.
const TypeNameSubprocess = "subprocess"

// entryModule is the fixed module executed inside the target interpreter.
// Its only positional argument is the hex rendering of the run id.
const entryModule = "tide.engine"

// SubprocessRunner executes job runs in a local child process.
type SubprocessRunner struct {
	// Env holds environment variables to provide to the job run. They are
	// applied last and may override anything the runner sets up itself.
	Env map[string]string `json:"env"`
	// StreamOutput forwards the merged output of the subprocess to the
	// agent's standard output as it is produced.
	StreamOutput bool `json:"stream_output"`
	// CondaEnv names an anaconda environment to run the job in. A path may
	// be given instead, similar to `conda run --prefix ...`.
	CondaEnv string `json:"condaenv,omitempty"`
	// VirtualEnv is a path to a virtualenv (or builtin venv) environment to
	// run the job in.
	VirtualEnv string `json:"virtualenv,omitempty"`
}

// NewSubprocessRunner validates and returns a subprocess runner.
func NewSubprocessRunner(runner SubprocessRunner) (*SubprocessRunner, error) {
	if runner.CondaEnv != "" && runner.VirtualEnv != "" {
		return nil, invalidConfiguration("received incompatible settings: cannot provide both a conda environment and a virtualenv to use")
	}
	return &runner, nil
}

// TypeName implements Runner.
func (r *SubprocessRunner) TypeName() string {
	return TypeNameSubprocess
}

// Submit implements Runner. It spawns the subprocess, resolves the start
// signal once the spawn succeeded and then drains the merged output until
// the process exits. The returned flag reports a zero exit code.
func (r *SubprocessRunner) Submit(run JobRun, started *StartSignal) (bool, error) {
	log.Infof("Opening subprocess for job run %q...", run.ID)

	command, env, err := r.commandAndEnvironment(run)
	if err != nil {
		return false, err
	}
	log.Debugf("Using command: %s", strings.Join(command, " "))

	return runCommand(run.ID.String(), command, env, r.StreamOutput, started)
}

// commandAndEnvironment builds the subprocess invocation. It is a pure
// function of the runner configuration and the inherited environment.
func (r *SubprocessRunner) commandAndEnvironment(run JobRun) ([]string, map[string]string, error) {
	env := environMap()

	var command []string
	python := conf.PythonExecutable.Value()

	if r.CondaEnv != "" {
		command = append(command, "conda", "run")
		if pathLike(r.CondaEnv) {
			prefix, err := expandPath(r.CondaEnv)
			if err != nil {
				return nil, nil, err
			}
			command = append(command, "--prefix", prefix)
		} else {
			command = append(command, "--name", r.CondaEnv)
		}
		// Let conda resolve the interpreter of the selected environment.
		python = "python"
	} else if r.VirtualEnv != "" {
		// This reproduces the relevant behavior of virtualenv's activation
		// script without going through a shell.
		virtualenvPath, err := expandPath(r.VirtualEnv)
		if err != nil {
			return nil, nil, err
		}
		python = filepath.Join(virtualenvPath, "bin", "python")
		env["PATH"] = filepath.Join(virtualenvPath, "bin") + string(os.PathListSeparator) + env["PATH"]
		delete(env, "PYTHONHOME")
		env["VIRTUAL_ENV"] = virtualenvPath
	}

	command = append(command, python, "-m", entryModule, run.HexID())

	// User-provided variables take precedence over everything set above.
	for name, value := range r.Env {
		env[name] = value
	}

	return command, env, nil
}

// pathLike reports whether a conda environment selector should be treated as
// a `--prefix` path rather than a `--name`.
func pathLike(value string) bool {
	return strings.HasPrefix(value, string(os.PathSeparator)) || strings.HasPrefix(value, "~")
}

// runCommand spawns the given command with stderr merged into stdout,
// resolves the start signal once the process is running and drains the
// output line by line until it exits. Draining is required even when the
// output is not streamed, otherwise the pipe buffer fills and stalls the
// child. A nonzero exit code is not an error; it only flips the returned
// flag and the log severity.
func runCommand(runID string, command []string, env map[string]string, streamOutput bool, started *StartSignal) (bool, error) {
	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = flattenEnvironment(env)

	output, pipe, err := os.Pipe()
	if err != nil {
		return false, errors.Wrap(err, "creating output pipe failed")
	}
	cmd.Stdout = pipe
	cmd.Stderr = pipe

	if err := cmd.Start(); err != nil {
		output.Close()
		pipe.Close()
		return false, errors.Wrapf(err, "spawning subprocess for job run %q failed", runID)
	}
	// The child holds its own copy of the write end.
	pipe.Close()

	started.Started(strconv.Itoa(cmd.Process.Pid))

	// bufio.Reader instead of bufio.Scanner: the latter caps line length and
	// would abandon the drain on a long line, stalling or breaking the child.
	reader := bufio.NewReader(output)
	var drainErr error
	for {
		line, err := reader.ReadString('\n')
		if streamOutput && line != "" {
			fmt.Print(line)
		}
		if err != nil {
			if err != io.EOF {
				drainErr = err
			}
			break
		}
	}
	output.Close()

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		exitErr, ok := err.(*exec.ExitError)
		if !ok {
			return false, errors.Wrapf(err, "waiting for subprocess of job run %q failed", runID)
		}
		exitCode = exitErr.ExitCode()
	}
	if drainErr != nil {
		return false, errors.Wrapf(drainErr, "draining output of subprocess for job run %q failed", runID)
	}

	if exitCode != 0 {
		log.Errorf("Subprocess for job run %q exited with bad code: %d", runID, exitCode)
		return false, nil
	}
	log.Infof("Subprocess for job run %q exited cleanly.", runID)
	return true, nil
}

func init() {
	Register(TypeNameSubprocess, func(config json.RawMessage) (Runner, error) {
		var runner SubprocessRunner
		if err := strictDecode(config, &runner); err != nil {
			return nil, invalidConfiguration("decoding %q runner settings failed: %v", TypeNameSubprocess, err)
		}
		return NewSubprocessRunner(runner)
	})
}

package main

import (
	"encoding/json"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tidehq/tide/pkg/conf"
	"github.com/tidehq/tide/pkg/runner"
	"github.com/tidehq/tide/pkg/utils/errutil"
)

var (
	runnerSettingsFlag = conf.NewStringFlag(
		"runner_settings",
		"Path to a JSON file with the {type, config} runner settings to use. When empty a subprocess runner with streamed output is used.",
		"")
	jobRunIDFlag = conf.NewStringFlag(
		"job_run_id",
		"Identifier of the job run to submit. A random one is generated when empty.",
		"")
	jobRunNameFlag = conf.NewStringFlag(
		"job_run_name",
		"Human readable name of the job run.",
		"")
)

// loadRunner rehydrates the runner from the settings file or falls back to a
// local subprocess runner.
func loadRunner() runner.Runner {
	if runnerSettingsFlag.Value() == "" {
		r, err := runner.NewSubprocessRunner(runner.SubprocessRunner{StreamOutput: true})
		errutil.Check(err)
		return r
	}

	data, err := os.ReadFile(runnerSettingsFlag.Value())
	errutil.CheckWithContext(err, "reading runner settings failed")

	var settings runner.Settings
	errutil.CheckWithContext(json.Unmarshal(data, &settings), "parsing runner settings failed")

	r, err := runner.FromSettings(settings)
	errutil.CheckWithContext(err, "constructing runner from settings failed")
	return r
}

func jobRun() runner.JobRun {
	run := runner.JobRun{ID: uuid.New(), Name: jobRunNameFlag.Value()}
	if jobRunIDFlag.Value() != "" {
		id, err := uuid.Parse(jobRunIDFlag.Value())
		errutil.CheckWithContext(err, "parsing job run id failed")
		run.ID = id
	}
	return run
}

func main() {
	conf.SetAppName("tide-agent")
	conf.SetHelp(`Agent submits a single job run to the configured execution runner,
waits for the infrastructure to start and exits nonzero when the run fails.`)

	errutil.Check(conf.ParseFlags())
	logrus.SetLevel(conf.LogLevel())

	run := jobRun()
	r := loadRunner()

	started := runner.NewStartSignal()
	go func() {
		infraID := <-started.Done()
		logrus.Infof("Job run %q started on %q via %q runner", run.ID, infraID, r.TypeName())
	}()

	ok, err := r.Submit(run, started)
	errutil.Check(err)
	if !ok {
		os.Exit(1)
	}
}

package runner

import (
	"fmt"
	"os"
	"testing"

	docker "github.com/fsouza/go-dockerclient"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/tidehq/tide/pkg/conf"
)

// fakeEngine is an in-memory dockerEngine used by the tests below.
type fakeEngine struct {
	version    string
	versionErr error

	images    map[string]bool
	builtTags []string

	conflicts map[string]bool
	createErr error
	created   []docker.CreateContainerOptions

	connectedNetworks []string
	startedContainers []string

	inspectErr      error
	inspectStatuses []string
	exitCode        int
	inspections     int

	logsOutput string
	logsErr    error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		version:         "20.10.17",
		images:          map[string]bool{},
		conflicts:       map[string]bool{},
		inspectStatuses: []string{"created", "exited"},
	}
}

func (e *fakeEngine) Version() (*docker.Env, error) {
	if e.versionErr != nil {
		return nil, e.versionErr
	}
	env := docker.Env{"Version=" + e.version}
	return &env, nil
}

func (e *fakeEngine) InspectImage(name string) (*docker.Image, error) {
	if !e.images[name] {
		return nil, docker.ErrNoSuchImage
	}
	return &docker.Image{ID: name}, nil
}

func (e *fakeEngine) BuildImage(opts docker.BuildImageOptions) error {
	fmt.Fprintln(opts.OutputStream, "Successfully built")
	e.builtTags = append(e.builtTags, opts.Name)
	e.images[opts.Name] = true
	return nil
}

func (e *fakeEngine) CreateContainer(opts docker.CreateContainerOptions) (*docker.Container, error) {
	if e.conflicts[opts.Name] {
		return nil, docker.ErrContainerAlreadyExists
	}
	if e.createErr != nil {
		return nil, e.createErr
	}
	e.created = append(e.created, opts)
	return &docker.Container{ID: "container-" + opts.Name, Name: "/" + opts.Name}, nil
}

func (e *fakeEngine) ConnectNetwork(id string, opts docker.NetworkConnectionOptions) error {
	e.connectedNetworks = append(e.connectedNetworks, id)
	return nil
}

func (e *fakeEngine) StartContainer(id string, hostConfig *docker.HostConfig) error {
	e.startedContainers = append(e.startedContainers, id)
	return nil
}

func (e *fakeEngine) InspectContainerWithOptions(opts docker.InspectContainerOptions) (*docker.Container, error) {
	if e.inspectErr != nil {
		return nil, e.inspectErr
	}
	status := e.inspectStatuses[len(e.inspectStatuses)-1]
	if e.inspections < len(e.inspectStatuses) {
		status = e.inspectStatuses[e.inspections]
	}
	e.inspections++
	return &docker.Container{
		ID:    opts.ID,
		Name:  "/" + opts.ID,
		State: docker.State{Status: status, ExitCode: e.exitCode},
	}, nil
}

func (e *fakeEngine) Logs(opts docker.LogsOptions) error {
	if e.logsErr != nil {
		return e.logsErr
	}
	fmt.Fprint(opts.OutputStream, e.logsOutput)
	return nil
}

func withFakeEngine(engine *fakeEngine, body func()) {
	restore := connectEngine
	connectEngine = func() (dockerEngine, error) { return engine, nil }
	defer func() { connectEngine = restore }()
	body()
}

func TestCreateContainerWithRetries(t *testing.T) {
	Convey("While creating containers", t, func() {
		engine := newFakeEngine()

		Convey("Name conflicts should retry with an incremented suffix", func() {
			engine.conflicts["x"] = true
			engine.conflicts["x-1"] = true
			engine.conflicts["x-2"] = true

			container, err := createContainerWithRetries(engine, docker.CreateContainerOptions{Name: "x"})

			So(err, ShouldBeNil)
			So(container.Name, ShouldEqual, "/x-3")
			So(engine.created, ShouldHaveLength, 1)
			So(engine.created[0].Name, ShouldEqual, "x-3")
		})

		Convey("Any other creation error should propagate unmodified", func() {
			creationErr := errors.New("no space left on device")
			engine.createErr = creationErr

			_, err := createContainerWithRetries(engine, docker.CreateContainerOptions{Name: "x"})

			So(err, ShouldEqual, creationErr)
		})
	})
}

func TestHostGatewayMapping(t *testing.T) {
	Convey("While deciding on the host gateway mapping", t, func() {
		Convey("Engine 20.10.0 should get the mapping", func() {
			So(hostGatewayHosts("20.10.0"), ShouldResemble, []string{"host.docker.internal:host-gateway"})
		})

		Convey("Engine 20.9.9 should not get the mapping", func() {
			So(hostGatewayHosts("20.9.9"), ShouldBeNil)
		})

		Convey("An unparsable version should not get the mapping", func() {
			So(hostGatewayHosts("weird"), ShouldBeNil)
		})

		Convey("The engine version should be read through the API", func() {
			engine := newFakeEngine()
			engine.version = "19.03.8"
			runner := &DockerRunner{}

			So(runner.extraHosts(engine), ShouldBeNil)

			engine.version = "23.0.1"
			So(runner.extraHosts(engine), ShouldResemble, []string{"host.docker.internal:host-gateway"})
		})
	})
}

func TestResolveImage(t *testing.T) {
	Convey("While resolving the image to run", t, func() {
		engine := newFakeEngine()

		Convey("An explicit image should be used verbatim", func() {
			runner := &DockerRunner{Image: "busybox:latest"}

			image, err := runner.resolveImage(engine)

			So(err, ShouldBeNil)
			So(image, ShouldEqual, "busybox:latest")
			So(engine.builtTags, ShouldBeEmpty)
		})

		Convey("A missing canonical image should be built from the configured context", func() {
			runner := &DockerRunner{}

			image, err := runner.resolveImage(engine)

			So(err, ShouldBeNil)
			So(image, ShouldEqual, agentImageTag())
			So(engine.builtTags, ShouldResemble, []string{agentImageTag()})
		})

		Convey("A present canonical image should not be rebuilt", func() {
			engine.images[agentImageTag()] = true
			runner := &DockerRunner{}

			image, err := runner.resolveImage(engine)

			So(err, ShouldBeNil)
			So(image, ShouldEqual, agentImageTag())
			So(engine.builtTags, ShouldBeEmpty)
		})
	})
}

func TestAgentImageTag(t *testing.T) {
	Convey("The canonical agent image tag should fit the engine's character set", t, func() {
		tag := agentImageTag()

		So(disallowedNameChars.MatchString(tag), ShouldBeFalse)
		So(len(tag), ShouldBeLessThanOrEqualTo, 128)
		So(tag, ShouldStartWith, "tide-agent-")
	})
}

func TestContainerEnvironment(t *testing.T) {
	Convey("While translating the container environment", t, func() {
		os.Setenv("TIDE_API_URL", "http://localhost:4200/api")
		os.Setenv("TIDE_DATABASE_URL", "postgresql://127.0.0.1:5432/tide")
		So(conf.ParseEnv(), ShouldBeNil)

		defer func() {
			os.Unsetenv("TIDE_API_URL")
			os.Unsetenv("TIDE_DATABASE_URL")
			conf.ParseEnv()
		}()

		Convey("Loopback control-plane URLs should point at the host gateway", func() {
			runner := &DockerRunner{}
			env := runner.containerEnvironment()

			So(env["TIDE_API_URL"], ShouldEqual, "http://host.docker.internal:4200/api")
			So(env["TIDE_DATABASE_URL"], ShouldEqual, "postgresql://host.docker.internal:5432/tide")
		})

		Convey("Explicit user variables should never be rewritten", func() {
			runner := &DockerRunner{Env: map[string]string{"TIDE_API_URL": "http://tide.internal/api"}}
			env := runner.containerEnvironment()

			So(env["TIDE_API_URL"], ShouldEqual, "http://tide.internal/api")
		})
	})
}

func TestContainerLabels(t *testing.T) {
	Convey("Container labels should merge user labels with the run id label", t, func() {
		run := JobRun{ID: uuid.MustParse("11111111-2222-3333-4444-555555555555")}
		runner := &DockerRunner{Labels: map[string]string{"team": "data"}}

		So(runner.containerLabels(run), ShouldResemble, map[string]string{
			"team":               "data",
			"io.tide.job-run-id": run.ID.String(),
		})
	})
}

func TestWatchContainer(t *testing.T) {
	Convey("While watching a container", t, func() {
		runner := &DockerRunner{}

		Convey("A clean exit should report success", func() {
			engine := newFakeEngine()
			engine.logsOutput = "line one\nline two\n"

			ok, err := runner.watchContainer(engine, "abc")

			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(engine.inspections, ShouldEqual, 2)
		})

		Convey("A nonzero exit code should report failure without an error", func() {
			engine := newFakeEngine()
			engine.exitCode = 137

			ok, err := runner.watchContainer(engine, "abc")

			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})

		Convey("A container removed mid-flight should be logged, not propagated", func() {
			engine := newFakeEngine()
			engine.inspectErr = &docker.NoSuchContainer{ID: "abc"}

			ok, err := runner.watchContainer(engine, "abc")

			So(err, ShouldBeNil)
			So(ok, ShouldBeFalse)
		})
	})
}

func TestDockerSubmit(t *testing.T) {
	run := JobRun{ID: uuid.MustParse("11111111-2222-3333-4444-555555555555"), Name: "nightly load"}

	Convey("While submitting a job run to Docker", t, func() {
		Convey("The container should start and the signal should carry its id", func() {
			engine := newFakeEngine()
			runner, err := NewDockerRunner(DockerRunner{
				Image:    "busybox:latest",
				Networks: []string{"frontend", "backend", "metrics"},
			})
			So(err, ShouldBeNil)

			started := NewStartSignal()
			var ok bool
			withFakeEngine(engine, func() {
				ok, err = runner.Submit(run, started)
			})

			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(<-started.Done(), ShouldEqual, "container-nightly-load")
			So(engine.startedContainers, ShouldResemble, []string{"container-nightly-load"})

			Convey("Only one network can be given at creation, the rest get connected", func() {
				So(engine.created[0].NetworkingConfig.EndpointsConfig, ShouldContainKey, "frontend")
				So(engine.connectedNetworks, ShouldResemble, []string{"backend", "metrics"})
			})

			Convey("The entry invocation should target the run's hex id", func() {
				So(engine.created[0].Config.Cmd, ShouldResemble, []string{"python", "-m", "tide.engine", run.HexID()})
			})
		})

		Convey("An unreachable engine should fail before the start signal", func() {
			restore := connectEngine
			connectEngine = func() (dockerEngine, error) {
				return nil, errors.Wrap(ErrEngineUnavailable, "dial unix /var/run/docker.sock")
			}
			defer func() { connectEngine = restore }()

			started := NewStartSignal()
			runner, err := NewDockerRunner(DockerRunner{Image: "busybox:latest"})
			So(err, ShouldBeNil)

			_, err = runner.Submit(run, started)

			So(errors.Cause(err), ShouldEqual, ErrEngineUnavailable)
			select {
			case <-started.Done():
				So("signal resolved", ShouldBeEmpty)
			default:
			}
		})
	})
}

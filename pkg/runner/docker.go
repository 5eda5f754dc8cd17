package runner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	docker "github.com/fsouza/go-dockerclient"
	goversion "github.com/hashicorp/go-version"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/tidehq/tide/pkg/conf"
	"github.com/tidehq/tide/pkg/version"
)

// TypeNameDocker is the discriminator of the docker runner.
const TypeNameDocker = "docker"

const (
	// hostGatewayName resolves to the engine host from inside a container.
	hostGatewayName = "host.docker.internal"
	// apiURLVariable and databaseURLVariable are the control-plane settings
	// injected into the container environment.
	apiURLVariable      = "TIDE_API_URL"
	databaseURLVariable = "TIDE_DATABASE_URL"
	// jobRunIDLabel marks containers for external discoverability.
	jobRunIDLabel = "io.tide.job-run-id"
)

// minimumHostGatewayVersion is the first engine release that understands the
// special `host-gateway` address in extra hosts.
var minimumHostGatewayVersion = goversion.Must(goversion.NewVersion("20.10.0"))

// dockerBuildLock serializes the check-and-build of the canonical agent
// image across all docker runners in the process. Concurrent builds of the
// same tag are wasteful and racy; container creation and start are left
// outside the critical section so unrelated submissions do not serialize.
var dockerBuildLock sync.Mutex

// dockerEngine is the slice of the engine API the runner depends on.
// *docker.Client satisfies it; tests substitute a fake.
type dockerEngine interface {
	Version() (*docker.Env, error)
	InspectImage(name string) (*docker.Image, error)
	BuildImage(opts docker.BuildImageOptions) error
	CreateContainer(opts docker.CreateContainerOptions) (*docker.Container, error)
	ConnectNetwork(id string, opts docker.NetworkConnectionOptions) error
	StartContainer(id string, hostConfig *docker.HostConfig) error
	InspectContainerWithOptions(opts docker.InspectContainerOptions) (*docker.Container, error)
	Logs(opts docker.LogsOptions) error
}

// connectEngine dials the engine configured through the standard DOCKER_*
// environment variables. Overridable for tests.
var connectEngine = func() (dockerEngine, error) {
	client, err := docker.NewClientFromEnv()
	if err != nil {
		return nil, errors.Wrap(ErrEngineUnavailable, err.Error())
	}
	if err := client.Ping(); err != nil {
		return nil, errors.Wrap(ErrEngineUnavailable, err.Error())
	}
	return client, nil
}

// DockerRunner executes job runs in containers.
type DockerRunner struct {
	// Env holds environment variables to provide to the job run. They are
	// merged over the control-plane variables the runner injects itself.
	Env map[string]string `json:"env"`
	// Image to run. When empty the canonical agent image is built on demand
	// from the configured build context.
	Image string `json:"image,omitempty"`
	// Networks to attach the container to, in order. The engine accepts a
	// single network at creation time; the rest are connected afterwards.
	Networks []string `json:"networks"`
	// Labels to set on the container, merged with the job run id label.
	Labels map[string]string `json:"labels"`
	// AutoRemove deletes the container once it exits.
	AutoRemove bool `json:"auto_remove"`
	// StreamOutput forwards the container log stream to the agent's
	// standard output.
	StreamOutput bool `json:"stream_output"`
}

// NewDockerRunner validates and returns a docker runner.
func NewDockerRunner(runner DockerRunner) (*DockerRunner, error) {
	return &runner, nil
}

// TypeName implements Runner.
func (r *DockerRunner) TypeName() string {
	return TypeNameDocker
}

// Submit implements Runner. It resolves the image, creates and starts the
// container, resolves the start signal with the container id and then
// monitors the container until its log stream ends. The returned flag
// reports a zero container exit code.
func (r *DockerRunner) Submit(run JobRun, started *StartSignal) (bool, error) {
	engine, err := connectEngine()
	if err != nil {
		return false, err
	}

	container, err := r.createAndStartContainer(engine, run)
	if err != nil {
		return false, err
	}

	started.Started(container.ID)

	return r.watchContainer(engine, container.ID)
}

func (r *DockerRunner) createAndStartContainer(engine dockerEngine, run JobRun) (*docker.Container, error) {
	image, err := r.resolveImage(engine)
	if err != nil {
		return nil, err
	}

	opts := docker.CreateContainerOptions{
		Name: containerName(run),
		Config: &docker.Config{
			Image:  image,
			Cmd:    []string{"python", "-m", entryModule, run.HexID()},
			Env:    flattenEnvironment(r.containerEnvironment()),
			Labels: r.containerLabels(run),
		},
		HostConfig: &docker.HostConfig{
			ExtraHosts: r.extraHosts(engine),
			AutoRemove: r.AutoRemove,
			Binds:      dataDirBinds(),
		},
	}
	if len(r.Networks) > 0 {
		opts.NetworkingConfig = &docker.NetworkingConfig{
			EndpointsConfig: map[string]*docker.EndpointConfig{
				r.Networks[0]: {},
			},
		}
	}

	container, err := createContainerWithRetries(engine, opts)
	if err != nil {
		return nil, err
	}

	// Only one network can be attached at creation time, the others need an
	// explicit connect each.
	for _, network := range extraNetworks(r.Networks) {
		err := engine.ConnectNetwork(network, docker.NetworkConnectionOptions{Container: container.ID})
		if err != nil {
			return nil, errors.Wrapf(err, "connecting container %q to network %q failed", container.ID, network)
		}
	}

	if err := engine.StartContainer(container.ID, nil); err != nil {
		return nil, errors.Wrapf(err, "starting container %q failed", container.ID)
	}

	return container, nil
}

// createContainerWithRetries creates a container, retrying on name conflicts
// with an incremented suffix until a free name is found. Any other creation
// error is propagated unmodified.
func createContainerWithRetries(engine dockerEngine, opts docker.CreateContainerOptions) (*docker.Container, error) {
	baseName := opts.Name
	for index := 0; ; index++ {
		if index > 0 {
			opts.Name = fmt.Sprintf("%s-%d", baseName, index)
		}
		container, err := engine.CreateContainer(opts)
		if err == docker.ErrContainerAlreadyExists {
			continue
		}
		if err != nil {
			return nil, err
		}
		return container, nil
	}
}

// resolveImage returns the configured image verbatim or ensures the
// canonical agent image exists, building it from the configured build
// context when missing.
func (r *DockerRunner) resolveImage(engine dockerEngine) (string, error) {
	if r.Image != "" {
		return r.Image, nil
	}

	tag := agentImageTag()
	log.Debugf("No image provided. Using image %q...", tag)

	dockerBuildLock.Lock()
	defer dockerBuildLock.Unlock()

	_, err := engine.InspectImage(tag)
	if err == docker.ErrNoSuchImage {
		log.Infof("Agent image %q not found. Building...", tag)
		var buildOutput bytes.Buffer
		buildErr := engine.BuildImage(docker.BuildImageOptions{
			Name:         tag,
			ContextDir:   conf.BuildContext.Value(),
			OutputStream: &buildOutput,
		})
		log.Debug(buildOutput.String())
		if buildErr != nil {
			return "", errors.Wrapf(buildErr, "building image %q failed", tag)
		}
		return tag, nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "inspecting image %q failed", tag)
	}
	return tag, nil
}

// agentImageTag derives the canonical agent image tag from the product name
// and release version, reduced to the engine's accepted character set.
func agentImageTag() string {
	return sanitizeName(fmt.Sprintf("tide:agent-%s", version.Current), 128)
}

// extraHosts maps the host gateway name to the engine host so the container
// can reach a control plane listening on the host's loopback interface.
func (r *DockerRunner) extraHosts(engine dockerEngine) []string {
	env, err := engine.Version()
	if err != nil {
		log.Warnf("Could not read the Docker engine version: %v", err)
		return nil
	}
	return hostGatewayHosts(env.Get("Version"))
}

func hostGatewayHosts(engineVersion string) []string {
	current, err := goversion.NewVersion(engineVersion)
	if err != nil {
		log.Warnf("Could not parse Docker engine version %q: %v", engineVersion, err)
		return nil
	}
	if current.LessThan(minimumHostGatewayVersion) {
		log.Warnf("%q could not be automatically resolved to your local host. This feature is not supported on Docker Engine v%s, upgrade to v%s+ if you encounter issues.",
			hostGatewayName, engineVersion, minimumHostGatewayVersion)
		return nil
	}
	return []string{hostGatewayName + ":host-gateway"}
}

// containerEnvironment copies the configured environment and points any
// loopback control-plane URLs at the host gateway instead, unless the user
// set the variable explicitly.
func (r *DockerRunner) containerEnvironment() map[string]string {
	env := map[string]string{}
	for name, value := range r.Env {
		env[name] = value
	}

	gateway := strings.NewReplacer("localhost", hostGatewayName, "127.0.0.1", hostGatewayName)

	if apiURL := conf.APIURL.Value(); apiURL != "" {
		if _, ok := env[apiURLVariable]; !ok {
			env[apiURLVariable] = gateway.Replace(apiURL)
		}
	}
	if databaseURL := conf.DatabaseURL.Value(); databaseURL != "" {
		if _, ok := env[databaseURLVariable]; !ok {
			env[databaseURLVariable] = gateway.Replace(databaseURL)
		}
	}

	databaseURL := env[databaseURLVariable]
	if _, ok := env[apiURLVariable]; !ok && (databaseURL == "" || strings.Contains(databaseURL, "sqlite")) {
		log.Warn("A standalone server has not been configured and the database connection URL is unset or using SQLite. The job run container will likely be unable to reach the API.")
	}

	return env
}

func (r *DockerRunner) containerLabels(run JobRun) map[string]string {
	labels := map[string]string{}
	for name, value := range r.Labels {
		labels[name] = value
	}
	labels[jobRunIDLabel] = run.ID.String()
	return labels
}

// watchContainer logs the container status, follows its log stream and
// reports whether the container exited cleanly. A container or image removed
// mid-flight is logged instead of propagated.
func (r *DockerRunner) watchContainer(engine dockerEngine, containerID string) (bool, error) {
	container, err := engine.InspectContainerWithOptions(docker.InspectContainerOptions{ID: containerID})
	if err != nil {
		return false, containerGone(containerID, err)
	}
	initialStatus := container.State.Status
	log.Infof("Job run container %q has status %q", displayName(container), initialStatus)

	var output io.Writer = io.Discard
	if r.StreamOutput {
		output = os.Stdout
	}
	err = engine.Logs(docker.LogsOptions{
		Container:    containerID,
		OutputStream: output,
		ErrorStream:  output,
		Stdout:       true,
		Stderr:       true,
		Follow:       true,
	})
	if err != nil {
		return false, containerGone(containerID, err)
	}

	container, err = engine.InspectContainerWithOptions(docker.InspectContainerOptions{ID: containerID})
	if err != nil {
		return false, containerGone(containerID, err)
	}
	if container.State.Status != initialStatus {
		log.Infof("Job run container %q has status %q", displayName(container), container.State.Status)
	}

	if container.State.ExitCode != 0 {
		log.Errorf("Job run container %q exited with bad code: %d", displayName(container), container.State.ExitCode)
		return false, nil
	}
	return true, nil
}

// containerGone downgrades a not-found error during monitoring to a log
// line; the run is already executing and observability is best effort.
func containerGone(containerID string, err error) error {
	if _, ok := err.(*docker.NoSuchContainer); ok || err == docker.ErrNoSuchImage {
		log.Errorf("Job run container %q was removed.", containerID)
		return nil
	}
	return errors.Wrapf(err, "monitoring container %q failed", containerID)
}

func displayName(container *docker.Container) string {
	return strings.TrimPrefix(container.Name, "/")
}

func extraNetworks(networks []string) []string {
	if len(networks) < 2 {
		return nil
	}
	return networks[1:]
}

// dataDirBinds mounts the agent data directory into the container so the
// entry point sees the same profiles and local state as the agent.
func dataDirBinds() []string {
	dataDir := conf.DataDir.Value()
	if dataDir == "" {
		return nil
	}
	path, err := expandPath(dataDir)
	if err != nil {
		log.Warnf("Could not resolve data directory %q: %v", dataDir, err)
		return nil
	}
	return []string{path + ":/root"}
}

func init() {
	Register(TypeNameDocker, func(config json.RawMessage) (Runner, error) {
		var runner DockerRunner
		if err := strictDecode(config, &runner); err != nil {
			return nil, invalidConfiguration("decoding %q runner settings failed: %v", TypeNameDocker, err)
		}
		return NewDockerRunner(runner)
	})
}

package conf

// Process-wide control-plane and runner settings.
var (
	// APIURL points runners at the control-plane API endpoint.
	APIURL = NewStringFlag("api_url", "URL of the tide API endpoint", "")

	// DatabaseURL is the control-plane database connection URL.
	DatabaseURL = NewStringFlag("database_url", "Connection URL of the tide database", "")

	// PythonExecutable is the interpreter used when no environment selector
	// chooses one.
	PythonExecutable = NewStringFlag("python", "Python interpreter used to launch job entry points", "python3")

	// BuildContext is the directory used as build context when the canonical
	// agent image has to be built.
	BuildContext = NewStringFlag("build_context", "Docker build context for the agent image", ".")

	// DataDir is mounted into job run containers as /root.
	DataDir = NewStringFlag("data_dir", "Directory with agent profiles and local state", "~/.tide")
)

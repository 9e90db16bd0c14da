package driver

// Registry holds the known Drivers keyed by canonical name.
type Registry struct {
	drivers map[string]Driver
}

// NewRegistry creates a Registry populated with the built-in drivers. A
// caller may register additional drivers via Register.
func NewRegistry() *Registry {
	r := &Registry{drivers: make(map[string]Driver)}
	for _, d := range builtins() {
		r.Register(d)
	}
	return r
}

// Register adds or replaces a driver.
func (r *Registry) Register(d Driver) {
	r.drivers[d.Name] = d
}

// Get resolves a driver by canonical name.
func (r *Registry) Get(name string) (Driver, bool) {
	d, ok := r.drivers[name]
	return d, ok
}

// Names returns every registered driver name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.drivers))
	for n := range r.drivers {
		names = append(names, n)
	}
	return names
}

func builtins() []Driver {
	return []Driver{
		{
			Name:                 "claude",
			Command:              "claude",
			DefaultArgs:          []string{"-p", "--output-format", "stream-json", "--verbose"},
			PromptArgs:           nil,
			ModelArg:             "--model",
			DefaultEnv:           map[string]string{},
			SupportsResume:       true,
			ResumeArgsFn:         func(sessionID string) []string { return []string{"--resume", sessionID} },
			PermissionSignatures: []string{"permission denied", "requires approval"},
			NetworkSignatures:    []string{"network error", "timed out", "ECONNRESET"},
		},
		{
			Name:                 "cursor-agent",
			Command:              "cursor-agent",
			DefaultArgs:          []string{"--output-format", "stream-json"},
			PromptArgs:           []string{"-p"},
			ModelArg:             "--model",
			DefaultEnv:           map[string]string{},
			SupportsResume:       true,
			ResumeArgsFn:         func(sessionID string) []string { return []string{"--resume", sessionID} },
			PermissionSignatures: []string{"permission denied"},
			NetworkSignatures:    []string{"network error", "timed out"},
		},
		{
			Name:                 "opencode",
			Command:              "opencode",
			DefaultArgs:          []string{"run", "--print-logs"},
			PositionalPrompt:     true,
			ModelArg:             "--model",
			DefaultEnv:           map[string]string{},
			SupportsResume:       false,
			PermissionSignatures: []string{"permission denied"},
			NetworkSignatures:    []string{"network error", "timed out"},
		},
		{
			Name:                 "amp",
			Command:              "amp",
			DefaultArgs:          []string{"--stream-json"},
			PromptArgs:           []string{"-x"},
			DefaultEnv:           map[string]string{},
			SupportsResume:       true,
			ResumeArgsFn:         func(sessionID string) []string { return []string{"--thread", sessionID} },
			PermissionSignatures: []string{"permission denied"},
			NetworkSignatures:    []string{"network error", "timed out"},
		},
		{
			Name:                 "codex",
			Command:              "codex",
			DefaultArgs:          []string{"exec", "--json"},
			PositionalPrompt:     true,
			ModelArg:             "--model",
			DefaultEnv:           map[string]string{},
			SupportsResume:       true,
			ResumeArgsFn:         func(sessionID string) []string { return []string{"--resume", sessionID} },
			PermissionSignatures: []string{"permission denied", "sandbox violation"},
			NetworkSignatures:    []string{"network error", "timed out"},
			ExitCodeSignature:    map[int]string{77: "permission"},
		},
	}
}

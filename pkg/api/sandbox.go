package api

import "context"

// Sandbox is the isolated filesystem and process environment that all
// dispatched actions operate against. Implementations must confine every
// effect to the sandbox root; the dispatcher performs path validation
// before calling in, but a Sandbox must never touch the host filesystem
// outside its scope regardless.
type Sandbox interface {
	// WriteFile writes content to path, creating the file and any missing
	// parent directories.
	WriteFile(ctx context.Context, path string, content string) error

	// ReadFile returns the full content of the file at path.
	ReadFile(ctx context.Context, path string) (string, error)

	// Mkdir creates a directory. When recursive is false, the parent must
	// already exist.
	Mkdir(ctx context.Context, path string, recursive bool) error

	// ReadDir lists the entry names at path.
	ReadDir(ctx context.Context, path string) ([]string, error)

	// Run spawns a shell command inside the sandbox and returns the
	// combined output together with the process exit code. A non-zero
	// exit code is not an error; err is reserved for spawn failures.
	Run(ctx context.Context, command string) (output string, exitCode int, err error)

	// Close releases the sandbox. Called on session teardown.
	Close() error
}

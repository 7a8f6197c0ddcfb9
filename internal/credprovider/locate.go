package credprovider

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	dserrors "github.com/systmms/feedcred/internal/errors"
	pexec "github.com/systmms/feedcred/pkg/exec"
)

// ExecutableName is the base name of the credential provider
const ExecutableName = "CredentialProvider.Microsoft"

// DefaultPluginsDir returns ~/.nuget/plugins.
func DefaultPluginsDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".nuget", "plugins")
	}
	return filepath.Join(home, ".nuget", "plugins")
}

// Locator finds the credential provider on disk and works out how to run it.
type Locator struct {
	// ExecutablePath overrides discovery when set. A .dll is run with dotnet.
	ExecutablePath string

	// PluginsDir is searched for netcore/CredentialProvider.Microsoft.
	PluginsDir string

	Executor pexec.CommandExecutor
	GOOS     string
}

// NewLocator returns a Locator using the real executor.
func NewLocator(executablePath, pluginsDir string) *Locator {
	return &Locator{
		ExecutablePath: executablePath,
		PluginsDir:     pluginsDir,
		Executor:       pexec.DefaultExecutor(),
		GOOS:           runtime.GOOS,
	}
}

// InstallDir is where discovery looks for the provider.
func (l *Locator) InstallDir() string {
	dir := l.PluginsDir
	if dir == "" {
		dir = DefaultPluginsDir()
	}
	return filepath.Join(dir, "netcore", ExecutableName)
}

// Locate returns how to invoke the credential provider.
func (l *Locator) Locate(ctx context.Context) (Invocation, error) {
	if l.ExecutablePath != "" {
		if strings.EqualFold(filepath.Ext(l.ExecutablePath), ".dll") {
			return l.dotnetInvocation(ctx, l.ExecutablePath)
		}
		if _, err := os.Stat(l.ExecutablePath); err != nil {
			return Invocation{}, notFound(l.ExecutablePath, err)
		}
		if err := l.ensureExecutable(l.ExecutablePath); err != nil {
			return Invocation{}, err
		}
		return Invocation{Path: l.ExecutablePath}, nil
	}

	root := l.InstallDir()
	if l.goos() != "windows" && isDir(filepath.Join(root, "runtimes")) {
		return l.dotnetInvocation(ctx, filepath.Join(root, ExecutableName+".dll"))
	}

	name := ExecutableName
	if l.goos() == "windows" {
		name += ".exe"
	}
	path := filepath.Join(root, name)
	if _, err := os.Stat(path); err != nil {
		return Invocation{}, notFound(path, err)
	}
	if err := l.ensureExecutable(path); err != nil {
		return Invocation{}, err
	}
	return Invocation{Path: path}, nil
}

// dotnetInvocation runs a framework-dependent build with "dotnet exec".
func (l *Locator) dotnetInvocation(ctx context.Context, dll string) (Invocation, error) {
	if _, err := os.Stat(dll); err != nil {
		return Invocation{}, notFound(dll, err)
	}

	dotnet, err := l.Executor.LookPath("dotnet")
	if err != nil {
		return Invocation{}, dserrors.WrapCommandNotFound("dotnet", err)
	}

	stdout, stderr, err := l.Executor.Execute(ctx, dotnet, "--list-runtimes")
	if err != nil || strings.TrimSpace(string(stdout)) == "" {
		msg := "no .NET runtimes are installed"
		if err != nil {
			msg = strings.TrimSpace(string(stderr))
		}
		return Invocation{}, dserrors.CommandError{
			Command:    "dotnet --list-runtimes",
			ExitCode:   pexec.ExitCode(err),
			Message:    msg,
			Suggestion: "Install the .NET runtime required by the credential provider, or use a self-contained build",
		}
	}

	return Invocation{Path: dotnet, Args: []string{"exec", dll}}, nil
}

func (l *Locator) ensureExecutable(path string) error {
	if l.goos() == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return notFound(path, err)
	}
	if info.Mode().Perm()&0o111 != 0 {
		return nil
	}
	if err := os.Chmod(path, 0o755); err != nil {
		return dserrors.ConfigError{
			Field:      "provider.executable_path",
			Value:      path,
			Message:    "credential provider is not executable",
			Suggestion: "Run: chmod 755 " + path,
			Err:        err,
		}
	}
	return nil
}

func (l *Locator) goos() string {
	if l.GOOS == "" {
		return runtime.GOOS
	}
	return l.GOOS
}

func notFound(path string, err error) error {
	cause := ErrExecutableNotFound
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		cause = errors.Join(ErrExecutableNotFound, err)
	}
	return dserrors.ConfigError{
		Field:      "provider.executable_path",
		Value:      path,
		Message:    "credential provider not found in the expected path",
		Suggestion: "Install it with installcredprovider.sh or set ARTIFACTS_CREDENTIAL_PROVIDER_PATH",
		Err:        cause,
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// Package project inspects the workspace to suggest how the user's dev
// server is started and which port it listens on.
package project

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotNode is returned when the workspace has no package.json.
var ErrNotNode = errors.New("no package.json in workspace")

// Framework identifies a frontend framework.
type Framework string

const (
	FrameworkNext      Framework = "next"
	FrameworkVite      Framework = "vite"
	FrameworkRemix     Framework = "remix"
	FrameworkAstro     Framework = "astro"
	FrameworkNuxt      Framework = "nuxt"
	FrameworkSvelteKit Framework = "sveltekit"
	FrameworkAngular   Framework = "angular"
	FrameworkCRA       Framework = "create-react-app"
	FrameworkUnknown   Framework = "unknown"
)

// defaultPorts are the dev-server ports each framework uses out of the box.
var defaultPorts = map[Framework]int{
	FrameworkNext:      3000,
	FrameworkVite:      5173,
	FrameworkRemix:     5173,
	FrameworkAstro:     4321,
	FrameworkNuxt:      3000,
	FrameworkSvelteKit: 5173,
	FrameworkAngular:   4200,
	FrameworkCRA:       3000,
}

// frameworkDeps maps a dependency to its framework, most specific first.
var frameworkDeps = []struct {
	dep       string
	framework Framework
}{
	{"next", FrameworkNext},
	{"@remix-run/dev", FrameworkRemix},
	{"astro", FrameworkAstro},
	{"nuxt", FrameworkNuxt},
	{"@sveltejs/kit", FrameworkSvelteKit},
	{"@angular/core", FrameworkAngular},
	{"react-scripts", FrameworkCRA},
	{"vite", FrameworkVite},
}

// Project represents a detected frontend project.
type Project struct {
	// Path is the absolute path to the project root.
	Path string `json:"path"`
	// Name is the package name, or the directory name.
	Name string `json:"name"`
	// PackageManager is npm, pnpm, yarn or bun.
	PackageManager string    `json:"packageManager"`
	Framework      Framework `json:"framework"`
	TypeScript     bool      `json:"typescript"`
	// Scripts are the package.json scripts.
	Scripts map[string]string `json:"scripts,omitempty"`
}

type packageJSON struct {
	Name            string            `json:"name"`
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies"`
}

// Detect examines path and returns project information.
func Detect(path string) (*Project, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, os.ErrInvalid
	}

	data, err := os.ReadFile(filepath.Join(absPath, "package.json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotNode
	}
	if err != nil {
		return nil, err
	}
	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, err
	}

	proj := &Project{
		Path:           absPath,
		Name:           pkg.Name,
		PackageManager: detectPackageManager(absPath),
		Framework:      detectFramework(pkg),
		TypeScript:     fileExists(filepath.Join(absPath, "tsconfig.json")),
		Scripts:        pkg.Scripts,
	}
	if proj.Name == "" {
		proj.Name = filepath.Base(absPath)
	}
	return proj, nil
}

func detectFramework(pkg packageJSON) Framework {
	for _, fd := range frameworkDeps {
		if _, ok := pkg.Dependencies[fd.dep]; ok {
			return fd.framework
		}
		if _, ok := pkg.DevDependencies[fd.dep]; ok {
			return fd.framework
		}
	}
	return FrameworkUnknown
}

// detectPackageManager determines which package manager to use.
func detectPackageManager(path string) string {
	// Check for lock files in priority order
	switch {
	case fileExists(filepath.Join(path, "pnpm-lock.yaml")):
		return "pnpm"
	case fileExists(filepath.Join(path, "yarn.lock")):
		return "yarn"
	case fileExists(filepath.Join(path, "bun.lockb")), fileExists(filepath.Join(path, "bun.lock")):
		return "bun"
	default:
		return "npm"
	}
}

// DevScript returns the script that starts the dev server, or "".
func (p *Project) DevScript() string {
	for _, name := range []string{"dev", "start", "serve"} {
		if _, ok := p.Scripts[name]; ok {
			return name
		}
	}
	return ""
}

// DevCommand returns the command that starts the dev server, or nil.
func (p *Project) DevCommand() []string {
	script := p.DevScript()
	if script == "" {
		return nil
	}
	return []string{p.PackageManager, "run", script}
}

// DefaultPort guesses the dev-server port. A --port flag in the dev script
// wins over the framework default. 0 means unknown.
func (p *Project) DefaultPort() int {
	if script := p.DevScript(); script != "" {
		if port := portFromScript(p.Scripts[script]); port > 0 {
			return port
		}
	}
	return defaultPorts[p.Framework]
}

func portFromScript(script string) int {
	fields := strings.Fields(script)
	for i, f := range fields {
		var val string
		switch {
		case f == "--port" || f == "-p":
			if i+1 < len(fields) {
				val = fields[i+1]
			}
		case strings.HasPrefix(f, "--port="):
			val = strings.TrimPrefix(f, "--port=")
		default:
			continue
		}
		port := 0
		for _, c := range val {
			if c < '0' || c > '9' {
				port = 0
				break
			}
			port = port*10 + int(c-'0')
		}
		if port > 0 && port < 65536 {
			return port
		}
	}
	return 0
}

// ScriptNames returns the script names, sorted.
func (p *Project) ScriptNames() []string {
	names := make([]string, 0, len(p.Scripts))
	for name := range p.Scripts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

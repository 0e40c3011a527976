// Package sqltemplates renders SQL templates with pongo2. Templates live in
// an fs.FS, are resolved against the connected server version and have the
// quoting and privilege macros attached to their context.
package sqltemplates

import (
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	pongo2 "github.com/flosch/pongo2/v6"
)

// AdapterInfo describes the dialect being rendered.
type AdapterInfo struct {
	Name         string
	Capabilities map[string]bool
}

// Postgres is the adapter all directory templates are written for.
var Postgres = AdapterInfo{Name: "postgres"}

// MacroFunc renders dialect-aware SQL fragments.
type MacroFunc func(adapter AdapterInfo, args ...interface{}) (string, error)

var (
	macroMu       sync.RWMutex
	macroRegistry = map[string]map[string]MacroFunc{}
)

func init() {
	RegisterMacro("*", "qtIdent", qtIdentMacro)
	RegisterMacro("*", "qtLiteral", qtLiteralMacro)
	registerPostgresMacros("postgres")
}

// RegisterMacro registers a macro for an adapter ("*" = all adapters).
func RegisterMacro(adapter, name string, fn MacroFunc) {
	macroMu.Lock()
	defer macroMu.Unlock()

	if adapter == "" {
		adapter = "*"
	}
	adapter = strings.ToLower(adapter)

	if macroRegistry[adapter] == nil {
		macroRegistry[adapter] = make(map[string]MacroFunc)
	}
	macroRegistry[adapter][name] = fn
}

// Render compiles a template string without additional context.
func Render(raw string, adapter AdapterInfo) (string, error) {
	return RenderWithContext(raw, adapter, nil)
}

// RenderWithContext compiles a template string and executes it with the
// given bindings.
func RenderWithContext(raw string, adapter AdapterInfo, bindings map[string]interface{}) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	tmpl, err := compile(raw)
	if err != nil {
		return "", err
	}
	return execute(tmpl, adapter, bindings)
}

func compile(raw string) (*pongo2.Template, error) {
	return pongo2.FromString("{% autoescape off %}" + raw + "{% endautoescape %}")
}

func execute(tmpl *pongo2.Template, adapter AdapterInfo, bindings map[string]interface{}) (out string, err error) {
	// macros report failures by panicking; pongo2 does not recover them
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("render: %v", r)
		}
	}()

	ctx := pongo2.Context{
		"adapter": pongo2.Context{
			"name":         strings.ToLower(adapter.Name),
			"capabilities": adapter.Capabilities,
		},
	}
	for k, v := range bindings {
		ctx[k] = v
	}

	macroMu.RLock()
	for _, scope := range []string{"*", strings.ToLower(adapter.Name)} {
		for name, fn := range macroRegistry[scope] {
			ctx[name] = macroWrapper(fn, adapter)
		}
	}
	macroMu.RUnlock()

	rendered, err := tmpl.Execute(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(rendered), nil
}

func macroWrapper(fn MacroFunc, adapter AdapterInfo) interface{} {
	return func(args ...interface{}) string {
		out, err := fn(adapter, args...)
		if err != nil {
			panic(err)
		}
		return out
	}
}

// Renderer renders named templates from a file system. Compiled templates
// are cached by resolved path.
type Renderer struct {
	fsys    fs.FS
	adapter AdapterInfo

	mu    sync.RWMutex
	cache map[string]*pongo2.Template
}

// NewRenderer creates a Renderer over fsys.
func NewRenderer(fsys fs.FS, adapter AdapterInfo) *Renderer {
	if adapter.Name == "" {
		adapter = Postgres
	}
	return &Renderer{
		fsys:    fsys,
		adapter: adapter,
		cache:   make(map[string]*pongo2.Template),
	}
}

// RenderFile renders the template at name. A "#<version>#" path segment is
// resolved to the matching versioned directory first.
func (r *Renderer) RenderFile(name string, bindings map[string]interface{}) (string, error) {
	resolved, err := ResolvePath(r.fsys, name)
	if err != nil {
		return "", err
	}

	tmpl, err := r.load(resolved)
	if err != nil {
		return "", err
	}

	out, err := execute(tmpl, r.adapter, bindings)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", resolved, err)
	}
	return out, nil
}

func (r *Renderer) load(name string) (*pongo2.Template, error) {
	r.mu.RLock()
	tmpl, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	raw, err := fs.ReadFile(r.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", name, err)
	}
	tmpl, err = compile(string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile template %s: %w", name, err)
	}

	r.mu.Lock()
	r.cache[name] = tmpl
	r.mu.Unlock()
	return tmpl, nil
}

// VersionedPath builds the "#<version>#" template directory for base.
func VersionedPath(base string, version int) string {
	return path.Join(base, fmt.Sprintf("#%d#", version))
}

var versionSegment = regexp.MustCompile(`^#(\d+)#$`)

// ResolvePath replaces a "#<version>#" segment in name with the highest
// "<version>_plus" directory not newer than the version, or "default".
func ResolvePath(fsys fs.FS, name string) (string, error) {
	parts := strings.Split(name, "/")
	for i, part := range parts {
		m := versionSegment.FindStringSubmatch(part)
		if m == nil {
			continue
		}
		version, _ := strconv.Atoi(m[1])
		dir, err := resolveVersionDir(fsys, path.Join(parts[:i]...), version)
		if err != nil {
			return "", err
		}
		parts[i] = dir
	}
	return path.Join(parts...), nil
}

func resolveVersionDir(fsys fs.FS, base string, version int) (string, error) {
	if base == "" {
		base = "."
	}
	entries, err := fs.ReadDir(fsys, base)
	if err != nil {
		return "", fmt.Errorf("list template versions in %s: %w", base, err)
	}

	type candidate struct {
		dir     string
		version int
	}
	var candidates []candidate
	hasDefault := false
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if entry.Name() == "default" {
			hasDefault = true
			continue
		}
		if v, ok := parseVersionDir(entry.Name()); ok && v <= version {
			candidates = append(candidates, candidate{dir: entry.Name(), version: v})
		}
	}

	if len(candidates) > 0 {
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].version > candidates[j].version })
		return candidates[0].dir, nil
	}
	if hasDefault {
		return "default", nil
	}
	return "", fmt.Errorf("no template directory in %s matches server version %d", base, version)
}

// parseVersionDir turns "9.6_plus" into 90600 and "16_plus" into 160000.
func parseVersionDir(name string) (int, bool) {
	v, ok := strings.CutSuffix(name, "_plus")
	if !ok {
		return 0, false
	}
	major, minor, _ := strings.Cut(v, ".")
	maj, err := strconv.Atoi(major)
	if err != nil {
		return 0, false
	}
	mnr := 0
	if minor != "" {
		if mnr, err = strconv.Atoi(minor); err != nil {
			return 0, false
		}
	}
	return maj*10000 + mnr*100, true
}

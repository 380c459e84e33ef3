package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Manager resolves prompt templates. A file named <kind>.txt in the prompts
// directory wins over the configured template, which wins over the built-in
// default.
type Manager struct {
	templates  map[Kind]string
	promptsDir string

	mu    sync.RWMutex
	cache map[string]string
}

// NewManager creates a prompt manager from configured templates. Empty
// templates are ignored.
func NewManager(templates map[Kind]string) *Manager {
	return NewManagerWithDir(templates, "")
}

// NewManagerWithDir creates a prompt manager that also looks for overrides in
// promptsDir.
func NewManagerWithDir(templates map[Kind]string, promptsDir string) *Manager {
	m := &Manager{
		templates:  make(map[Kind]string, len(templates)),
		promptsDir: promptsDir,
		cache:      make(map[string]string),
	}
	for k, v := range templates {
		if strings.TrimSpace(v) != "" {
			m.templates[k] = v
		}
	}
	return m
}

// Template returns the raw template for kind.
func (m *Manager) Template(kind Kind) string {
	if m.promptsDir != "" {
		if tmpl, err := m.loadPromptFile(string(kind) + ".txt"); err == nil && strings.TrimSpace(tmpl) != "" {
			return tmpl
		}
	}
	if tmpl, ok := m.templates[kind]; ok {
		return tmpl
	}
	return defaultPrompts[kind]
}

// Render expands the template for kind against the asset and site and falls
// back to the built-in prompt when the result is blank.
func (m *Manager) Render(kind Kind, asset, site Resolver) string {
	return OrDefault(kind, Expand(m.Template(kind), asset, site))
}

func (m *Manager) loadPromptFile(filename string) (string, error) {
	m.mu.RLock()
	cached, ok := m.cache[filename]
	m.mu.RUnlock()
	if ok {
		return cached, nil
	}

	data, err := os.ReadFile(filepath.Join(m.promptsDir, filename))
	if err != nil {
		return "", err
	}

	prompt := strings.TrimSpace(string(data))
	m.mu.Lock()
	m.cache[filename] = prompt
	m.mu.Unlock()
	return prompt, nil
}

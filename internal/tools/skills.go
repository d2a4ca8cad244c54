package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Skill is a named markdown prompt snippet loaded from the skills
// directory (spec §4.4's "skill activation" capability).
type Skill struct {
	Name    string
	Path    string
	Content string
}

// SkillsCatalog loads *.md files from a directory as activatable skills
// and watches the directory with fsnotify so "/reload-skills" (spec
// §4.7) and ambient file changes both refresh the catalog — adapted from
// the teacher's managed-mode skill-catalog concept, simplified to a flat
// on-disk directory with no per-agent scoping.
type SkillsCatalog struct {
	mu      sync.RWMutex
	dir     string
	skills  map[string]Skill
	watcher *fsnotify.Watcher
}

func NewSkillsCatalog(dir string) (*SkillsCatalog, error) {
	c := &SkillsCatalog{dir: dir, skills: make(map[string]Skill)}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return c, nil
	}
	if err := watcher.Add(dir); err == nil {
		c.watcher = watcher
		go c.watchLoop()
	}
	return c, nil
}

func (c *SkillsCatalog) watchLoop() {
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				if err := c.Reload(); err != nil {
					slog.Warn("skills catalog reload failed", "error", err)
				}
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("skills catalog watcher error", "error", err)
		}
	}
}

// Reload re-scans the skills directory from disk.
func (c *SkillsCatalog) Reload() error {
	entries, err := os.ReadDir(c.dir)
	if os.IsNotExist(err) {
		c.mu.Lock()
		c.skills = make(map[string]Skill)
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		return err
	}
	skills := make(map[string]Skill)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		path := filepath.Join(c.dir, e.Name())
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".md")
		skills[name] = Skill{Name: name, Path: path, Content: string(data)}
	}
	c.mu.Lock()
	c.skills = skills
	c.mu.Unlock()
	return nil
}

func (c *SkillsCatalog) Get(name string) (Skill, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.skills[name]
	return s, ok
}

// Names returns the sorted catalog summary (spec §4.3.1's skills_catalog
// section of the system prompt).
func (c *SkillsCatalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.skills))
	for name := range c.skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SkillTool implements spec §4.4's "skill activation" capability: the
// agent requests a skill's full prompt content by name.
type SkillTool struct {
	catalog *SkillsCatalog
}

func NewSkillTool(catalog *SkillsCatalog) *SkillTool { return &SkillTool{catalog: catalog} }

func (t *SkillTool) Name() string        { return "activate_skill" }
func (t *SkillTool) Description() string { return "Load a named skill's full instructions" }
func (t *SkillTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name": map[string]interface{}{"type": "string", "description": "Skill name, as listed in the skills catalog"},
		},
		"required": []string{"name"},
	}
}

func (t *SkillTool) Execute(_ context.Context, _ AuthContext, args map[string]interface{}) *Result {
	name, _ := args["name"].(string)
	if name == "" {
		return Errorf("bad_args", "name is required")
	}
	skill, ok := t.catalog.Get(name)
	if !ok {
		return Errorf("bad_args", "unknown skill: %s (available: %s)", name, strings.Join(t.catalog.Names(), ", "))
	}
	return Ok(fmt.Sprintf("# Skill: %s\n\n%s", skill.Name, skill.Content))
}

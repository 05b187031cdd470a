package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/gencockpit/api/internal/model"
)

const (
	manifestFile        = "manifest.json"
	defaultTemplateFile = "template_api.json"
)

// Workflow is a loaded manifest plus its engine graph template.
// Template must be treated as read-only; Patch copies it.
type Workflow struct {
	Manifest *Manifest
	Template map[string]any
}

// Summary is the list view of a workflow
type Summary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// Registry discovers workflows under dir/<id>/ and caches them until Reload
type Registry struct {
	dir    string
	schema *jsonschema.Schema
	log    zerolog.Logger

	mu    sync.RWMutex
	cache map[string]*Workflow
	list  []Summary
}

// NewRegistry creates a registry rooted at dir. The directory need not exist.
func NewRegistry(dir string, log zerolog.Logger) (*Registry, error) {
	schema, err := compileManifestSchema()
	if err != nil {
		return nil, err
	}
	return &Registry{
		dir:    dir,
		schema: schema,
		log:    log,
		cache:  make(map[string]*Workflow),
	}, nil
}

// List returns every usable workflow; broken ones are skipped
func (r *Registry) List() []Summary {
	r.mu.RLock()
	if r.list != nil {
		list := r.list
		r.mu.RUnlock()
		return list
	}
	r.mu.RUnlock()

	list := r.scan()

	r.mu.Lock()
	r.list = list
	r.mu.Unlock()
	return list
}

func (r *Registry) scan() []Summary {
	list := make([]Summary, 0)

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			r.log.Warn().Err(err).Str("dir", r.dir).Msg("failed to read workflows dir")
		}
		return list
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		wf, err := r.load(entry.Name())
		if err != nil {
			r.log.Warn().Err(err).Str("workflow", entry.Name()).Msg("skipping workflow")
			continue
		}
		list = append(list, Summary{
			ID:          wf.Manifest.ID,
			Name:        wf.Manifest.Name,
			Description: wf.Manifest.Description,
			Version:     wf.Manifest.Version,
		})
	}

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Get returns the workflow stored in dir/<id>/
func (r *Registry) Get(id string) (*Workflow, error) {
	r.mu.RLock()
	wf, ok := r.cache[id]
	r.mu.RUnlock()
	if ok {
		return wf, nil
	}

	wf, err := r.load(id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[id] = wf
	r.mu.Unlock()
	return wf, nil
}

// Reload drops every cached workflow and rescans; returns the workflow count
func (r *Registry) Reload() int {
	r.mu.Lock()
	r.cache = make(map[string]*Workflow)
	r.list = nil
	r.mu.Unlock()

	return len(r.List())
}

func (r *Registry) load(id string) (*Workflow, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("%w: %s", model.ErrWorkflowNotFound, id)
	}

	wfDir := filepath.Join(r.dir, id)
	info, err := os.Stat(wfDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", model.ErrWorkflowNotFound, id)
	}

	manifestPath := filepath.Join(wfDir, manifestFile)
	if _, err := os.Stat(manifestPath); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s missing %s", model.ErrWorkflowNotFound, id, manifestFile)
	}

	manifest, err := loadManifest(r.schema, manifestPath)
	if err != nil {
		return nil, err
	}

	templateFile := manifest.TemplateFile
	if templateFile == "" {
		templateFile = defaultTemplateFile
	}
	if strings.ContainsAny(templateFile, `/\`) {
		return nil, &ManifestError{Path: manifestPath, Err: fmt.Errorf("template_file %q must be a plain file name", templateFile)}
	}

	template, err := loadTemplate(filepath.Join(wfDir, templateFile))
	if err != nil {
		return nil, err
	}

	return &Workflow{Manifest: manifest, Template: template}, nil
}

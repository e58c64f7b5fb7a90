package profile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Sentinel errors for the prompt library.
var (
	ErrPromptNotFound  = errors.New("prompt not found")
	ErrVersionNotFound = errors.New("prompt version not found")
)

// Prompt is one library entry. Versions carry the bodies; the prompt row
// itself is stable metadata.
type Prompt struct {
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	SQLOptimizable bool      `json:"sql_optimizable,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// PromptVersion is one immutable body of a prompt.
type PromptVersion struct {
	PromptName string    `json:"prompt_name"`
	Version    int       `json:"version"`
	Body       string    `json:"body"`
	Params     []string  `json:"params,omitempty"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// Library stores prompts, their versions, per-profile version mappings, and
// the profiles themselves.
type Library interface {
	// ResolvePrompt returns the version the profile is mapped to, falling
	// back to the prompt's active version.
	ResolvePrompt(ctx context.Context, profileTag, name string) (*PromptVersion, error)

	GetPrompt(ctx context.Context, name string) (*Prompt, error)
	ListPrompts(ctx context.Context) ([]Prompt, error)

	SavePrompt(ctx context.Context, p Prompt) error
	// AddVersion appends a new version and marks it active.
	AddVersion(ctx context.Context, v PromptVersion) (int, error)
	// MapProfile pins a profile to a specific prompt version.
	MapProfile(ctx context.Context, profileTag, promptName string, version int) error

	Profiles(ctx context.Context) ([]*Profile, error)
	SaveProfile(ctx context.Context, p *Profile) error
}

// DecodeProfile builds a Profile from a generic row map (JSON column or
// external payload), honoring the json field names.
func DecodeProfile(row map[string]any) (*Profile, error) {
	var p Profile
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &p,
		TagName: "json",
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(row); err != nil {
		return nil, fmt.Errorf("failed to decode profile row: %w", err)
	}
	p.SetDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// MemoryLibrary is the in-process library used by tests and DB-less runs.
type MemoryLibrary struct {
	mu       sync.RWMutex
	prompts  map[string]Prompt
	versions map[string][]PromptVersion
	mappings map[string]int // profileTag + "\x00" + promptName -> version
	profiles map[string]*Profile
}

// NewMemoryLibrary builds an empty library.
func NewMemoryLibrary() *MemoryLibrary {
	return &MemoryLibrary{
		prompts:  make(map[string]Prompt),
		versions: make(map[string][]PromptVersion),
		mappings: make(map[string]int),
		profiles: make(map[string]*Profile),
	}
}

func mappingKey(profileTag, promptName string) string {
	return strings.ToLower(profileTag) + "\x00" + promptName
}

func (l *MemoryLibrary) ResolvePrompt(_ context.Context, profileTag, name string) (*PromptVersion, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	versions, ok := l.versions[name]
	if !ok || len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrPromptNotFound, name)
	}

	if pinned, ok := l.mappings[mappingKey(profileTag, name)]; ok {
		for i := range versions {
			if versions[i].Version == pinned {
				v := versions[i]
				return &v, nil
			}
		}
		return nil, fmt.Errorf("%w: %s v%d", ErrVersionNotFound, name, pinned)
	}

	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].Active {
			v := versions[i]
			return &v, nil
		}
	}
	return nil, fmt.Errorf("%w: %s has no active version", ErrVersionNotFound, name)
}

func (l *MemoryLibrary) GetPrompt(_ context.Context, name string) (*Prompt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	p, ok := l.prompts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPromptNotFound, name)
	}
	return &p, nil
}

func (l *MemoryLibrary) ListPrompts(_ context.Context) ([]Prompt, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Prompt, 0, len(l.prompts))
	for _, p := range l.prompts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (l *MemoryLibrary) SavePrompt(_ context.Context, p Prompt) error {
	if p.Name == "" {
		return fmt.Errorf("prompt name is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prompts[p.Name] = p
	return nil
}

func (l *MemoryLibrary) AddVersion(_ context.Context, v PromptVersion) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.prompts[v.PromptName]; !ok {
		return 0, fmt.Errorf("%w: %s", ErrPromptNotFound, v.PromptName)
	}
	versions := l.versions[v.PromptName]
	v.Version = len(versions) + 1
	v.Active = true
	for i := range versions {
		versions[i].Active = false
	}
	l.versions[v.PromptName] = append(versions, v)
	return v.Version, nil
}

func (l *MemoryLibrary) MapProfile(_ context.Context, profileTag, promptName string, version int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	found := false
	for _, v := range l.versions[promptName] {
		if v.Version == version {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s v%d", ErrVersionNotFound, promptName, version)
	}
	l.mappings[mappingKey(profileTag, promptName)] = version
	return nil
}

func (l *MemoryLibrary) Profiles(_ context.Context) ([]*Profile, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Profile, 0, len(l.profiles))
	for _, p := range l.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out, nil
}

func (l *MemoryLibrary) SaveProfile(_ context.Context, p *Profile) error {
	p.SetDefaults()
	if err := p.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.profiles[strings.ToLower(p.Tag)] = p
	return nil
}

var _ Library = (*MemoryLibrary)(nil)

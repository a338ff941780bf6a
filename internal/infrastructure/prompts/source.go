package prompts

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultPrompts []byte

type promptFile struct {
	GuideSystemPrompt          string `yaml:"guide_system_prompt"`
	ClassificationSystemPrompt string `yaml:"classification_system_prompt"`
}

// Source reads the system prompts once and serves the cached copy for the
// lifetime of the process. An empty path selects the embedded defaults.
type Source struct {
	load func() (promptFile, error)
}

func New(path string) *Source {
	path = strings.TrimSpace(path)
	return &Source{
		load: sync.OnceValues(func() (promptFile, error) {
			return loadPromptFile(path)
		}),
	}
}

func (s *Source) GuidePrompt() (string, error) {
	p, err := s.load()
	if err != nil {
		return "", err
	}
	return p.GuideSystemPrompt, nil
}

func (s *Source) ClassificationPrompt() (string, error) {
	p, err := s.load()
	if err != nil {
		return "", err
	}
	return p.ClassificationSystemPrompt, nil
}

func loadPromptFile(path string) (promptFile, error) {
	raw := defaultPrompts
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return promptFile{}, fmt.Errorf("read prompts file: %w", err)
		}
		raw = data
	}

	var out promptFile
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return promptFile{}, fmt.Errorf("parse prompts yaml: %w", err)
	}
	out.GuideSystemPrompt = strings.TrimSpace(out.GuideSystemPrompt)
	out.ClassificationSystemPrompt = strings.TrimSpace(out.ClassificationSystemPrompt)
	if out.GuideSystemPrompt == "" || out.ClassificationSystemPrompt == "" {
		return promptFile{}, errors.New("prompts file must define guide_system_prompt and classification_system_prompt")
	}
	return out, nil
}

package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MimeLyc/iwbot/internal/ledger"
)

type projectsFile struct {
	Projects []ledger.Project `yaml:"projects"`
}

// LoadProjects reads topical project definitions from a YAML file:
//
//	projects:
//	  - name: Хімія
//	    report_page: Вікіпедія:Проект:Хімія/Не перекладено
//	    prefixes: ["Хім"]
//	    banners: ["Стаття проекту Хімія"]
//
// An empty path means no projects.
func LoadProjects(path string) ([]ledger.Project, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read projects file: %w", err)
	}
	var f projectsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid projects file: %w", err)
	}
	seen := make(map[string]struct{}, len(f.Projects))
	for i, p := range f.Projects {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, fmt.Errorf("project #%d has no name", i+1)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate project %q", name)
		}
		seen[name] = struct{}{}
		if len(p.Prefixes) == 0 && len(p.Banners) == 0 {
			return nil, fmt.Errorf("project %q has neither prefixes nor banners", name)
		}
		f.Projects[i].Name = name
	}
	return f.Projects, nil
}

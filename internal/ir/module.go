package ir

import "fmt"

// TaskConfig is the compiled form of one task.
type TaskConfig struct {
	Key       string   `json:"key"`
	Name      string   `json:"name,omitempty"`
	Desc      string   `json:"desc,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"` // task keys
	EnvID     string   `json:"env_id"`               // recipe id on the blackboard
	Workdir   string   `json:"workdir,omitempty"`
	Cmd       []string `json:"cmd,omitempty"`
}

// ModuleConfig is the compiler's output. Install sets and recipes live on
// the blackboard keyed by their content hash; everything else references them.
type ModuleConfig struct {
	SchemaVersion string                `json:"schema_version"`
	DefaultEnv    string                `json:"default_env"`
	Envs          map[string]string     `json:"envs"` // env name -> recipe id
	Tasks         map[string]TaskConfig `json:"tasks"`
	Blackboard    map[string]Object     `json:"blackboard"`
}

// Recipe fetches and decodes a recipe from the blackboard.
func (m *ModuleConfig) Recipe(id string) (EnvRecipe, error) {
	var recipe EnvRecipe
	obj, ok := m.Blackboard[id]
	if !ok {
		return recipe, fmt.Errorf("recipe %s not found on blackboard", id)
	}
	err := Decode(obj, &recipe)
	return recipe, err
}

// InstallSet fetches and decodes an install set from the blackboard.
func (m *ModuleConfig) InstallSet(id string) (InstallSet, error) {
	var set InstallSet
	obj, ok := m.Blackboard[id]
	if !ok {
		return set, fmt.Errorf("install set %s not found on blackboard", id)
	}
	err := Decode(obj, &set)
	return set, err
}

// EnvRecipe returns the recipe of a named environment.
func (m *ModuleConfig) EnvRecipe(name string) (EnvRecipe, error) {
	id, ok := m.Envs[name]
	if !ok {
		return EnvRecipe{}, fmt.Errorf("env %q not found", name)
	}
	return m.Recipe(id)
}

// Put stores v on the blackboard under id.
func (m *ModuleConfig) Put(id string, v any) error {
	val, err := FromGo(v)
	if err != nil {
		return err
	}
	obj, ok := val.(Object)
	if !ok {
		return fmt.Errorf("blackboard entries must be objects, got %T", val)
	}
	if m.Blackboard == nil {
		m.Blackboard = make(map[string]Object)
	}
	m.Blackboard[id] = obj
	return nil
}

// InstallSets returns every install set referenced by the recipes of named
// envs and tasks, keyed by set id.
func (m *ModuleConfig) InstallSets() (map[string]InstallSet, error) {
	recipeIDs := make([]string, 0, len(m.Envs)+len(m.Tasks))
	for _, id := range m.Envs {
		recipeIDs = append(recipeIDs, id)
	}
	for _, t := range m.Tasks {
		if t.EnvID != "" {
			recipeIDs = append(recipeIDs, t.EnvID)
		}
	}

	sets := make(map[string]InstallSet)
	for _, rid := range recipeIDs {
		recipe, err := m.Recipe(rid)
		if err != nil {
			return nil, err
		}
		for _, p := range recipe.Provides {
			if p.Kind != KindInstallSetRef {
				continue
			}
			if _, ok := sets[p.SetID]; ok {
				continue
			}
			set, err := m.InstallSet(p.SetID)
			if err != nil {
				return nil, err
			}
			sets[p.SetID] = set
		}
	}
	return sets, nil
}

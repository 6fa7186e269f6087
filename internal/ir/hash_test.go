package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstallIDDeterminism(t *testing.T) {
	cfg := ResolvedInstallConfig{
		Port:    "node",
		Version: "20.1.0",
		Options: map[string]string{"a": "1", "b": "2"},
		BuildDepConfigs: map[string]ResolvedInstallConfig{
			"tar": {Port: "tar", Version: "1.35.0"},
		},
	}

	id1, err := InstallID(cfg)
	require.NoError(t, err)
	id2, err := InstallID(cfg)
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "InstallID must be deterministic")
	assert.Len(t, id1, 64, "SHA-256 hex is 64 characters")
	assert.Equal(t, id1, MustInstallID(cfg))
}

func TestInstallIDChangesWithInputs(t *testing.T) {
	base := ResolvedInstallConfig{Port: "node", Version: "20.1.0"}

	other := base
	other.Version = "20.2.0"
	withOpt := base
	withOpt.Options = map[string]string{"lts": "true"}
	withDep := base
	withDep.BuildDepConfigs = map[string]ResolvedInstallConfig{"tar": {Port: "tar", Version: "1.0.0"}}

	ids := map[string]bool{}
	for _, cfg := range []ResolvedInstallConfig{base, other, withOpt, withDep} {
		ids[MustInstallID(cfg)] = true
	}
	assert.Len(t, ids, 4, "every change produces a distinct id")
}

func TestInstallIDIgnoresEmptyOptionals(t *testing.T) {
	a := ResolvedInstallConfig{Port: "node", Version: "1.0.0"}
	b := ResolvedInstallConfig{
		Port:            "node",
		Version:         "1.0.0",
		Options:         map[string]string{},
		BuildDepConfigs: map[string]ResolvedInstallConfig{},
	}
	assert.Equal(t, MustInstallID(a), MustInstallID(b))
}

func TestDomainSeparation(t *testing.T) {
	// The same payload hashed under different domains never collides.
	payload := Object{"port": String("x")}

	ids := map[string]bool{}
	for _, domain := range []string{DomainInstall, DomainInstallConfig, DomainInstallSet, DomainRecipe, DomainTask, DomainModule} {
		id, err := ContentHash(domain, payload)
		require.NoError(t, err)
		ids[id] = true
	}
	assert.Len(t, ids, 6)
}

func TestInstallConfigHashAndInstallIDDiffer(t *testing.T) {
	h, err := InstallConfigHash(InstallConfig{Port: "node", Version: "20.1.0"})
	require.NoError(t, err)
	id, err := InstallID(ResolvedInstallConfig{Port: "node", Version: "20.1.0"})
	require.NoError(t, err)
	assert.NotEqual(t, id, h, "config hash and install id live in different domains")
}

func TestRecipeIDOrderSensitive(t *testing.T) {
	a := EnvRecipe{Provides: []Provision{EnvVar("A", "1"), EnvVar("B", "2")}}
	b := EnvRecipe{Provides: []Provision{EnvVar("B", "2"), EnvVar("A", "1")}}

	idA, err := RecipeID(a)
	require.NoError(t, err)
	idB, err := RecipeID(b)
	require.NoError(t, err)
	assert.NotEqual(t, idA, idB, "provision order is significant")
}

func TestTaskHashIgnoresKey(t *testing.T) {
	task := TaskConfig{Key: "build", EnvID: "env1", Cmd: []string{"make"}}
	renamed := task
	renamed.Key = "compile"

	h1, err := TaskHash(task)
	require.NoError(t, err)
	h2, err := TaskHash(renamed)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	changed := task
	changed.Cmd = []string{"make", "all"}
	h3, err := TaskHash(changed)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

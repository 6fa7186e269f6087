package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed ids.
// Version suffix enables future algorithm migration.
const (
	DomainInstall       = "ghjk/install/v1"
	DomainInstallConfig = "ghjk/installconfig/v1"
	DomainInstallSet    = "ghjk/installset/v1"
	DomainRecipe        = "ghjk/recipe/v1"
	DomainTask          = "ghjk/task/v1"
	DomainModule        = "ghjk/module/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash returns the domain-separated hash of v's canonical JSON.
// v may be a Value or any JSON-marshalable Go value.
func ContentHash(domain string, v any) (string, error) {
	val, err := FromGo(v)
	if err != nil {
		return "", fmt.Errorf("%s: %w", domain, err)
	}
	canonical, err := MarshalCanonical(val)
	if err != nil {
		return "", fmt.Errorf("%s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// InstallID is the id of a fully resolved install config.
func InstallID(cfg ResolvedInstallConfig) (string, error) {
	return ContentHash(DomainInstall, cfg)
}

// InstallConfigHash keys the resolution memo: it hashes the unresolved config.
func InstallConfigHash(cfg InstallConfig) (string, error) {
	return ContentHash(DomainInstallConfig, cfg)
}

// InstallSetID is the blackboard key of an install set.
func InstallSetID(set InstallSet) (string, error) {
	return ContentHash(DomainInstallSet, set)
}

// RecipeID is the blackboard key of an environment recipe.
func RecipeID(recipe EnvRecipe) (string, error) {
	return ContentHash(DomainRecipe, recipe)
}

// TaskHash identifies an anonymous task by its definition.
func TaskHash(task TaskConfig) (string, error) {
	task.Key = ""
	return ContentHash(DomainTask, task)
}

// ModuleHash identifies a whole compiled module config.
func ModuleHash(cfg ModuleConfig) (string, error) {
	return ContentHash(DomainModule, cfg)
}

// MustInstallID is like InstallID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustInstallID(cfg ResolvedInstallConfig) string {
	id, err := InstallID(cfg)
	if err != nil {
		panic(err)
	}
	return id
}

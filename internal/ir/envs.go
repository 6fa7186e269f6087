package ir

// ProvisionKind tags the variant held by a Provision.
type ProvisionKind string

// Well-known provisions are understood by the posix materializer directly.
const (
	KindEnvVar      ProvisionKind = "posix.envVar"
	KindExec        ProvisionKind = "posix.exec"
	KindSharedLib   ProvisionKind = "posix.sharedLib"
	KindHeaderFile  ProvisionKind = "posix.headerFile"
	KindHookOnEnter ProvisionKind = "hook.onEnter.posixExec"
	KindHookOnExit  ProvisionKind = "hook.onExit.posixExec"
)

// Exotic provisions must be reduced to well-known ones before materialization.
const (
	KindEnvVarDyn     ProvisionKind = "posix.envVarDyn"
	KindInstallSetRef ProvisionKind = "ghjk.ports.InstallSetRef"
	KindTaskOnEnter   ProvisionKind = "ghjk.tasks.onEnter"
	KindTaskOnExit    ProvisionKind = "ghjk.tasks.onExit"
)

// WellKnown reports whether k can be materialized without reduction.
func (k ProvisionKind) WellKnown() bool {
	switch k {
	case KindEnvVar, KindExec, KindSharedLib, KindHeaderFile, KindHookOnEnter, KindHookOnExit:
		return true
	}
	return false
}

// Provision is one typed unit of environment effect. Which fields are set
// depends on Kind:
//
//	posix.envVar              Key, Val
//	posix.envVarDyn           Key, TaskKey, Field
//	posix.exec|sharedLib|headerFile  Path
//	hook.*.posixExec          Program, Args
//	ghjk.ports.InstallSetRef  SetID
//	ghjk.tasks.on*            TaskKey
type Provision struct {
	Kind    ProvisionKind `json:"ty"`
	Key     string        `json:"key,omitempty"`
	Val     string        `json:"val,omitempty"`
	Path    string        `json:"path,omitempty"`
	Program string        `json:"program,omitempty"`
	Args    []string      `json:"args,omitempty"`
	TaskKey string        `json:"task_key,omitempty"`
	Field   string        `json:"field,omitempty"`
	SetID   string        `json:"set_id,omitempty"`
}

// EnvVar builds a posix.envVar provision.
func EnvVar(key, val string) Provision {
	return Provision{Kind: KindEnvVar, Key: key, Val: val}
}

// EnvRecipe is the finalized, provision-list form of one environment.
type EnvRecipe struct {
	Desc     string      `json:"desc,omitempty"`
	Provides []Provision `json:"provides"`
}

// Package agents holds the registry of pure capability providers the
// assistant may invoke by name from a plan.
package agents

import (
	"encoding/json"
	"sort"
	"time"
)

// Func is a side-effect-free capability. It returns a JSON-encoded
// result and has no failure modes; "agent not found" is handled by the
// caller, not here.
type Func func() string

// Registry maps agent names to capability functions.
type Registry struct {
	agents map[string]Func
}

// NewRegistry creates a registry with the built-in agents installed.
func NewRegistry() *Registry {
	r := &Registry{agents: make(map[string]Func)}
	r.Register("get_time", GetTime)
	return r
}

// Register installs an agent under the given name, replacing any
// previous registration.
func (r *Registry) Register(name string, fn Func) {
	r.agents[name] = fn
}

// Invoke calls the named agent. The second return is false when no
// agent is registered under that name.
func (r *Registry) Invoke(name string) (string, bool) {
	fn, ok := r.agents[name]
	if !ok {
		return "", false
	}
	return fn(), true
}

// Names returns the registered agent names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetTime returns the current wall-clock time in IST (Asia/Kolkata)
// with the UTC offset, e.g. "2025-04-13 23:30:00+05:30".
func GetTime() string {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		loc = time.FixedZone("IST", 5*3600+30*60)
	}
	now := time.Now().In(loc).Format("2006-01-02 15:04:05-07:00")
	out, _ := json.Marshal(map[string]string{"datetime": now})
	return string(out)
}

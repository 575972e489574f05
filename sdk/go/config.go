// Package gofersdk lets a pipeline author build a PipelineConfig in Go and
// print it as the JSON body the control plane's PATCH .../pipelines/{id}
// route accepts, mirroring the project's own historical Rust config builder
// (Pipeline::new().description(...).tasks(...).finish()) but returning
// *Pipeline from every setter instead of consuming self, since Go has no
// move semantics to make a consuming builder pleasant.
package gofersdk

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/clintjedwards/gofer-sub002/internal/models"
)

// Pipeline is the in-progress definition of a pipeline config. Build one
// with NewPipeline, chain setters, then call Finish to validate and emit it.
type Pipeline struct {
	id            string
	name          string
	description   string
	parallelism   int64
	tasks         []models.Task
	subscriptions []models.ExtensionSubscriptionDecl
}

// NewPipeline starts a pipeline definition with its identifier and display name.
func NewPipeline(id, name string) *Pipeline {
	return &Pipeline{id: id, name: name}
}

func (p *Pipeline) Description(d string) *Pipeline {
	p.description = d
	return p
}

// Parallelism caps how many runs of this pipeline may be active at once.
// 0 defers to the control plane's global setting.
func (p *Pipeline) Parallelism(n int64) *Pipeline {
	p.parallelism = n
	return p
}

func (p *Pipeline) Tasks(tasks ...*Task) *Pipeline {
	for _, t := range tasks {
		p.tasks = append(p.tasks, t.build())
	}
	return p
}

func (p *Pipeline) Subscriptions(subs ...*ExtensionSubscription) *Pipeline {
	for _, s := range subs {
		p.subscriptions = append(p.subscriptions, s.build())
	}
	return p
}

// Validate checks the identifier rules this config will be rejected on by
// the control plane, so a misconfigured pipeline fails fast locally instead
// of round-tripping to the server first.
func (p *Pipeline) Validate() error {
	if !models.ValidIdentifier(p.id) {
		return fmt.Errorf("pipeline id %q is not a valid identifier", p.id)
	}
	for _, t := range p.tasks {
		if !models.ValidIdentifier(t.ID) {
			return fmt.Errorf("task id %q is not a valid identifier", t.ID)
		}
	}
	for _, s := range p.subscriptions {
		if !models.ValidIdentifier(s.Label) {
			return fmt.Errorf("subscription label %q is not a valid identifier", s.Label)
		}
	}
	return nil
}

// patchBody mirrors httpapi.patchPipelineRequest's JSON shape without
// importing that internal package, since the SDK only needs to produce the
// wire body, not call into the handler.
type patchBody struct {
	Name          string                             `json:"name,omitempty"`
	Description   string                             `json:"description,omitempty"`
	Parallelism   int64                              `json:"parallelism,omitempty"`
	Tasks         []models.Task                      `json:"tasks,omitempty"`
	Subscriptions []models.ExtensionSubscriptionDecl `json:"subscriptions,omitempty"`
}

// JSON validates the pipeline and returns the PATCH request body a caller
// can send to the control plane's pipeline endpoint.
func (p *Pipeline) JSON() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(patchBody{
		Name:          p.name,
		Description:   p.description,
		Parallelism:   p.parallelism,
		Tasks:         p.tasks,
		Subscriptions: p.subscriptions,
	})
}

// Finish validates the pipeline and writes its JSON body to stdout, the way
// a pipeline config file is expected to emit its definition for a calling
// tool to capture.
func (p *Pipeline) Finish() error {
	body, err := p.JSON()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(append(body, '\n'))
	return err
}

// ExtensionSubscription declares a pipeline's binding to an extension under
// a label, with the settings the extension needs to restore that binding's
// state after a restart (extensions keep no permanent state of their own).
type ExtensionSubscription struct {
	extensionID string
	label       string
	settings    []models.Variable
}

func NewExtensionSubscription(extensionID, label string) *ExtensionSubscription {
	return &ExtensionSubscription{extensionID: extensionID, label: label}
}

func (s *ExtensionSubscription) Setting(key, value string) *ExtensionSubscription {
	s.settings = append(s.settings, models.Variable{Key: key, Value: value})
	return s
}

func (s *ExtensionSubscription) build() models.ExtensionSubscriptionDecl {
	return models.ExtensionSubscriptionDecl{
		ExtensionID: s.extensionID,
		Label:       s.label,
		Settings:    s.settings,
	}
}

// Task is one node of a pipeline's DAG under construction.
type Task struct {
	id             string
	image          string
	registryAuth   *models.RegistryAuth
	dependsOn      map[string]models.RequiredParentStatus
	variables      []models.Variable
	entrypoint     []string
	command        []string
	injectAPIToken bool
}

func NewTask(id, image string) *Task {
	return &Task{id: id, image: image, dependsOn: map[string]models.RequiredParentStatus{}}
}

func (t *Task) RegistryAuth(username, password string) *Task {
	t.registryAuth = &models.RegistryAuth{Username: username, Password: password}
	return t
}

func (t *Task) DependsOn(taskID string, status models.RequiredParentStatus) *Task {
	t.dependsOn[taskID] = status
	return t
}

func (t *Task) Variable(key, value string) *Task {
	t.variables = append(t.variables, models.Variable{Key: key, Value: value, Source: models.VariableSourcePipelineConfig})
	return t
}

func (t *Task) Entrypoint(entrypoint ...string) *Task {
	t.entrypoint = entrypoint
	return t
}

func (t *Task) Command(command ...string) *Task {
	t.command = command
	return t
}

// InjectAPIToken requests that the orchestrator mint a scoped, run-lived API
// token and inject it into this task's environment before it starts.
func (t *Task) InjectAPIToken(inject bool) *Task {
	t.injectAPIToken = inject
	return t
}

func (t *Task) build() models.Task {
	return models.Task{
		ID:             t.id,
		Image:          t.image,
		RegistryAuth:   t.registryAuth,
		DependsOn:      t.dependsOn,
		Variables:      t.variables,
		Entrypoint:     t.entrypoint,
		Command:        t.command,
		InjectAPIToken: t.injectAPIToken,
	}
}

package workflows

import (
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// NewWorker registers the pipeline workflow and its activities on
// taskQueue. Workers sharing a task queue must share the workspace
// directory, since test files are written and run by separate activities.
func NewWorker(c client.Client, taskQueue string, p *Pipeline, a *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	Register(w, p, a)
	return w
}

// Registry is the registration half of worker.Worker and the test
// environment.
type Registry interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivity(a interface{})
}

// Register adds the workflow and activities to r.
func Register(r Registry, p *Pipeline, a *Activities) {
	r.RegisterWorkflowWithOptions(p.Run, workflow.RegisterOptions{Name: WorkflowName})
	r.RegisterActivity(a)
}

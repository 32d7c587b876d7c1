// Package engine drives provisioning resources through their lifecycle.
//
// # Tasks
//
// A Task is an ordered list of phases, each an ordered list of actions.
// Provisioning is advanced one phase per Step so that a polling caller can
// interleave many tasks without a goroutine per task:
//
//	task := engine.NewTask([]engine.Phase{
//	    {Name: "bootstrap", Actions: []engine.StepAction{bootstrap}},
//	    {Name: "run", Actions: []engine.StepAction{runChef}},
//	})
//	for {
//	    done, err := task.Step(ctx)
//	    if err != nil || done {
//	        break
//	    }
//	}
//
// A phase never runs twice. The first failing phase fails the whole task
// and its error is returned by every later Step.
//
// # Resources
//
// Resource implementations return a Task from Create. The Runner calls
// Create, then CheckCreateComplete every poll interval until it reports
// done, recording status transitions and phase events in a StateStore.
//
// # Error Classification
//
// Errors are classified with EngineError:
//
//   - Transient: dropped connections, hosts still booting
//   - Throttled: rate limits, benign on create once an ID exists
//   - Permanent: invalid input, failed remote commands
//
// NotFound errors from Delete mean the resource is already gone.
package engine

// Package agentloop implements the agent turn loop of a terminal coding
// assistant.
//
// A Session owns the conversation transcript. Each user turn streams model
// output through a synchronous EventSink, executes any requested tools, and
// feeds their results back to the model until it answers without tool calls
// or the step ceiling is reached.
//
// # Architecture
//
//   - Session: the turn loop, step ceiling, retry and event emission.
//   - ToolRegistry: tools built with NewTool, whose parameter schemas are
//     reflected from Go input types and whose inputs are validated before
//     execution. Every failure comes back as a ToolOutcome, never a panic.
//   - Environment: where tools run. LocalEnvironment resolves paths against
//     a working directory and runs subprocesses in their own process group.
//   - EventEmitter: fans SessionEvents out to sinks such as the console
//     renderer.
//
// # Quick Start
//
//	reg, _ := agentloop.NewCoreRegistry(agentloop.ToolOptions{})
//	env := agentloop.NewLocalEnvironment("/path/to/project")
//	session := agentloop.NewSession(client, reg, env,
//	    agentloop.WithSink(agentloop.EventSinkFunc(func(ev agentloop.SessionEvent) {
//	        fmt.Printf("[%s] %v\n", ev.Kind, ev.Data)
//	    })))
//	defer session.Close()
//
//	if _, err := session.RunTurn(ctx, "Create a hello.py file"); err != nil {
//	    log.Fatal(err)
//	}
package agentloop

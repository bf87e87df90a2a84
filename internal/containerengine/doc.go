// Package containerengine runs a single test suite to completion inside an
// ephemeral Docker container and reports back its exit status, combined
// log stream and artifact files.
//
// Unlike a long-lived service runtime, every container created here is
// expected to exit on its own; the engine's job is to create it with a
// fixed entrypoint contract, stream its output while it runs, wait for its
// exit code, and then archive a handful of known paths out of it before
// force-removing it. Nothing here restarts or health-checks a container.
//
// # Usage
//
//	eng, err := containerengine.New(ctx, cfg)
//	id, err := eng.CreateJobContainer(ctx, spec)
//	err = eng.StartAndStream(ctx, id, func(chunk []byte) { ... })
//	exitCode, err := eng.Wait(ctx, id)
//	err = eng.CopyArtifact(ctx, id, "/app/allure-report", "/reports/org/task/allure-report")
//	err = eng.RemoveContainer(ctx, id)
package containerengine

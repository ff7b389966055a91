// Package headless runs a scripted list of prompts through a conversation
// without a terminal, for cron jobs and CI checks of the assistant.
//
// Every prompt is processed as one turn, in order, on the same session, so
// memory compaction fires exactly as it would interactively. After the run the
// executor writes artifacts describing what happened:
//
//   - transcript.json: every turn with its status, reply and compaction details
//   - summary.md: a human-readable summary
//
// Example usage:
//
//	script, err := headless.LoadScript("prompts.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	executor, err := headless.NewExecutor(conv, script)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	summary, err := executor.Run(ctx)
//
// A script file looks like:
//
//	prompts:
//	  - "Draft a cold email to a lab working on protein folding"
//	  - "Shorten it to three sentences"
//	turn_timeout: 2m
//	stop_on_failure: false
//	artifacts:
//	  output_dir: .keeper/artifacts
//	  json: true
//	  markdown: true
package headless

// Package trigger turns external events into rule-set runs.
//
// Three triggers feed the orchestrator:
//   - DocTrigger: a committed document change, for active doc rule sets
//     filtered by the changed collection
//   - Scheduler: a once-a-minute UTC tick, for active scheduled rule sets
//     whose cron expression matches the current minute
//   - APITrigger: an http request, for the single active api rule set
//     matching its method and endpoint
//
// Doc and scheduled runs are started on a Runner and proceed concurrently;
// api runs are synchronous because the caller needs their results.
package trigger

// Package harness runs rule scenarios end to end against the real engine.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: new_order_logged
//	description: "A created order with status new writes a log entry"
//	ruleSets:
//	  - rulesets/orders.json        # relative to the scenario file
//	seed:
//	  - collection: settings
//	    id: rules
//	    data: { debug: true }
//	stubs:
//	  notify: { sent: true }        # record-only actions and their result
//	trigger:
//	  type: doc                     # doc | scheduled | api
//	  change: { type: create, collection: orders, id: o1, data: { status: new } }
//	assertions:
//	  - type: action_called
//	    action: addDoc
//	    params: { collection: log }
//	  - type: document
//	    collection: log
//	    expect: { msg: ok }
//
// Each scenario runs on a fresh in-memory store with a fixed clock and
// sequential document ids. Every action call is recorded with its resolved
// params and result. Writes made by actions are fed back to the document
// trigger until no changes remain, as serve does.
//
// # Golden Files
//
// RunWithGolden compares the recorded trace with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness

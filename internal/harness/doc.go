// Package harness runs conformance scenarios against the dispatch engine.
//
// A scenario declares a set of scripted subscribers, a sequence of dispatch
// steps and assertions over the resulting trace. The harness registers the
// subscribers on a fresh dispatch.Dispatcher, dispatches each step and records
// every invocation through an Observer, so scenarios exercise the real engine
// rather than a model of it.
//
// # Scenario Format
//
// Scenarios are YAML or CUE files with the following structure:
//
//	name: checkout_chain
//	description: "Totals wait for prices, prices wait for the catalog"
//	subscribers:
//	  - name: totals
//	    wait_for: [prices]
//	  - name: prices
//	    wait_for: [catalog]
//	  - name: catalog
//	  - name: audit
//	    late: true
//	  - name: flaky
//	    fail: "inventory unavailable"
//	    on: [restock]
//	dispatch:
//	  - payload: checkout
//	    expect:
//	      order: [catalog, prices, totals, flaky]
//	  - payload: restock
//	    expect:
//	      error: SUBSCRIBER_FAILED
//	assertions:
//	  - type: trace_order
//	    subscribers: [catalog, prices, totals]
//	  - type: trace_count
//	    subscriber: catalog
//	    count: 2
//	  - type: error_code
//	    step: 1
//	    code: SUBSCRIBER_FAILED
//	  - type: idle
//
// Scripted subscriber behavior runs in this order: register late
// subscribers, unregister subscribers, wait for dependencies, redispatch,
// then fail. A subscriber with an "on" list only acts on those payloads and
// completes immediately for any other.
//
// # Assertion Types
//
//   - trace_order: subscribers complete in the given relative order
//   - trace_count: a subscriber completes exactly N times across all steps
//   - error_code: a step ended with the given error code ("" for success)
//   - idle: the engine is idle after the last step
//
// # Deterministic Testing
//
// Round IDs come from a dispatch.SequenceGenerator and trace events carry a
// harness-local sequence number, so identical scenarios produce identical
// traces and can be compared against golden files with RunWithGolden.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/chain.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness

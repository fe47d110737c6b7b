// Package harness runs scripted cafe scenarios against a real authority and
// checks what observers would have seen.
//
// A scenario drives a gateway in manual-tick mode: it admits customers,
// advances simulation time and submits intents on behalf of staff. Every
// delta the gateway broadcasts is recorded as a trace event, checkpointed
// after each batch and replayed through a replica at the end, so a scenario
// also proves that a late observer converges on the authority's state.
//
// # Scenario Format
//
//	name: happy_path
//	description: "A customer is seated, served and leaves happy"
//	menu: |
//	  items: [{id: 1, name: "Espresso", price: 2.50, category: "Coffee", prep_seconds: 30}]
//	world:
//	  seats: 2
//	  timing: {decision_time: 5s}
//	steps:
//	  - spawn: Ana
//	  - tick: 1s
//	  - reached_seat: Ana
//	  - tick: 1s
//	    times: 7
//	  - intent: {kind: take_order, by: barista, customer: Ana, as: first}
//	    expect: {accepted: true}
//	  - intent: {kind: cancel_order, by: barista, order: "9999"}
//	    expect: {accepted: false, code: NOT_FOUND}
//	assertions:
//	  - type: trace_contains
//	    event: OrderStatusChanged
//	    fields: {order: first, status: Confirmed}
//	  - type: final_state
//	    customer: Ana
//	    expect: {state: Eating}
//
// Customers are named by the alias given to spawn, orders by the alias given
// to an intent's "as". Aliases are resolved in intents and in the session
// and order fields of assertions. Unknown aliases are used verbatim.
//
// The menu is inline CUE, a CUE file named by menu_file (relative to the
// scenario), or the house menu. World settings are decoded over the default
// simulation config with auto-spawn turned off and one item per order.
//
// # Assertion Types
//
//   - trace_contains: some event of the type carries all the fields
//   - trace_order: the listed events occur in this order, not necessarily adjacent
//   - trace_count: exactly count events of the type carry the fields
//   - final_state: a customer or order ends with the expected fields
//   - stats: the world's running totals end with the expected values
//
// # Golden Traces
//
// Transcript renders a result as one line per delta. RunWithGolden compares
// it against testdata/golden/<name>.golden; run the tests with -update to
// rewrite the files.
package harness

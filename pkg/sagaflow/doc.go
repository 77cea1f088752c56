// Package sagaflow provides a durable saga orchestration engine: a typed
// pipeline of steps whose intermediate results are persisted after each
// step, a lock/step persister contract with in-memory and Postgres
// reference backends, and a resumer loop that sweeps failed or stalled
// instances back into execution.
//
// A Definition is built with New, Step, and OnError, then driven with Run
// or ContinueFromLastStep:
//
//	def := sagaflow.New(scope, store, lockTimeout, orderID, newOrderState)
//	withOrder := sagaflow.Step(def,
//		func(s *OrderState, in Input) OrderID { return s.OrderID },
//		createOrder)
//	result, err := withOrder.Run(ctx, input)
//
// The repository ships no example program; definition_test.go builds
// complete pipelines, including failure, resume and compensation.
package sagaflow

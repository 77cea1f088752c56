// Package registry provides the name index the resumer dispatches through:
// a thread-safe mapping from saga definition name to whatever the caller
// registers against it, typically a resumer.Dispatcher.
//
// The engine cannot rebuild a Definition from a lock row on its own — the
// row only carries the definition's name. Callers register one entry per
// name at startup:
//
//	dispatchers := registry.New[resumer.Dispatcher]()
//	dispatchers.Register("create_full_order", dispatchFullOrder)
//	dispatchers.Register("create_from_existing_order", dispatchExistingOrder)
//
// and the resumer resolves each pickup with Lookup:
//
//	dispatch, err := dispatchers.Lookup(scope.Name)
//	if err != nil {
//	    // the name has no registered factory; the instance cannot be resumed
//	}
//
// A missing name is a hard error (ErrNotRegistered), never a silent skip:
// a Failed saga whose definition was never registered would otherwise be
// picked up and dropped on every poll, forever.
package registry

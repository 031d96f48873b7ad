package engine

import (
	"context"

	"github.com/CosmWasm/wasmbridge/marshal"
)

type contextKey string

const (
	vmKey       contextKey = "vm"
	handlersKey contextKey = "handlers"
)

// ContextWithVM returns a context whose host calls are served by vm.
func ContextWithVM(ctx context.Context, vm VM) context.Context {
	return context.WithValue(ctx, vmKey, vm)
}

// VMFromContext returns the VM installed by ContextWithVM.
func VMFromContext(ctx context.Context) (VM, bool) {
	vm, ok := ctx.Value(vmKey).(VM)
	return vm, ok
}

// ContextWithHandlers carries the handler table of the calling frame to a
// continuation.
func ContextWithHandlers(ctx context.Context, table *marshal.HandleTable[EventHandler]) context.Context {
	return context.WithValue(ctx, handlersKey, table)
}

// HandlersFromContext returns the table installed by ContextWithHandlers.
func HandlersFromContext(ctx context.Context) (*marshal.HandleTable[EventHandler], bool) {
	t, ok := ctx.Value(handlersKey).(*marshal.HandleTable[EventHandler])
	return t, ok && t != nil
}

package listener

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/taskwarden/taskwarden/internal/model"
	"github.com/taskwarden/taskwarden/internal/predicate"
)

func dialBus(name string) (*dbus.Conn, error) {
	if name == ":system" {
		return dbus.ConnectSystemBus()
	}
	return dbus.ConnectSessionBus()
}

// runDBusSignal registers ev's match rule and posts to the bridge for
// every delivered signal that passes its parameter checks (spec §4.5,
// §4.6).
func runDBusSignal(ctx context.Context, ev *model.Event, post Poster) error {
	conn, err := dialBus(ev.DBus.Bus)
	if err != nil {
		return fmt.Errorf("listener: dbus connect: %w", err)
	}
	defer conn.Close()

	rule := ev.DBus.SignalMatchRule
	if rule == "" {
		rule = fmt.Sprintf("type='signal',interface='%s'", ev.DBus.Interface)
	}
	call := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule)
	if call.Err != nil {
		return fmt.Errorf("listener: dbus AddMatch: %w", call.Err)
	}

	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			if predicate.EvaluateParamChecks(sig.Body, ev.DBus.Checks, ev.DBus.CheckAll) {
				post.Post(ev.Name)
			}
		}
	}
}

// Call is the shared DBus method invocation used by the
// DBus condition predicate (spec §4.4, §4.6); exported as a package
// function so internal/loop can build a predicate.DBusCaller from it
// without this package depending on internal/predicate's interface
// type directly at the call site.
func Call(ctx context.Context, bus, service, object, iface, method string, params []any) ([]any, error) {
	conn, err := dialBus(bus)
	if err != nil {
		return nil, fmt.Errorf("listener: dbus connect: %w", err)
	}
	defer conn.Close()

	call := conn.Object(service, dbus.ObjectPath(object)).CallWithContext(ctx, iface+"."+method, 0, params...)
	if call.Err != nil {
		return nil, fmt.Errorf("listener: dbus call: %w", call.Err)
	}
	return call.Body, nil
}

//go:build windows

package listener

import (
	"context"
	"fmt"
	"time"

	"github.com/yusufpapurcu/wmi"

	"github.com/taskwarden/taskwarden/internal/model"
)

// runWMI polls ev's event query (spec §4.5: "subscribe with a WQL event
// query; any delivered event fires the condition"). The WMI Go binding
// in the pack is a query client, not a native event-subscription API,
// so a notification query is run on a short interval and any non-empty
// result set is treated as a delivered event.
func runWMI(ctx context.Context, ev *model.Event, post Poster) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			var rows []map[string]any
			if err := wmi.Query(ev.WMI.EventQuery, &rows); err != nil {
				return fmt.Errorf("listener: wmi query: %w", err)
			}
			if len(rows) > 0 {
				post.Post(ev.Name)
			}
		}
	}
}

// Query runs a WQL query and returns its rows as flat field maps (spec
// §4.7), used by the WMI condition predicate.
func Query(ctx context.Context, query string) ([]map[string]any, error) {
	var rows []map[string]any
	if err := wmi.Query(query, &rows); err != nil {
		return nil, fmt.Errorf("listener: wmi query: %w", err)
	}
	return rows, nil
}

//go:build !windows

package listener

import (
	"context"
	"errors"

	"github.com/taskwarden/taskwarden/internal/model"
)

// ErrWMIUnsupported is returned on platforms without a WMI provider.
var ErrWMIUnsupported = errors.New("listener: wmi not available on this platform")

func runWMI(ctx context.Context, ev *model.Event, post Poster) error {
	return ErrWMIUnsupported
}

// Query runs a WQL query; see the windows build for the real
// implementation backed by yusufpapurcu/wmi.
func Query(ctx context.Context, query string) ([]map[string]any, error) {
	return nil, ErrWMIUnsupported
}

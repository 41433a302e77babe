package notify

import (
	"context"
	"errors"

	"github.com/arloliu/rota/types"
)

type multi []types.Notifier

// Multi delivers every notification to each notifier in order. All notifiers
// are tried; their errors are joined.
func Multi(notifiers ...types.Notifier) types.Notifier {
	out := make(multi, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}

	return out
}

func (m multi) Notify(ctx context.Context, n types.Notification) error {
	var errs []error
	for _, target := range m {
		if err := target.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

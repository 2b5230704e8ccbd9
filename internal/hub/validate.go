package hub

import (
	"fmt"

	"github.com/nerrad567/gray-logic-integration/internal/adapter"
)

func validateRegistration(a adapter.Adapter, id string, category adapter.Category) error {
	invalid := func(format string, args ...any) error {
		return &RegistrationError{ID: id, Err: fmt.Errorf("%w: "+format, append([]any{ErrInvalidDevice}, args...)...)}
	}

	switch {
	case a == nil:
		return invalid("adapter is nil")
	case id == "":
		return invalid("id is empty")
	case !category.Valid():
		return invalid("unknown category %q", category)
	case a.ID() != id:
		return invalid("adapter is bound to %q", a.ID())
	case a.Category() != category:
		return invalid("adapter category is %q, not %q", a.Category(), category)
	}
	return nil
}

package action

import (
	"context"
	"fmt"
	"strings"

	"github.com/memri/memri-go/internal/item"
)

// toggleBinding flips the boolean state cell a binding expression
// points at. Bindings address a fixed set of state locations: session
// flags, the context item's starred flag, and per-view user state.
func toggleBinding(ctx context.Context, ac Context, binding item.Value, inv *Invocation) error {
	path := strings.TrimSpace(binding.ExprVal().Source())
	path = strings.TrimSuffix(strings.TrimPrefix(path, "{"), "}")

	switch {
	case strings.HasPrefix(path, "currentSession."):
		s := ac.Sessions().Current()
		if s == nil {
			return fmt.Errorf("no current session")
		}
		switch strings.TrimPrefix(path, "currentSession.") {
		case "editMode":
			s.EditMode = !s.EditMode
		case "showFilterPanel":
			s.ShowFilterPanel = !s.ShowFilterPanel
		case "showContextPane":
			s.ShowContextPane = !s.ShowContextPane
		default:
			return fmt.Errorf("unknown session binding %q", path)
		}
		ac.Sessions().NotifyChanged()
		return nil

	case path == ".starred" || strings.HasSuffix(path, ".starred"):
		if inv.Item == nil {
			return fmt.Errorf("starred binding with no item in scope")
		}
		if err := ac.Cache().SetStarred(ctx, []*item.Item{inv.Item}, !inv.Item.Starred); err != nil {
			return err
		}
		ac.ScheduleSync()
		return nil

	case strings.HasPrefix(path, "view.userState."), strings.HasPrefix(path, "currentView.userState."):
		if inv.View == nil {
			return fmt.Errorf("user-state binding with no current view")
		}
		key := path[strings.LastIndex(path, ".")+1:]
		cur := inv.View.UserState.Get(key).AsBool()
		inv.View.UserState.Set(key, item.Bool(!cur))
		ac.Sessions().NotifyChanged()
		return nil

	default:
		return fmt.Errorf("binding %q does not address a known state cell", path)
	}
}

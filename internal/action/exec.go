package action

import (
	"context"
	"fmt"

	"github.com/memri/memri-go/internal/cvu"
	"github.com/memri/memri-go/internal/item"
	"github.com/memri/memri-go/internal/session"
)

func viewArgsFrom(v item.Value) *session.ViewArguments {
	if v.Kind() != item.KindMap {
		return session.NewViewArguments(nil)
	}
	return session.NewViewArguments(v.MapVal())
}

func execOpenView(ctx context.Context, ac Context, inv *Invocation) error {
	args := viewArgsFrom(inv.Arg("viewArguments"))

	if v := inv.Arg("view"); !v.IsNil() {
		def, ok := v.DefVal().(*cvu.Definition)
		if !ok {
			return fmt.Errorf("view argument is not a parsed definition")
		}
		target, _ := opTarget(ac, inv)
		return ac.OpenViewDef(ctx, def, target, args)
	}
	if v := inv.Arg("viewName"); !v.IsNil() && v.Str() != "" {
		target, _ := opTarget(ac, inv)
		return ac.OpenViewNamed(ctx, v.Str(), target, args)
	}
	target, err := opTarget(ac, inv)
	if err != nil {
		return fmt.Errorf("openView: no view, viewName, or item to open")
	}
	return ac.OpenItem(ctx, target, args)
}

// opTarget resolves the item an open-style action applies to: the
// explicit "item" argument when given, the context item otherwise.
func opTarget(ac Context, inv *Invocation) (*item.Item, error) {
	return fetchItemArg(ac, inv, "item")
}

func execOpenViewByName(ctx context.Context, ac Context, inv *Invocation) error {
	name := inv.Arg("name").Str()
	if name == "" {
		return fmt.Errorf("openViewByName: missing name")
	}
	var target *item.Item
	if t, err := opTarget(ac, inv); err == nil {
		target = t
	}
	return ac.OpenViewNamed(ctx, name, target, viewArgsFrom(inv.Arg("viewArguments")))
}

func execBack(ctx context.Context, ac Context, inv *Invocation) error {
	s := ac.Sessions().Current()
	if s == nil {
		return fmt.Errorf("back: no current session")
	}
	s.Back()
	ac.Sessions().NotifyChanged()
	return nil
}

func execForward(ctx context.Context, ac Context, inv *Invocation) error {
	s := ac.Sessions().Current()
	if s == nil {
		return fmt.Errorf("forward: no current session")
	}
	s.Forward()
	ac.Sessions().NotifyChanged()
	return nil
}

func execForwardToFront(ctx context.Context, ac Context, inv *Invocation) error {
	s := ac.Sessions().Current()
	if s == nil {
		return fmt.Errorf("forwardToFront: no current session")
	}
	s.ForwardToFront()
	ac.Sessions().NotifyChanged()
	return nil
}

// execBackAsSession duplicates the whole current session into a new,
// persisted session and navigates back inside the duplicate, leaving
// the original untouched at its position.
func execBackAsSession(ctx context.Context, ac Context, inv *Invocation) error {
	m := ac.Sessions()
	cur := m.Current()
	if cur == nil {
		return fmt.Errorf("backAsSession: no current session")
	}
	dup := cur.Duplicate(cur.Name)
	m.Add(dup)
	if err := session.Save(ctx, ac.Cache(), m); err != nil {
		return fmt.Errorf("backAsSession: persisting duplicate: %w", err)
	}
	ac.ScheduleSync()
	dup.Back()
	m.NotifyChanged()
	return nil
}

func execOpenSession(ctx context.Context, ac Context, inv *Invocation) error {
	if v := inv.Arg("session"); !v.IsNil() {
		ac.Sessions().SwitchTo(int(v.IntVal()))
		return nil
	}
	if name := inv.Arg("name").Str(); name != "" {
		for i, s := range ac.Sessions().Sessions() {
			if s.Name == name {
				ac.Sessions().SwitchTo(i)
				return nil
			}
		}
		return fmt.Errorf("openSession: no session named %q", name)
	}
	return fmt.Errorf("openSession: missing session index or name")
}

func execDelete(ctx context.Context, ac Context, inv *Invocation) error {
	target, err := fetchItemArg(ac, inv, "item")
	if err != nil {
		// No explicit item and nothing in scope: fall back to the
		// current view's multi-selection.
		selected := selectedItems(ac, inv)
		if len(selected) == 0 {
			return err
		}
		if err := ac.Cache().DeleteAll(ctx, selected); err != nil {
			return err
		}
		inv.View.UserState.Set("selection", item.Nil())
		ac.ScheduleSync()
		return nil
	}
	if err := ac.Cache().Delete(ctx, target); err != nil {
		return err
	}
	ac.ScheduleSync()
	return nil
}

// selectedItems resolves the current view's selection refs to cache
// items. Refs whose items are gone are skipped.
func selectedItems(ac Context, inv *Invocation) []*item.Item {
	if inv.View == nil {
		return nil
	}
	var out []*item.Item
	for _, v := range inv.View.UserState.Get("selection").ListVal() {
		if v.Kind() != item.KindItemRef {
			continue
		}
		if it, err := ac.Cache().Fetch(v.RefVal()); err == nil {
			out = append(out, it)
		}
	}
	return out
}

func execDuplicate(ctx context.Context, ac Context, inv *Invocation) error {
	src, err := fetchItemArg(ac, inv, "item")
	if err != nil {
		return err
	}
	props := make(map[string]item.Value, len(src.Properties))
	for k, v := range src.Properties {
		props[k] = v
	}
	copyItem, err := ac.Cache().CreateItem(ctx, src.Family, props)
	if err != nil {
		return err
	}
	ac.ScheduleSync()
	return ac.OpenItem(ctx, copyItem, session.NewViewArguments(nil))
}

func execAddItem(ctx context.Context, ac Context, inv *Invocation) error {
	// The item literal was already materialized by the argument builder.
	created, err := fetchItemArg(ac, inv, "template")
	if err != nil {
		return fmt.Errorf("addItem: %w", err)
	}
	ac.ScheduleSync()
	if inv.Arg("openNewItem").AsBool() {
		return ac.OpenItem(ctx, created, session.NewViewArguments(nil))
	}
	return nil
}

func execLink(ctx context.Context, ac Context, inv *Invocation) error {
	subject, err := fetchItemArg(ac, inv, "subject")
	if err != nil {
		return fmt.Errorf("link: %w", err)
	}
	edgeType := inv.Arg("edgeType").Str()
	if edgeType == "" {
		return fmt.Errorf("link: missing edgeType")
	}
	if inv.Item == nil {
		return fmt.Errorf("link: no item in scope")
	}
	exclusive := inv.Arg("distinct").AsBool()
	if err := ac.Cache().Link(ctx, subject, inv.Item, edgeType, "", -1, exclusive); err != nil {
		return err
	}
	ac.ScheduleSync()
	return nil
}

func execUnlink(ctx context.Context, ac Context, inv *Invocation) error {
	subject, err := fetchItemArg(ac, inv, "subject")
	if err != nil {
		return fmt.Errorf("unlink: %w", err)
	}
	edgeType := inv.Arg("edgeType").Str()
	if edgeType == "" {
		return fmt.Errorf("unlink: missing edgeType")
	}
	if inv.Item == nil {
		return fmt.Errorf("unlink: no item in scope")
	}
	if err := ac.Cache().Unlink(ctx, subject, inv.Item, edgeType); err != nil {
		return err
	}
	ac.ScheduleSync()
	return nil
}

func execSetRenderer(ctx context.Context, ac Context, inv *Invocation) error {
	name := inv.Arg("renderer").Str()
	if name == "" {
		return fmt.Errorf("setRenderer: missing renderer")
	}
	if inv.View == nil {
		return fmt.Errorf("setRenderer: no current view")
	}
	inv.View.Rendering = name
	ac.Sessions().NotifyChanged()
	return nil
}

func execRunImporter(ctx context.Context, ac Context, inv *Invocation) error {
	run, err := fetchItemArg(ac, inv, "importerRun")
	if err != nil {
		return fmt.Errorf("runImporterRun: %w", err)
	}
	return ac.RunImporter(ctx, run.UID)
}

func execRunIndexer(ctx context.Context, ac Context, inv *Invocation) error {
	run, err := fetchItemArg(ac, inv, "indexerRun")
	if err != nil {
		return fmt.Errorf("runIndexerRun: %w", err)
	}
	return ac.RunIndexer(ctx, run.UID)
}

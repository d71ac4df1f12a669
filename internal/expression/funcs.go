package expression

import (
	"fmt"
	"strings"

	"github.com/memri/memri-go/internal/item"
)

// call applies a function-call segment to the current result. The
// function set is closed; unknown names fail (and are logged as a
// graceful nil by the caller).
func (sc *Scope) call(cur Result, seg Segment) (Result, error) {
	switch seg.Name {
	case "count":
		switch {
		case cur.Items != nil:
			return Result{Value: item.Int(int64(len(cur.Items)))}, nil
		case cur.Value.Kind() == item.KindList:
			return Result{Value: item.Int(int64(len(cur.Value.ListVal())))}, nil
		case cur.Value.Kind() == item.KindString:
			return Result{Value: item.Int(int64(len(cur.Value.Str())))}, nil
		default:
			return Result{Value: item.Int(0)}, nil
		}

	case "first":
		if len(cur.Items) > 0 {
			return Result{Item: cur.Items[0]}, nil
		}
		if l := cur.Value.ListVal(); len(l) > 0 {
			return sc.materialize(l[0])
		}
		return Result{}, nil

	case "last":
		if n := len(cur.Items); n > 0 {
			return Result{Item: cur.Items[n-1]}, nil
		}
		if l := cur.Value.ListVal(); len(l) > 0 {
			return sc.materialize(l[len(l)-1])
		}
		return Result{}, nil

	case "uppercased":
		return Result{Value: item.String(strings.ToUpper(cur.Value.AsString(sc.DateFormat)))}, nil

	case "lowercased":
		return Result{Value: item.String(strings.ToLower(cur.Value.AsString(sc.DateFormat)))}, nil

	case "joined":
		sep := ", "
		if len(seg.Args) > 0 {
			sep = seg.Args[0]
		}
		var parts []string
		switch {
		case cur.Items != nil:
			for _, it := range cur.Items {
				parts = append(parts, computedTitle(it))
			}
		case cur.Value.Kind() == item.KindList:
			for _, v := range cur.Value.ListVal() {
				parts = append(parts, v.AsString(sc.DateFormat))
			}
		default:
			parts = append(parts, cur.Value.AsString(sc.DateFormat))
		}
		return Result{Value: item.String(strings.Join(parts, sep))}, nil

	case "fullName":
		if cur.Item == nil {
			return Result{}, fmt.Errorf("fullName() needs an item receiver")
		}
		first := cur.Item.Get("firstName").AsString("")
		last := cur.Item.Get("lastName").AsString("")
		return Result{Value: item.String(strings.TrimSpace(first + " " + last))}, nil

	case "computedTitle":
		if cur.Item == nil {
			return Result{}, fmt.Errorf("computedTitle() needs an item receiver")
		}
		return Result{Value: item.String(computedTitle(cur.Item))}, nil

	default:
		return Result{}, fmt.Errorf("unknown function %q", seg.Name)
	}
}

// computedTitle derives a human label for an item from its best-known
// naming property.
func computedTitle(it *item.Item) string {
	for _, name := range []string{"displayName", "title", "name", "firstName", "content"} {
		if v := it.Get(name); v.Kind() == item.KindString && v.Str() != "" {
			return v.Str()
		}
	}
	return fmt.Sprintf("%s #%d", it.Family, it.UID)
}

package cache

import (
	"sort"
	"strings"

	"github.com/memri/memri-go/internal/item"
)

// Query is the parsed form of a datasource query string. The textual
// grammar is "<TypeName-or-*> <optional filter clause>"; sorting rides
// alongside the string rather than inside it.
type Query struct {
	ItemType      string // "" or "*" matches every family
	Filter        string
	SortProperty  string
	SortAscending bool
}

// ParseQuery splits a query string into its type head and filter tail.
func ParseQuery(s string) Query {
	s = strings.TrimSpace(s)
	if s == "" {
		return Query{ItemType: "*"}
	}
	head, tail, _ := strings.Cut(s, " ")
	return Query{
		ItemType: head,
		Filter:   strings.TrimSpace(tail),
	}
}

// Signature identifies a query for result-set caching. Two queries
// with the same signature share one ResultSet.
func (q Query) Signature() string {
	var b strings.Builder
	b.WriteString(q.ItemType)
	b.WriteByte('|')
	b.WriteString(q.Filter)
	b.WriteByte('|')
	b.WriteString(q.SortProperty)
	if q.SortAscending {
		b.WriteString("|asc")
	} else {
		b.WriteString("|desc")
	}
	return b.String()
}

// MatchesAll reports whether the query's type head is a wildcard.
func (q Query) MatchesAll() bool {
	return q.ItemType == "" || q.ItemType == "*" || q.ItemType == "*[]"
}

// Match reports whether an item satisfies the query's type head and
// filter clause. Deleted items never match.
func (q Query) Match(it *item.Item) bool {
	if it.Deleted {
		return false
	}
	if !q.MatchesAll() {
		want := strings.TrimSuffix(q.ItemType, "[]")
		if string(it.Family) != want {
			return false
		}
	}
	if q.Filter == "" {
		return true
	}
	for _, clause := range strings.Split(q.Filter, " AND ") {
		if !matchClause(it, strings.TrimSpace(clause)) {
			return false
		}
	}
	return true
}

// matchClause evaluates one "prop op value" comparison. Supported
// operators are =, !=, and CONTAINS; an unparsable clause matches
// nothing rather than everything.
func matchClause(it *item.Item, clause string) bool {
	if clause == "" {
		return true
	}
	op, prop, arg := "", "", ""
	switch {
	case strings.Contains(clause, "!="):
		op = "!="
		prop, arg, _ = strings.Cut(clause, "!=")
	case strings.Contains(clause, " CONTAINS "):
		op = "CONTAINS"
		prop, arg, _ = strings.Cut(clause, " CONTAINS ")
	case strings.Contains(clause, "="):
		op = "="
		prop, arg, _ = strings.Cut(clause, "=")
	default:
		return false
	}
	prop = strings.TrimSpace(prop)
	arg = strings.Trim(strings.TrimSpace(arg), `'"`)

	have := itemFieldString(it, prop)
	switch op {
	case "=":
		return strings.EqualFold(have, arg)
	case "!=":
		return !strings.EqualFold(have, arg)
	case "CONTAINS":
		return strings.Contains(strings.ToLower(have), strings.ToLower(arg))
	}
	return false
}

func itemFieldString(it *item.Item, prop string) string {
	switch prop {
	case "uid":
		return item.Int(it.UID).AsString("")
	case "starred":
		return item.Bool(it.Starred).AsString("")
	case "deleted":
		return item.Bool(it.Deleted).AsString("")
	}
	v, ok := it.Properties[prop]
	if !ok {
		return ""
	}
	return v.AsString("")
}

// sortItems orders items in place by the query's sort property. Items
// missing the property sink to the end regardless of direction.
func (q Query) sortItems(items []*item.Item) {
	if q.SortProperty == "" {
		sort.SliceStable(items, func(i, j int) bool { return items[i].UID < items[j].UID })
		return
	}
	sort.SliceStable(items, func(i, j int) bool {
		a, aok := sortKey(items[i], q.SortProperty)
		b, bok := sortKey(items[j], q.SortProperty)
		if aok != bok {
			return aok
		}
		if !aok {
			return false
		}
		if q.SortAscending {
			return a < b
		}
		return a > b
	})
}

func sortKey(it *item.Item, prop string) (string, bool) {
	switch prop {
	case "dateModified":
		return it.DateModified.UTC().Format("20060102150405.000000"), true
	case "dateCreated":
		return it.DateCreated.UTC().Format("20060102150405.000000"), true
	case "dateAccessed":
		return it.DateAccessed.UTC().Format("20060102150405.000000"), true
	}
	v, ok := it.Properties[prop]
	if !ok || v.Kind() == item.KindNil {
		return "", false
	}
	if v.Kind() == item.KindTime {
		return v.TimeVal().UTC().Format("20060102150405.000000"), true
	}
	return strings.ToLower(v.AsString("")), true
}

package filter

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gyaneshwarpardhi/camreview/internal/event"
)

// Match evaluates expr against e. A nil expr matches everything.
func Match(expr Expr, e event.Event) (bool, error) {
	switch x := expr.(type) {
	case nil:
		return true, nil
	case *Logical:
		left, err := Match(x.Left, e)
		if err != nil {
			return false, err
		}
		if x.Op == "AND" && !left {
			return false, nil
		}
		if x.Op == "OR" && left {
			return true, nil
		}
		return Match(x.Right, e)
	case *Not:
		v, err := Match(x.Expr, e)
		if err != nil {
			return false, err
		}
		return !v, nil
	case *Compare:
		return compare(x, e)
	}
	return false, fmt.Errorf("filter: unknown expression %T", expr)
}

// Apply returns the events expr matches, in input order.
func Apply(expr Expr, events []event.Event) ([]event.Event, error) {
	if expr == nil {
		return events, nil
	}
	out := make([]event.Event, 0, len(events))
	for _, e := range events {
		ok, err := Match(expr, e)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Predicate adapts expr to a keep function. Evaluation errors drop the event.
func Predicate(expr Expr) func(event.Event) bool {
	return func(e event.Event) bool {
		ok, err := Match(expr, e)
		return err == nil && ok
	}
}

func compare(c *Compare, e event.Event) (bool, error) {
	if c.Field == FieldTimestamp {
		want, ok := c.Value.(float64)
		if !ok {
			return false, fmt.Errorf("filter: timestamp compares against a number, got %q", c.Value)
		}
		return compareNumber(c.Op, e.Timestamp, want)
	}

	want, ok := c.Value.(string)
	if !ok {
		return false, fmt.Errorf("filter: %s compares against a string, got %v", c.Field, c.Value)
	}
	if c.Field == FieldZone {
		// Zone is multi-valued: == means "in any zone", != means "in none".
		zones := e.Zones()
		switch c.Op {
		case OpEq:
			return slices.Contains(zones, want), nil
		case OpNeq:
			return !slices.Contains(zones, want), nil
		case OpContains:
			return slices.ContainsFunc(zones, func(z string) bool { return strings.Contains(z, want) }), nil
		}
		return false, fmt.Errorf("filter: operator %s not supported for zone", c.Op)
	}

	var got string
	switch c.Field {
	case FieldCamera:
		got = e.Camera
	case FieldClassType:
		got = e.ClassType
	case FieldSource:
		got = e.Source
	case FieldSourceID:
		got = e.SourceID
	case FieldLabel:
		got = e.Label()
	case FieldSubLabel:
		if op, ok := e.Data.(*event.ObjectPayload); ok {
			got = op.SubLabel
		}
	}
	switch c.Op {
	case OpEq:
		return got == want, nil
	case OpNeq:
		return got != want, nil
	case OpContains:
		return strings.Contains(got, want), nil
	}
	return false, fmt.Errorf("filter: operator %s not supported for %s", c.Op, c.Field)
}

func compareNumber(op Operator, got, want float64) (bool, error) {
	switch op {
	case OpEq:
		return got == want, nil
	case OpNeq:
		return got != want, nil
	case OpGt:
		return got > want, nil
	case OpGte:
		return got >= want, nil
	case OpLt:
		return got < want, nil
	case OpLte:
		return got <= want, nil
	}
	return false, fmt.Errorf("filter: operator %s not supported for timestamp", op)
}

// Package condition implements the version predicate algebra used by
// WriteCondition: a small expression tree over an ordered comparable
// domain that can be evaluated against a storage query language and
// rendered to a stable, human-readable string for error messages.
package condition

import (
	"cmp"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

type kind int

const (
	kindEq kind = iota
	kindNe
	kindLt
	kindLte
	kindGt
	kindGte
	kindAnd
	kindOr
	kindNot
)

// Condition is a node in a version predicate expression tree over T.
// Values are built with the Eq/Ne/Lt/Lte/Gt/Gte/And/Or/Not constructors;
// there is no exported constructor for the zero value.
type Condition[T cmp.Ordered] struct {
	kind     kind
	value    T
	children []Condition[T]
}

// Eq builds a condition that holds when the evaluated value equals v.
func Eq[T cmp.Ordered](v T) Condition[T] { return Condition[T]{kind: kindEq, value: v} }

// Ne builds a condition that holds when the evaluated value differs from v.
func Ne[T cmp.Ordered](v T) Condition[T] { return Condition[T]{kind: kindNe, value: v} }

// Lt builds a condition that holds when the evaluated value is less than v.
func Lt[T cmp.Ordered](v T) Condition[T] { return Condition[T]{kind: kindLt, value: v} }

// Lte builds a condition that holds when the evaluated value is less than or equal to v.
func Lte[T cmp.Ordered](v T) Condition[T] { return Condition[T]{kind: kindLte, value: v} }

// Gt builds a condition that holds when the evaluated value is greater than v.
func Gt[T cmp.Ordered](v T) Condition[T] { return Condition[T]{kind: kindGt, value: v} }

// Gte builds a condition that holds when the evaluated value is greater than or equal to v.
func Gte[T cmp.Ordered](v T) Condition[T] { return Condition[T]{kind: kindGte, value: v} }

// And combines conditions conjunctively, flattening nested Ands. An
// empty And is the condition that is always true.
func And[T cmp.Ordered](conditions ...Condition[T]) Condition[T] {
	return Condition[T]{kind: kindAnd, children: flatten(kindAnd, conditions)}
}

// Or combines conditions disjunctively, flattening nested Ors. An
// empty Or is the condition that is always false.
func Or[T cmp.Ordered](conditions ...Condition[T]) Condition[T] {
	return Condition[T]{kind: kindOr, children: flatten(kindOr, conditions)}
}

// Not negates a condition.
func Not[T cmp.Ordered](c Condition[T]) Condition[T] {
	return Condition[T]{kind: kindNot, children: []Condition[T]{c}}
}

func flatten[T cmp.Ordered](k kind, conditions []Condition[T]) []Condition[T] {
	flattened := make([]Condition[T], 0, len(conditions))
	for _, c := range conditions {
		if c.kind == k {
			flattened = append(flattened, c.children...)
			continue
		}
		flattened = append(flattened, c)
	}
	return flattened
}

// Evaluate walks the tree and reports whether actual satisfies the condition.
func (c Condition[T]) Evaluate(actual T) bool {
	switch c.kind {
	case kindEq:
		return actual == c.value
	case kindNe:
		return actual != c.value
	case kindLt:
		return actual < c.value
	case kindLte:
		return actual <= c.value
	case kindGt:
		return actual > c.value
	case kindGte:
		return actual >= c.value
	case kindAnd:
		for _, child := range c.children {
			if !child.Evaluate(actual) {
				return false
			}
		}
		return true
	case kindOr:
		for _, child := range c.children {
			if child.Evaluate(actual) {
				return true
			}
		}
		return false
	case kindNot:
		return !c.children[0].Evaluate(actual)
	default:
		panic(fmt.Sprintf("condition: unknown kind %d", c.kind))
	}
}

// Render renders the condition to the stable English fragment used in
// WriteConditionNotFulfilled messages, e.g. "to be equal to 10" or
// "to be greater than or equal to 0 and to be less than 100 and to not be equal to 1".
func (c Condition[T]) Render() string {
	switch c.kind {
	case kindEq:
		return fmt.Sprintf("to be equal to %v", c.value)
	case kindNe:
		return fmt.Sprintf("to not be equal to %v", c.value)
	case kindLt:
		return fmt.Sprintf("to be less than %v", c.value)
	case kindLte:
		return fmt.Sprintf("to be less than or equal to %v", c.value)
	case kindGt:
		return fmt.Sprintf("to be greater than %v", c.value)
	case kindGte:
		return fmt.Sprintf("to be greater than or equal to %v", c.value)
	case kindAnd:
		if len(c.children) == 0 {
			return "to always be fulfilled"
		}
		return joinChildren(c.children, " and ")
	case kindOr:
		if len(c.children) == 0 {
			return "to never be fulfilled"
		}
		return joinChildren(c.children, " or ")
	case kindNot:
		return "not " + c.children[0].Render()
	default:
		panic(fmt.Sprintf("condition: unknown kind %d", c.kind))
	}
}

func joinChildren[T cmp.Ordered](children []Condition[T], sep string) string {
	parts := make([]string, len(children))
	for i, child := range children {
		parts[i] = child.Render()
	}
	return strings.Join(parts, sep)
}

// ToFilter evaluates the condition into a complete MongoDB filter
// document that tests fieldName against the condition, e.g.
// And(Gte(0), Lt(100)) on "streamOrder" becomes
// bson.M{"streamOrder": bson.M{"$gte": 0, "$lt": 100}}. And merges its
// children's operators under the single field key when every child is
// a simple comparison and no operator repeats, and otherwise falls back
// to a top-level $and of sub-filters; Or always becomes a top-level
// $or of sub-filters. Not is rendered as $nor of the negated
// sub-filter, the standard way to negate an arbitrary filter document
// server-side.
func ToFilter[T cmp.Ordered](fieldName string, c Condition[T]) bson.M {
	switch c.kind {
	case kindEq:
		return bson.M{fieldName: bson.M{"$eq": c.value}}
	case kindNe:
		return bson.M{fieldName: bson.M{"$ne": c.value}}
	case kindLt:
		return bson.M{fieldName: bson.M{"$lt": c.value}}
	case kindLte:
		return bson.M{fieldName: bson.M{"$lte": c.value}}
	case kindGt:
		return bson.M{fieldName: bson.M{"$gt": c.value}}
	case kindGte:
		return bson.M{fieldName: bson.M{"$gte": c.value}}
	case kindAnd:
		if len(c.children) == 0 {
			return bson.M{}
		}
		if ops := mergeOperators(fieldName, c.children); ops != nil {
			return bson.M{fieldName: ops}
		}
		return bson.M{"$and": toFilterList(fieldName, c.children)}
	case kindOr:
		if len(c.children) == 0 {
			// {fieldName: {$exists: false}} would match "field absent",
			// not "never matches" — an empty Or must exclude every
			// document regardless of schema, so key off _id (always
			// present on every document) with an empty $in instead.
			return bson.M{"_id": bson.M{"$in": bson.A{}}}
		}
		return bson.M{"$or": toFilterList(fieldName, c.children)}
	case kindNot:
		return bson.M{"$nor": bson.A{ToFilter(fieldName, c.children[0])}}
	default:
		panic(fmt.Sprintf("condition: unknown kind %d", c.kind))
	}
}

// mergeOperators tries to merge the operators of simple (non-And/Or/Not)
// children into a single {field: {$op1: v1, $op2: v2, ...}} document.
// Returns nil if any child is itself a compound condition or if two
// children use the same operator, since one key cannot hold both.
func mergeOperators[T cmp.Ordered](fieldName string, children []Condition[T]) bson.M {
	merged := bson.M{}
	for _, child := range children {
		sub := ToFilter(fieldName, child)
		ops, ok := sub[fieldName].(bson.M)
		if !ok || len(sub) != 1 {
			return nil
		}
		for op, v := range ops {
			if _, exists := merged[op]; exists {
				return nil
			}
			merged[op] = v
		}
	}
	return merged
}

func toFilterList[T cmp.Ordered](fieldName string, children []Condition[T]) bson.A {
	list := make(bson.A, len(children))
	for i, child := range children {
		list[i] = ToFilter(fieldName, child)
	}
	return list
}

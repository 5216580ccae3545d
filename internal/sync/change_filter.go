// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package sync

import "reflect"

// needsWrite reports whether any incoming property value differs from the
// stored value. Only incoming fields are compared; stored fields the feed
// did not send are never grounds for a write.
//
// Comparison is by logical value, not representation: an empty string is
// equivalent to NULL, and numeric values compare numerically regardless of
// integer or float representation. Filtering exists to avoid churn on
// downstream consumers watching row modification times, so a false
// positive (spurious write) is acceptable and a false negative (missed
// change) is not.
func needsWrite(current, incoming map[string]any) bool {
	if current == nil {
		return true
	}
	for field, incomingVal := range incoming {
		currentVal, ok := current[field]
		if !ok {
			return true
		}
		if !propertyEqual(currentVal, incomingVal) {
			return true
		}
	}
	return false
}

// propertyEqual compares two property values after normalization.
func propertyEqual(a, b any) bool {
	a = normalizeProperty(a)
	b = normalizeProperty(b)

	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if fa, aOK := toFloat(a); aOK {
		fb, bOK := toFloat(b)
		return bOK && fa == fb
	}

	return reflect.DeepEqual(a, b)
}

// normalizeProperty maps the empty string to nil: vendor feeds report
// missing values as "" while the database stores NULL, and the two mean
// the same thing.
func normalizeProperty(v any) any {
	if s, ok := v.(string); ok && s == "" {
		return nil
	}
	return v
}

// toFloat widens any numeric type to float64 for comparison.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Dubsync - Dub Analysis Tool Synchronization Service
// Copyright 2026 Dub Analytics
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dubhq/dubsync

package sync

import "testing"

func TestNeedsWrite(t *testing.T) {
	tests := []struct {
		name     string
		current  map[string]any
		incoming map[string]any
		want     bool
	}{
		{
			name:     "identical values skip the write",
			current:  map[string]any{"plan": "pro", "support_tickets": int64(3)},
			incoming: map[string]any{"plan": "pro", "support_tickets": int64(3)},
			want:     false,
		},
		{
			name:     "changed string writes",
			current:  map[string]any{"plan": "free"},
			incoming: map[string]any{"plan": "pro"},
			want:     true,
		},
		{
			name:     "empty string equals null",
			current:  map[string]any{"plan": nil},
			incoming: map[string]any{"plan": ""},
			want:     false,
		},
		{
			name:     "null to value writes",
			current:  map[string]any{"country": nil},
			incoming: map[string]any{"country": "DE"},
			want:     true,
		},
		{
			name:     "numeric representation does not matter",
			current:  map[string]any{"support_tickets": int64(3)},
			incoming: map[string]any{"support_tickets": float64(3)},
			want:     false,
		},
		{
			name:     "changed numeric writes",
			current:  map[string]any{"open_issues": int64(1)},
			incoming: map[string]any{"open_issues": int64(2)},
			want:     true,
		},
		{
			name:     "unknown stored row writes",
			current:  nil,
			incoming: map[string]any{"plan": "pro"},
			want:     true,
		},
		{
			name:     "field absent from current writes",
			current:  map[string]any{"plan": "pro"},
			incoming: map[string]any{"country": "DE"},
			want:     true,
		},
		{
			name:     "stored fields not sent are ignored",
			current:  map[string]any{"plan": "pro", "country": "DE"},
			incoming: map[string]any{"plan": "pro"},
			want:     false,
		},
		{
			name:     "zero is a value, not null",
			current:  map[string]any{"open_issues": nil},
			incoming: map[string]any{"open_issues": int64(0)},
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := needsWrite(tt.current, tt.incoming); got != tt.want {
				t.Errorf("needsWrite() = %v, want %v", got, tt.want)
			}
		})
	}
}

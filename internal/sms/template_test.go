package sms

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		values      map[string]string
		want        string
		wantMissing []string
	}{
		{
			name:   "all placeholders",
			body:   "{license_name} ({license_number}) at {station} expires in {days_remaining} days",
			values: map[string]string{"license_name": "Fire Safety", "license_number": "FS-1", "station": "North", "days_remaining": "7"},
			want:   "Fire Safety (FS-1) at North expires in 7 days",
		},
		{
			name:        "unknown token kept verbatim",
			body:        "Hello {name}, {name} again, {other}",
			values:      map[string]string{},
			want:        "Hello {name}, {name} again, {other}",
			wantMissing: []string{"name", "other"},
		},
		{
			name:   "no tokens",
			body:   "plain text",
			values: map[string]string{"x": "y"},
			want:   "plain text",
		},
		{
			name:   "empty braces are not tokens",
			body:   "{} {ok}",
			values: map[string]string{"ok": "fine"},
			want:   "{} fine",
		},
		{
			name:   "keys with punctuation spaces and accents",
			body:   "Hi {first-name} at {station name}, {ünit} due",
			values: map[string]string{"first-name": "Ana", "station name": "North", "ünit": "Pump 3"},
			want:   "Hi Ana at North, Pump 3 due",
		},
		{
			name:        "unresolved unusual key is reported",
			body:        "Hi {first-name}",
			values:      map[string]string{"first_name": "Ana"},
			want:        "Hi {first-name}",
			wantMissing: []string{"first-name"},
		},
		{
			name:   "substituted value is not rendered again",
			body:   "{a} {b}",
			values: map[string]string{"a": "{b}", "b": "x"},
			want:   "{b} x",
		},
		{
			name:   "token does not span lines",
			body:   "{open\nclose} {ok}",
			values: map[string]string{"ok": "y"},
			want:   "{open\nclose} y",
		},
		{
			name:        "nil values",
			body:        "{a}",
			values:      nil,
			want:        "{a}",
			wantMissing: []string{"a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, missing := Render(tt.body, tt.values)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantMissing, missing)
		})
	}
}

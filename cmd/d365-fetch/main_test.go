package main

import (
	"reflect"
	"testing"
	"time"

	"github.com/d365kit/odata-client/pkg/config"
)

func TestSplitList(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"empty", "", nil},
		{"single", "name", []string{"name"}},
		{"multiple", "name,accountnumber,revenue", []string{"name", "accountnumber", "revenue"}},
		{"whitespace", " name , revenue ", []string{"name", "revenue"}},
		{"trailing_comma", "name,", []string{"name"}},
		{"only_commas", ",,", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitList(tt.input)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("splitList(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestBuildOptions(t *testing.T) {
	rt := &config.RuntimeConfig{PageSize: 500, RetryDelay: time.Second}

	t.Run("top_defaults_to_page_size", func(t *testing.T) {
		options := buildOptions(rt, fetchFlags{})
		if options.Top != 500 {
			t.Errorf("Top = %d, want configured page size 500", options.Top)
		}
	})

	t.Run("explicit_top_wins", func(t *testing.T) {
		options := buildOptions(rt, fetchFlags{top: 25})
		if options.Top != 25 {
			t.Errorf("Top = %d, want 25", options.Top)
		}
	})

	t.Run("flags_mapped", func(t *testing.T) {
		options := buildOptions(rt, fetchFlags{
			selectFields: "name,revenue",
			filter:       "revenue gt 1000",
			orderBy:      "name asc",
			crossCompany: true,
			count:        true,
		})
		if !reflect.DeepEqual(options.Select, []string{"name", "revenue"}) {
			t.Errorf("Select = %v", options.Select)
		}
		if options.Filter != "revenue gt 1000" {
			t.Errorf("Filter = %q", options.Filter)
		}
		if options.OrderBy != "name asc" {
			t.Errorf("OrderBy = %q", options.OrderBy)
		}
		if !options.CrossCompany {
			t.Error("CrossCompany not mapped")
		}
		if !options.Count {
			t.Error("Count not mapped")
		}
	})
}

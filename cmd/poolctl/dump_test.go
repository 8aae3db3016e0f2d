package main

import (
	"testing"
)

func TestDumpCommand(t *testing.T) {
	tests := []struct {
		name           string
		sizes          []int
		count          int
		large          bool
		coarse         bool
		wantErr        bool
		wantContain    []string
		wantNotContain []string
		wantJSON       bool
	}{
		{
			name:  "default workload",
			sizes: []int{64, 1000, 4096},
			count: 2,
			large: true,
			wantContain: []string{
				"Pool", "pool: malloc=6 free=0", "small pool (Default)",
				"live: 4 objects", "large pool:", "consistency check: ok",
			},
		},
		{
			name:           "without large report",
			sizes:          []int{16},
			count:          10,
			large:          false,
			wantContain:    []string{"live: 10 objects"},
			wantNotContain: []string{"Large Allocator", "large pool:"},
		},
		{
			name:        "coarse classes",
			sizes:       []int{100},
			count:       1,
			coarse:      true,
			wantContain: []string{"small pool (Coarse)"},
		},
		{
			name:        "as JSON",
			sizes:       []int{64, 100000},
			count:       3,
			wantJSON:    true,
			wantContain: []string{`"size_classes": "Default"`, `"check": "ok"`, `"Mallocs": 6`},
		},
		{
			name:    "invalid count",
			sizes:   []int{64},
			count:   0,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags()
			jsonOut = tt.wantJSON
			dumpSizes = tt.sizes
			dumpCount = tt.count
			dumpLarge = tt.large
			dumpCoarse = tt.coarse

			output, err := captureOutput(t, func() error {
				return runDump(nil)
			})

			if (err != nil) != tt.wantErr {
				t.Errorf("runDump() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}

			if tt.wantJSON {
				assertJSON(t, output)
			}

			assertContains(t, output, tt.wantContain)
			assertNotContains(t, output, tt.wantNotContain)
		})
	}
}

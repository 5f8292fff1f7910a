package client

import (
	"testing"
)

func TestValidatePaths(t *testing.T) {
	tests := []struct {
		name        string
		destDir     string
		destName    string
		expectError bool
	}{
		{
			name:     "valid_absolute_path",
			destDir:  "C:\\Users\\admin",
			destName: "file.txt",
		},
		{
			name:     "valid_unc_path",
			destDir:  "\\\\server\\share",
			destName: "file.txt",
		},
		{
			name:     "valid_env_reference",
			destDir:  "%TEMP%\\drop",
			destName: "file.txt",
		},
		{
			name:        "empty_dir",
			destDir:     "",
			destName:    "file.txt",
			expectError: true,
		},
		{
			name:        "relative_dir",
			destDir:     "Users\\admin",
			destName:    "file.txt",
			expectError: true,
		},
		{
			name:        "dir_with_traversal",
			destDir:     "C:\\Users\\..\\Windows",
			destName:    "file.txt",
			expectError: true,
		},
		{
			name:        "env_dir_with_traversal",
			destDir:     "%TEMP%\\..\\..\\Windows",
			destName:    "file.txt",
			expectError: true,
		},
		{
			name:        "empty_name",
			destDir:     "C:\\Users\\admin",
			destName:    "",
			expectError: true,
		},
		{
			name:        "name_with_separator",
			destDir:     "C:\\Users\\admin",
			destName:    "..\\file.txt",
			expectError: true,
		},
		{
			name:        "name_with_wildcard",
			destDir:     "C:\\Users\\admin",
			destName:    "*.txt",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validatePaths(tt.destDir, tt.destName)
			if tt.expectError && err == nil {
				t.Errorf("Expected error for %s, got nil", tt.name)
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error for %s: %v", tt.name, err)
			}
		})
	}
}

func TestTransferProgress_Update(t *testing.T) {
	var last float64
	progress := &transferProgress{
		total: 1000,
		fn:    func(f float64) { last = f },
	}

	progress.update(100)
	if last != 0.1 {
		t.Errorf("Expected 0.1, got %v", last)
	}

	progress.update(200)
	if last != 0.3 {
		t.Errorf("Expected 0.3, got %v", last)
	}

	// More bytes than announced never reports past completion.
	progress.update(5000)
	if last != 1 {
		t.Errorf("Expected 1, got %v", last)
	}
}

func TestTransferProgress_Empty(t *testing.T) {
	var calls []float64
	progress := &transferProgress{fn: func(f float64) { calls = append(calls, f) }}

	progress.update(0)
	if len(calls) != 1 || calls[0] != 1 {
		t.Errorf("Expected a single 1.0 report, got %v", calls)
	}
}

func TestTransferProgress_NoCallback(t *testing.T) {
	progress := &transferProgress{
		total: 1000,
		// No callback set
	}

	// Should not panic
	progress.update(100)
}

func TestTransferState_String(t *testing.T) {
	tests := []struct {
		state TransferState
		want  string
	}{
		{TransferClearTarget, "clear_target"},
		{TransferChunks, "transfer"},
		{TransferDone, "done"},
		{TransferState(9), "TransferState(9)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

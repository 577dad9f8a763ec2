package shader

import (
	"strings"
	"testing"
)

func TestWithDefines(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		defines []string
		want    string
	}{
		{"no defines", "#version 410 core\nvoid main() {}", nil, "#version 410 core\nvoid main() {}"},
		{"after version", "\n  #version 410 core\nvoid main() {}", []string{"USE_ATLAS", "MAX_JOINTS 64"},
			"#version 410 core\n#define USE_ATLAS\n#define MAX_JOINTS 64\nvoid main() {}"},
		{"no version", "void main() {}", []string{"A"}, "#define A\nvoid main() {}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WithDefines(tt.src, tt.defines); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWithDefinesKeepsVersionFirst(t *testing.T) {
	got := WithDefines("#version 410 core\nin vec3 p;", []string{"X"})
	if !strings.HasPrefix(got, "#version") {
		t.Errorf("version directive moved: %q", got)
	}
}

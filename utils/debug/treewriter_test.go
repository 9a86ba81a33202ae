package debug

import "testing"

func TestTreeWriter_Lines(t *testing.T) {
	tw := NewTreeWriter()
	if tw.String() != "" {
		t.Fatalf("new writer is not empty: %q", tw.String())
	}
	tw.Line(0, "document %s", "d1")
	tw.Line(1, "version %d", 2)
	tw.TextBlock(2, "text", "Hi\n\u00e9")
	tw.TextBlock(2, "empty", "")

	want := "document d1\n" +
		"  version 2\n" +
		"    text: \"Hi\\n\\u00e9\"\n" +
		"    empty: \n"
	if got := tw.String(); got != want {
		t.Errorf("String() =\n%s\nwant\n%s", got, want)
	}
}

func TestTreeWriter_Fields(t *testing.T) {
	tests := []struct {
		name string
		kv   []any
		want string
	}{
		{"all set", []any{"at", 3, "bold", true, "scale", 1.5, "id", "a1"}, "  run at=3 bold=true scale=1.5 id=\"a1\"\n"},
		{"zero values skipped", []any{"at", 0, "bold", false, "scale", 0.0, "id", ""}, "  run\n"},
		{"odd tail ignored", []any{"at", 1, "dangling"}, "  run at=1\n"},
		{"escaped text", []any{"text", "a￼b"}, "  run text=\"a\\ufffcb\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tw := NewTreeWriter()
			tw.Fields(1, "run", tt.kv...)
			if got := tw.String(); got != tt.want {
				t.Errorf("Fields() = %q, want %q", got, tt.want)
			}
		})
	}
}

package common

import "testing"

func TestParseAlignment(t *testing.T) {
	tests := []struct {
		in      string
		want    Alignment
		wantErr bool
	}{
		{"", AlignmentNatural, false},
		{"start", AlignmentNatural, false},
		{" Center ", AlignmentCenter, false},
		{"justify", AlignmentJustified, false},
		{"justified", AlignmentJustified, false},
		{"middle", AlignmentNatural, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAlignment(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAlignment(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseAlignment(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestAlignment_Text(t *testing.T) {
	var a Alignment
	if err := a.UnmarshalText([]byte("right")); err != nil || a != AlignmentRight {
		t.Fatalf("UnmarshalText = %v, %v", a, err)
	}
	data, err := a.MarshalText()
	if err != nil || string(data) != "right" {
		t.Errorf("MarshalText = %q, %v", data, err)
	}
	if _, err := Alignment(42).MarshalText(); err == nil {
		t.Error("invalid alignment marshaled")
	}
	if s := Alignment(42).String(); s != "Alignment(42)" {
		t.Errorf("String = %q", s)
	}
}

func TestAttachmentKind(t *testing.T) {
	for _, name := range AttachmentKindNames() {
		k, err := ParseAttachmentKind(name)
		if err != nil {
			t.Fatalf("ParseAttachmentKind(%q): %v", name, err)
		}
		if k.String() != name {
			t.Errorf("round trip %q -> %q", name, k.String())
		}
		want := name == "comment" || name == "footnote"
		if k.HasBackingRecord() != want {
			t.Errorf("%s.HasBackingRecord() = %v", name, !want)
		}
	}
	if _, err := ParseAttachmentKind("video"); err == nil {
		t.Error("unknown kind accepted")
	}
}

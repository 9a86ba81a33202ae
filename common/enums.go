// Package common holds enumerations shared by the buffer model, stylesheets,
// the serialized format and the object store. Keeping them here avoids import
// cycles between those packages.
package common

import (
	"fmt"
	"strings"
)

// Alignment is paragraph alignment. Zero value is natural alignment which
// follows writing direction.
type Alignment int

const (
	AlignmentNatural Alignment = iota
	AlignmentLeft
	AlignmentCenter
	AlignmentRight
	AlignmentJustified
)

var alignmentNames = []string{"natural", "left", "center", "right", "justified"}

func (a Alignment) String() string {
	if a < 0 || int(a) >= len(alignmentNames) {
		return fmt.Sprintf("Alignment(%d)", int(a))
	}
	return alignmentNames[a]
}

// IsValid reports whether a is one of the known alignments.
func (a Alignment) IsValid() bool {
	return a >= 0 && int(a) < len(alignmentNames)
}

// AlignmentNames returns list of possible string values.
func AlignmentNames() []string {
	return append([]string(nil), alignmentNames...)
}

// ParseAlignment converts name to Alignment, empty name is natural. CSS
// synonyms "start" and "justify" are accepted.
func ParseAlignment(name string) (Alignment, error) {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "", "start":
		return AlignmentNatural, nil
	case "justify":
		return AlignmentJustified, nil
	default:
		for i, v := range alignmentNames {
			if v == n {
				return Alignment(i), nil
			}
		}
	}
	return AlignmentNatural, fmt.Errorf("%q is not a valid alignment, try [%s]", name, strings.Join(alignmentNames, ", "))
}

func (a Alignment) MarshalText() ([]byte, error) {
	if !a.IsValid() {
		return nil, fmt.Errorf("invalid alignment %d", int(a))
	}
	return []byte(a.String()), nil
}

func (a *Alignment) UnmarshalText(text []byte) error {
	v, err := ParseAlignment(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// AttachmentKind identifies variant of an inline object anchored in a buffer.
type AttachmentKind int

const (
	AttachmentKindImage AttachmentKind = iota
	AttachmentKindComment
	AttachmentKindFootnote
	AttachmentKindPageBreak
)

var attachmentKindNames = []string{"image", "comment", "footnote", "pagebreak"}

func (k AttachmentKind) String() string {
	if k < 0 || int(k) >= len(attachmentKindNames) {
		return fmt.Sprintf("AttachmentKind(%d)", int(k))
	}
	return attachmentKindNames[k]
}

// HasBackingRecord reports whether attachments of this kind point to a
// record kept in the object store (comments and footnotes).
func (k AttachmentKind) HasBackingRecord() bool {
	return k == AttachmentKindComment || k == AttachmentKindFootnote
}

// AttachmentKindNames returns list of possible string values.
func AttachmentKindNames() []string {
	return append([]string(nil), attachmentKindNames...)
}

func ParseAttachmentKind(name string) (AttachmentKind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, v := range attachmentKindNames {
		if v == n {
			return AttachmentKind(i), nil
		}
	}
	return AttachmentKindImage, fmt.Errorf("%q is not a valid attachment kind, try [%s]", name, strings.Join(attachmentKindNames, ", "))
}

// Package playback keeps the teacher and student tracks in step with pointer
// scrubbing over the comparison charts.
package playback

import "fmt"

// Role identifies which performance a track or capture belongs to.
type Role int

const (
	Teacher Role = iota
	Student
)

// Roles lists every role in display order.
var Roles = []Role{Teacher, Student}

func (r Role) String() string {
	switch r {
	case Teacher:
		return "teacher"
	case Student:
		return "student"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// ParseRole accepts "teacher" or "student".
func ParseRole(s string) (Role, error) {
	switch s {
	case "teacher":
		return Teacher, nil
	case "student":
		return Student, nil
	}
	return 0, fmt.Errorf("unknown role %q", s)
}

// Focus restricts scrubbing to one role, or none.
type Focus int

const (
	FocusAll Focus = iota
	FocusTeacher
	FocusStudent
)

func (f Focus) String() string {
	switch f {
	case FocusAll:
		return "all"
	case FocusTeacher:
		return "teacher"
	case FocusStudent:
		return "student"
	default:
		return fmt.Sprintf("Focus(%d)", int(f))
	}
}

// ParseFocus accepts "all", "teacher" or "student".
func ParseFocus(s string) (Focus, error) {
	switch s {
	case "all", "":
		return FocusAll, nil
	case "teacher":
		return FocusTeacher, nil
	case "student":
		return FocusStudent, nil
	}
	return 0, fmt.Errorf("unknown focus %q", s)
}

// FocusOf is the focus that isolates r.
func FocusOf(r Role) Focus {
	if r == Teacher {
		return FocusTeacher
	}
	return FocusStudent
}

// Eligible reports whether role r reacts to pointer interaction under focus.
func Eligible(focus Focus, r Role) bool {
	return focus == FocusAll || focus == FocusOf(r)
}

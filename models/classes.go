package models

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-fomo/models/fomo"
)

// BackgroundClass is the name of grid channel 0.
const BackgroundClass = "__background__"

// ClassSet maps head channel indices to human-readable labels. Index 0 is
// always the background.
type ClassSet struct {
	names []string
}

// NewClassSet registers object class names in channel order, starting at channel 1.
//
// Arguments:
//   - names: One label per object class.
//
// Returns:
//   - *ClassSet: The set, with the background at index 0.
//   - error: ErrInvalidConfig if a name is empty or repeated.
func NewClassSet(names ...string) (*ClassSet, error) {
	s := &ClassSet{names: append([]string{BackgroundClass}, names...)}
	seen := make(map[string]bool, len(s.names))
	for i, name := range s.names {
		if name == "" {
			return nil, errors.Wrapf(fomo.ErrInvalidConfig, "class %d has no name", i)
		}
		if seen[name] {
			return nil, errors.Wrapf(fomo.ErrInvalidConfig, "duplicate class name %q", name)
		}
		seen[name] = true
	}
	return s, nil
}

// Name returns the label of a channel, or "" if out of range.
func (s *ClassSet) Name(index int) string {
	if index < 0 || index >= len(s.names) {
		return ""
	}
	return s.names[index]
}

// classSetFor builds the class set of a head with numClasses object classes.
// Without names, classes are called "class_1", "class_2" and so on.
func classSetFor(names []string, numClasses int) (*ClassSet, error) {
	if len(names) == 0 {
		names = make([]string, numClasses)
		for i := range names {
			names[i] = fmt.Sprintf("class_%d", i+1)
		}
	}
	if len(names) != numClasses {
		return nil, errors.Wrapf(fomo.ErrInvalidConfig, "%d class names for %d classes", len(names), numClasses)
	}
	return NewClassSet(names...)
}

// Package tracker gives the people detected in consecutive frames stable identities.
// This file contains methods that handle the label (or name) of a tracked detection.
// If two detections are output with the same label, they are considered the same person.
// Labels are of the format classname_N, where N is the tracker identity.
package tracker

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Label returns the label for a detection of class base with the given identity
func Label(base string, id int) string {
	return strings.ToLower(base) + "_" + strconv.Itoa(id)
}

// ParseLabel splits a label produced by Label back into class name and identity.
// The identity is the last all-digit segment, so class names may contain underscores.
// Anything after the identity (such as a target marker) is ignored.
func ParseLabel(label string) (string, int, error) {
	parts := strings.Split(label, "_")
	for i := len(parts) - 1; i >= 1; i-- {
		if !isDigits(parts[i]) {
			continue
		}
		id, err := strconv.Atoi(parts[i])
		if err != nil {
			return "", 0, errors.Wrapf(err, "unable to parse label %v", label)
		}
		return strings.Join(parts[:i], "_"), id, nil
	}
	return "", 0, errors.Errorf("label %q is not of the form classname_N", label)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

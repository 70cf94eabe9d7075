package tgfs

import (
	"fmt"
	"strings"
)

// reservedPrefixes may not start a directory or file name. A leading dash
// would be read as a flag by the CLI.
var reservedPrefixes = []string{"-"}

// ValidateName checks name against the naming policy shared by directories
// and files: non-empty, no path separator, no NUL, not "." or "..", and no
// reserved leading character.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: name is empty", ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	case strings.ContainsRune(name, '/'):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	case strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q contains a NUL byte", ErrInvalidName, name)
	}
	for _, p := range reservedPrefixes {
		if strings.HasPrefix(name, p) {
			return fmt.Errorf("%w: %q starts with %q", ErrInvalidName, name, p)
		}
	}
	return nil
}

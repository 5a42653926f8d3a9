package rbac

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var (
	segmentKeyPattern    = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	permissionKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)+$`)
)

func validModuleKey(key string) (string, error) {
	key = NormalizeKey(key)
	if !segmentKeyPattern.MatchString(key) {
		return "", fmt.Errorf("%w: module key %q", ErrInvalidKey, key)
	}
	return key, nil
}

func validRoleKey(key string) (string, error) {
	key = NormalizeKey(key)
	if !segmentKeyPattern.MatchString(key) {
		return "", fmt.Errorf("%w: role key %q", ErrInvalidKey, key)
	}
	return key, nil
}

func validPermissionKey(key string) (string, error) {
	key = NormalizeKey(key)
	if !permissionKeyPattern.MatchString(key) {
		return "", fmt.Errorf("%w: permission key %q", ErrInvalidKey, key)
	}
	return key, nil
}

// DisplayNameFromKey turns "quality_technician" into "Quality Technician".
func DisplayNameFromKey(key string) string {
	words := strings.NewReplacer("_", " ", ".", " ").Replace(key)
	return cases.Title(language.English).String(words)
}

func displayNameOr(displayName, key string) string {
	if name := strings.TrimSpace(displayName); name != "" {
		return name
	}
	return DisplayNameFromKey(key)
}

package policy

import "strings"

// matchURL reports whether target (scheme://host/path...) matches pattern.
// Patterns are glob-style: "*" matches one path segment, "**" matches any
// remaining suffix. A bare hostname pattern with no scheme implies https;
// plain http targets never match an implicit-https pattern.
func matchURL(pattern, target string) bool {
	patternScheme, patternRest := splitScheme(pattern)
	targetScheme, targetRest := splitScheme(target)
	if patternScheme == "" {
		patternScheme = "https"
	}
	if patternScheme != targetScheme {
		return false
	}
	return matchSegments(strings.Split(patternRest, "/"), strings.Split(targetRest, "/"))
}

func splitScheme(s string) (scheme, rest string) {
	if i := strings.Index(s, "://"); i >= 0 {
		return s[:i], s[i+3:]
	}
	return "", s
}

// matchSegments compares "/"-delimited segment lists. "*" matches exactly
// one segment; "**" matches the remainder regardless of length (including
// zero).
func matchSegments(pattern, target []string) bool {
	for i, seg := range pattern {
		if seg == "**" {
			return true
		}
		if i >= len(target) {
			return false
		}
		if seg != "*" && seg != target[i] {
			return false
		}
	}
	return len(pattern) == len(target)
}

// matchCommand matches an exec target against a "NAME:ARGGLOB" or bare
// "NAME" pattern. name+args is the space-joined "command + args" string;
// a bare NAME pattern matches any argv for that command.
func matchCommand(pattern, name string, args []string) bool {
	patName, patArgGlob, hasArgGlob := strings.Cut(pattern, ":")
	if patName != "*" && patName != name {
		return false
	}
	if !hasArgGlob {
		return true
	}
	return matchSegments(strings.Fields(patArgGlob), args)
}

// matchFilesystem matches an absolute path against a pattern using the
// same segment semantics as URLs, split on "/".
func matchFilesystem(pattern, path string) bool {
	return matchSegments(strings.Split(strings.Trim(pattern, "/"), "/"), strings.Split(strings.Trim(path, "/"), "/"))
}

// matchSkill matches a skill name against a pattern; skill patterns are
// plain segments (a skill name never itself contains "/").
func matchSkill(pattern, name string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

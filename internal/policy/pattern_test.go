package policy

import "testing"

func TestMatchURLImplicitHTTPS(t *testing.T) {
	if !matchURL("api.example.com/v1/*", "https://api.example.com/v1/users") {
		t.Fatal("expected implicit-https pattern to match an https target")
	}
	if matchURL("api.example.com/v1/*", "http://api.example.com/v1/users") {
		t.Fatal("plain http must not match an implicit-https pattern")
	}
}

func TestMatchURLDoubleStarSuffix(t *testing.T) {
	if !matchURL("https://api.example.com/**", "https://api.example.com/v1/users/42") {
		t.Fatal("** should match any remaining suffix")
	}
	if !matchURL("https://api.example.com/**", "https://api.example.com") {
		t.Fatal("** should match a zero-length suffix")
	}
}

func TestMatchURLSingleStarOneSegment(t *testing.T) {
	if matchURL("https://api.example.com/v1/*", "https://api.example.com/v1/users/42") {
		t.Fatal("* must match exactly one segment, not two")
	}
}

func TestMatchCommandBareNameMatchesAnyArgs(t *testing.T) {
	if !matchCommand("git", "git", []string{"status", "-s"}) {
		t.Fatal("bare command name should match any argv")
	}
	if matchCommand("git", "curl", nil) {
		t.Fatal("command name mismatch should not match")
	}
}

func TestMatchCommandArgGlob(t *testing.T) {
	if !matchCommand("git:status *", "git", []string{"status", "-s"}) {
		t.Fatal("expected arg glob to match")
	}
	if matchCommand("git:push *", "git", []string{"status", "-s"}) {
		t.Fatal("arg glob mismatch should not match")
	}
}

func TestMatchFilesystemSuffix(t *testing.T) {
	if !matchFilesystem("/workspace/**", "/workspace/project/notes.txt") {
		t.Fatal("expected ** suffix to match nested path")
	}
	if matchFilesystem("/workspace/*", "/workspace/project/notes.txt") {
		t.Fatal("single * must not cross a path segment boundary")
	}
}

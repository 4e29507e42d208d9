package types

import (
	"fmt"
	"slices"

	"github.com/dlclark/regexp2"
)

// SecretGroup names the capture group whose text is extracted as the secret.
// Either a group number or a group name; the zero value means group 0
// (the whole match).
type SecretGroup struct {
	Number int
	Name   string
}

// ByName returns a SecretGroup addressing a named capture group.
func ByName(name string) SecretGroup {
	return SecretGroup{Name: name}
}

// ByNumber returns a SecretGroup addressing a positional capture group.
func ByNumber(n int) SecretGroup {
	return SecretGroup{Number: n}
}

func (g SecretGroup) String() string {
	if g.Name != "" {
		return g.Name
	}
	return fmt.Sprintf("%d", g.Number)
}

// Validate checks that the group exists in the compiled pattern.
func (g SecretGroup) Validate(re *regexp2.Regexp) error {
	if g.Name != "" {
		if !slices.Contains(re.GetGroupNames(), g.Name) {
			return fmt.Errorf("pattern has no capture group named %q", g.Name)
		}
		return nil
	}
	if !slices.Contains(re.GetGroupNumbers(), g.Number) {
		return fmt.Errorf("pattern has no capture group %d", g.Number)
	}
	return nil
}

// SecretLocator is a named regex plus metadata identifying a class of secret.
// Locators are created at rule-load time and live for the process.
type SecretLocator struct {
	ID          string
	Name        string
	Pattern     *regexp2.Regexp
	RawPattern  string // pre-compilation pattern string; identity for dedup
	SecretGroup SecretGroup
	Description string
	Confidence  string
	Severity    string
	Tags        []string
}

// Defaults for optional locator metadata.
const (
	NoDescription     = "No description provided."
	UnknownConfidence = "Unknown"
	UnknownSeverity   = "Unknown"
)

// Key returns the locator's dedup identity: the raw pattern string, so that
// logically identical patterns from different rule files collapse.
func (l *SecretLocator) Key() string {
	return l.RawPattern
}

func (l *SecretLocator) String() string {
	return fmt.Sprintf("SecretLocator(id=%s, name=%s, pattern=%s)", l.ID, l.Name, l.RawPattern)
}

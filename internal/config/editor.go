package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
)

const fallbackEditor = "vi"

// FromEditor opens the user's editor on a temp file seeded with
// DefaultConfigTOML and parses whatever they save. Content left empty is an
// error: the user most likely forgot to save.
func FromEditor() (*Config, error) {
	editor := os.Getenv("VISUAL")
	if editor == "" {
		editor = os.Getenv("EDITOR")
	}

	if editor == "" {
		editor = fallbackEditor
	}

	tmp, err := os.CreateTemp("", "booru-dl-*.toml")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp config: %w", err)
	}

	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(DefaultConfigTOML); err != nil {
		tmp.Close()

		return nil, fmt.Errorf("failed to seed temp config: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp config: %w", err)
	}

	cmd := exec.Command(editor, tmp.Name())
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("editor %q failed: %w", editor, err)
	}

	data, err := os.ReadFile(tmp.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to read edited config: %w", err)
	}

	if len(data) == 0 {
		return nil, errors.New("empty config content; maybe you forgot to save in the editor?")
	}

	return Parse(string(data))
}

package secret

import "fmt"

// Source abstracts where a sudo password comes from, letting Resolve be
// tested without a real terminal or sops binary.
type Source struct {
	// Prompt asks the user interactively; nil uses PromptPassword.
	Prompt func(prompt string, args ...interface{}) (string, error)
	// Sops resolves a sops-backed secret; nil uses ResolveSopsSecret.
	Sops func(file, keyPath string) (string, error)
}

func (s Source) prompt(prompt string, args ...interface{}) (string, error) {
	if s.Prompt != nil {
		return s.Prompt(prompt, args...)
	}
	return PromptPassword(prompt, args...)
}

func (s Source) sops(file, keyPath string) (string, error) {
	if s.Sops != nil {
		return s.Sops(file, keyPath)
	}
	return ResolveSopsSecret(file, keyPath)
}

// Resolve mirrors run_deploy's sudo-password branch (property 12: for a
// node/profile whose effective settings set interactiveSudo, the sudo
// password comes from an interactive prompt; when sudoFile+sudoSecret are
// both set, it comes from sops; otherwise no password is resolved and
// DeployDefs.SudoPassword stays nil).
func Resolve(hostname string, interactiveSudo bool, sudoFile, sudoSecret *string, src Source) (*string, error) {
	switch {
	case interactiveSudo:
		pw, err := src.prompt("(sudo for %s) Password: ", hostname)
		if err != nil {
			return nil, err
		}
		return &pw, nil
	case sudoFile != nil && sudoSecret != nil:
		pw, err := src.sops(*sudoFile, *sudoSecret)
		if err != nil {
			return nil, fmt.Errorf("resolving sops sudo secret for %s: %w", hostname, err)
		}
		return &pw, nil
	default:
		return nil, nil
	}
}

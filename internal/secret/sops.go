package secret

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// SopsFileNotFoundError mirrors the original SopsError::SopsFileNotFound:
// the configured secret file doesn't exist on disk.
type SopsFileNotFoundError struct{ Path string }

func (e *SopsFileNotFoundError) Error() string { return fmt.Sprintf("sops file %q not found", e.Path) }

// SopsKeyNotFoundError mirrors SopsError::SopsKeyNotFound: a path segment
// wasn't present in the decrypted document.
type SopsKeyNotFoundError struct{ Key string }

func (e *SopsKeyNotFoundError) Error() string {
	return fmt.Sprintf("did not find %q in sops document", e.Key)
}

// SopsUnexpectedTypeError mirrors SerdeUnexpectedType: a path segment
// resolved to an array, null, or nested type we don't descend into.
type SopsUnexpectedTypeError struct{ Key string }

func (e *SopsUnexpectedTypeError) Error() string {
	return fmt.Sprintf("unexpected value type at %q: arrays and null are not supported", e.Key)
}

// ResolveSopsSecret decrypts file via the sops CLI and walks keyPath
// ("a/b/c"-style nested keys) to the leaf value, stringifying whatever
// scalar it finds (string, bool, number) the way the original CLI does.
func ResolveSopsSecret(file, keyPath string) (string, error) {
	if _, err := os.Stat(file); err != nil {
		if os.IsNotExist(err) {
			return "", &SopsFileNotFoundError{Path: file}
		}
		return "", fmt.Errorf("stat sops file %s: %w", file, err)
	}

	cmd := exec.Command("sops", "--output-type", "json", "-d", file)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("running sops -d %s: %w", file, err)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(out, &doc); err != nil {
		return "", fmt.Errorf("decoding sops output for %s: %w", file, err)
	}

	m := doc
	segments := strings.Split(keyPath, "/")
	for i, seg := range segments {
		v, ok := m[seg]
		if !ok {
			return "", &SopsKeyNotFoundError{Key: seg}
		}
		switch val := v.(type) {
		case string:
			return val, nil
		case bool:
			return fmt.Sprintf("%t", val), nil
		case float64:
			return formatNumber(val), nil
		case map[string]interface{}:
			if i == len(segments)-1 {
				return "", &SopsUnexpectedTypeError{Key: seg}
			}
			m = val
		default:
			return "", &SopsUnexpectedTypeError{Key: seg}
		}
	}
	return "", &SopsKeyNotFoundError{Key: keyPath}
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

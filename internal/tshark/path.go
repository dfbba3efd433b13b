// Package tshark runs the Wireshark command-line analyzer and parses its
// auxiliary outputs.
package tshark

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	apperrors "github.com/jayimu/wireshark-mcp/internal/errors"
)

// EnvPath is the environment variable consulted for the tshark location.
const EnvPath = "TSHARK"

// ResolvePath locates the tshark binary: the explicit path if given, then
// $TSHARK, then PATH, then the default install location of the platform.
func ResolvePath(explicit string) (string, error) {
	if explicit == "" {
		explicit = os.Getenv(EnvPath)
	}
	if explicit == "" {
		explicit = "tshark"
	}
	if filepath.Base(explicit) == explicit {
		if path, err := exec.LookPath(explicit); err == nil {
			return path, nil
		}
	} else if st, err := os.Stat(explicit); err == nil && !st.IsDir() {
		return explicit, nil
	}

	for _, candidate := range defaultLocations() {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", notFound(explicit)
}

func defaultLocations() []string {
	switch runtime.GOOS {
	case "windows":
		var out []string
		for _, env := range []string{"ProgramFiles", "ProgramFiles(x86)"} {
			if dir := os.Getenv(env); dir != "" {
				out = append(out, filepath.Join(dir, "Wireshark", "tshark.exe"))
			}
		}
		return out
	case "darwin":
		return []string{"/Applications/Wireshark.app/Contents/MacOS/tshark"}
	default:
		return []string{"/usr/bin/tshark", "/usr/local/bin/tshark"}
	}
}

func notFound(tried string) error {
	e := apperrors.New(apperrors.KindExternalToolNotFound, "tshark not found (tried %q)", tried)
	switch runtime.GOOS {
	case "windows":
		return e.WithHint("Install Wireshark or set TSHARK to the full path of tshark.exe")
	case "darwin":
		return e.WithHint("Install Wireshark.app or set TSHARK to /Applications/Wireshark.app/Contents/MacOS/tshark")
	default:
		return e.WithHint("Install the tshark package (e.g. apt install tshark) or set TSHARK")
	}
}

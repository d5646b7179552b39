// Package action applies a move/copy/symlink/hardlink/command action to a
// (source, destination) file pair, creating destination parent
// directories first.
package action

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/nilp0inter/monana/internal/config"
)

// permDirectory is the mode used when creating destination directories,
// matching the teacher's own directory-creation permission.
const permDirectory = 0o755

// Apply executes spec against (source, destination), creating the
// destination's parent directory tree first. Command actions substitute
// {source} and {destination} into Command once (not re-expanded) and run
// the result through `sh -c`; a non-zero exit is returned as an error
// carrying the command's stderr.
func Apply(spec config.ActionSpec, source, destination string) error {
	if err := os.MkdirAll(filepath.Dir(destination), permDirectory); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	switch spec.Kind {
	case config.ActionMove:
		return move(source, destination)
	case config.ActionCopy:
		return copyFile(source, destination)
	case config.ActionSymlink:
		return os.Symlink(source, destination)
	case config.ActionHardlink:
		return os.Link(source, destination)
	case config.ActionCommand:
		return runCommand(spec.Command, source, destination)
	default:
		return fmt.Errorf("unknown action kind %v", spec.Kind)
	}
}

// move renames source to destination, falling back to copy-then-delete
// when the two paths live on different filesystems (EXDEV).
func move(source, destination string) error {
	err := os.Rename(source, destination)
	if err == nil {
		return nil
	}

	var linkErr *os.LinkError
	if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
		if cerr := copyFile(source, destination); cerr != nil {
			return fmt.Errorf("cross-device move: %w", cerr)
		}
		return os.Remove(source)
	}

	return fmt.Errorf("rename: %w", err)
}

func copyFile(source, destination string) error {
	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(destination)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy contents: %w", err)
	}
	return out.Close()
}

func runCommand(template, source, destination string) error {
	r := strings.NewReplacer("{source}", source, "{destination}", destination)
	line := r.Replace(template)

	cmd := exec.Command("sh", "-c", line)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command %q failed: %w: %s", line, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

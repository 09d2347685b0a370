package orchestrator

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"modkit/services/mods"
)

// DeployLocal packs d when its content changed and copies the Windows build into the local test
// mods directory, replacing any previous copy. A failed pack clears the cached fingerprint so the
// next attempt rebuilds from scratch.
func (o *Orchestrator) DeployLocal(ctx context.Context, d *mods.Descriptor, testModsDir string) (string, error) {
	if testModsDir == "" {
		return "", &mods.ValidationError{Field: "test_mods_dir", Message: "No local test mods directory configured!"}
	}
	if err := o.PackMod(ctx, d, true); err != nil {
		d.ClearFingerprint()
		return "", err
	}
	src := d.BuildPath(mods.PlatformWindows)
	if src == "" {
		return "", &mods.ValidationError{Field: "build_path", Message: "The Windows build path is missing!"}
	}
	dest := filepath.Join(testModsDir, string(d.Type)+"s", mods.SanitizeName(d.Name))
	if err := os.RemoveAll(dest); err != nil {
		return "", fmt.Errorf("clear %s: %w", dest, err)
	}
	if err := copyDir(src, dest); err != nil {
		return "", err
	}
	o.logger.Info().Str("mod", d.Name).Str("path", dest).Msg("mod copied to local test directory")
	return dest, nil
}

func copyDir(src, dest string) error {
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)
		if entry.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !entry.Type().IsRegular() {
			return nil
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

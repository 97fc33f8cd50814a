package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ChecksumManifestName is the file at a staged package's root that lists
// the digests VerifyTree checks after extraction.
const ChecksumManifestName = "checksums.md5"

// ExtractTarGz unpacks src (a .tar.gz package) into a freshly created
// directory under parentDir, returning the staged root. Entries are
// resolved with SafeJoin so a crafted archive can't write outside the
// staged root; directory modes and regular file modes from the archive are
// preserved, symlinks and other non-regular entries are rejected.
func ExtractTarGz(src, parentDir string) (string, error) {
	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("archive: open %s: %w", src, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("archive: gzip %s: %w", src, err)
	}
	defer gz.Close()

	stagedRoot, err := os.MkdirTemp(parentDir, "staged-*")
	if err != nil {
		return "", fmt.Errorf("archive: mkdir staging dir: %w", err)
	}

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			os.RemoveAll(stagedRoot)
			return "", fmt.Errorf("archive: read tar entry: %w", err)
		}

		target, err := SafeJoin(stagedRoot, hdr.Name)
		if err != nil {
			os.RemoveAll(stagedRoot)
			return "", err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)|0o700); err != nil {
				os.RemoveAll(stagedRoot)
				return "", fmt.Errorf("archive: mkdir %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
				os.RemoveAll(stagedRoot)
				return "", fmt.Errorf("archive: mkdir parent of %s: %w", target, err)
			}
			if err := extractRegularFile(tr, target, os.FileMode(hdr.Mode)); err != nil {
				os.RemoveAll(stagedRoot)
				return "", err
			}
		default:
			os.RemoveAll(stagedRoot)
			return "", fmt.Errorf("archive: unsupported tar entry type %d for %q", hdr.Typeflag, hdr.Name)
		}
	}

	return stagedRoot, nil
}

func extractRegularFile(r io.Reader, target string, mode os.FileMode) error {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode|0o600)
	if err != nil {
		return fmt.Errorf("archive: create %s: %w", target, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("archive: write %s: %w", target, err)
	}
	return nil
}

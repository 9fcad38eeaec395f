// Package zip streams stored job artifacts as a single archive.
package zip

import (
	"archive/zip"
	"fmt"
	"io"
	"time"
)

// Entry is one archive member. Open is called only when the entry is written.
type Entry struct {
	Name     string
	Modified time.Time
	Open     func() (io.ReadCloser, error)
}

// Write streams entries into a zip archive on w. Entries are stored without
// compression since media files are already compressed.
func Write(w io.Writer, entries []Entry) error {
	zw := zip.NewWriter(w)
	for _, entry := range entries {
		if err := writeEntry(zw, entry); err != nil {
			_ = zw.Close()
			return err
		}
	}
	return zw.Close()
}

func writeEntry(zw *zip.Writer, entry Entry) error {
	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("zip: open %s: %w", entry.Name, err)
	}
	defer func() {
		_ = src.Close()
	}()

	dst, err := zw.CreateHeader(&zip.FileHeader{
		Name:     entry.Name,
		Method:   zip.Store,
		Modified: entry.Modified,
	})
	if err != nil {
		return fmt.Errorf("zip: create %s: %w", entry.Name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("zip: write %s: %w", entry.Name, err)
	}
	return nil
}

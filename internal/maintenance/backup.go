package maintenance

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"
)

// Backup runs pg_dump into a timestamped, single-file archive under dir and
// prunes older archives beyond retentionCount (spec §4.9 scheduled-backup,
// §6 "atomic single-file dumps with a retention count"). No Postgres-backup
// library appears anywhere in the retrieved pack, so this shells out to the
// pg_dump binary via os/exec — the same approach the pack's own tooling
// commands use for external-process invocation.
func Backup(ctx context.Context, databaseURL, dir string, retentionCount int, at time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}

	name := fmt.Sprintf("engine-%s.dump", at.UTC().Format("20060102T150405Z"))
	path := filepath.Join(dir, name)

	cmd := exec.CommandContext(ctx, "pg_dump", "--format=custom", "--file="+path, databaseURL)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("pg_dump: %w: %s", err, string(output))
	}

	if err := pruneBackups(dir, retentionCount); err != nil {
		return path, fmt.Errorf("prune backups: %w", err)
	}
	return path, nil
}

func pruneBackups(dir string, retentionCount int) error {
	if retentionCount <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".dump" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names) // timestamp-prefixed names sort chronologically

	if len(names) <= retentionCount {
		return nil
	}
	for _, name := range names[:len(names)-retentionCount] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

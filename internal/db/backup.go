package db

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const backupPrefix = "autobackup_"

// Backup снимает дамп базы в dir: pg_dump -Fc для postgres, копия файла для sqlite.
// Возвращает путь к созданному файлу.
func Backup(ctx context.Context, dsn, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	stamp := time.Now().Format("20060102_150405")
	_, isSQLite, err := dialector(dsn)
	if err != nil {
		return "", err
	}
	if !isSQLite {
		filename := filepath.Join(dir, backupPrefix+stamp+".dump")
		ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		out, err := exec.CommandContext(ctx, "pg_dump", dsn, "-Fc", "-f", filename).CombinedOutput()
		if err != nil {
			return "", fmt.Errorf("pg_dump: %w: %s", err, strings.TrimSpace(string(out)))
		}
		return filename, nil
	}

	src := sqlitePath(dsn)
	filename := filepath.Join(dir, backupPrefix+stamp+".db")
	if err := copyFile(src, filename); err != nil {
		return "", fmt.Errorf("copy sqlite database: %w", err)
	}
	return filename, nil
}

// RestoreDatabase восстанавливает postgres из дампа
func RestoreDatabase(ctx context.Context, filename, dsn string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	out, err := exec.CommandContext(ctx, "pg_restore", "-d", dsn, filename).CombinedOutput()
	if err != nil {
		return fmt.Errorf("pg_restore: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// CleanOldBackups удаляет дампы старше maxAge
func CleanOldBackups(dir string, maxAge time.Duration) (int, error) {
	files, err := filepath.Glob(filepath.Join(dir, backupPrefix+"*"))
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) && os.Remove(f) == nil {
			removed++
		}
	}
	return removed, nil
}

func sqlitePath(dsn string) string {
	p := strings.TrimPrefix(strings.TrimPrefix(dsn, "sqlite://"), "sqlite:")
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	return strings.TrimPrefix(p, "file:")
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

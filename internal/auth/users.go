package auth

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"pagetagger/internal/storage/fs"
)

// LoadFile reads a "user:argon2id-hash" file. Blank lines and # comments
// are skipped.
func LoadFile(path string) (map[string]*Argon2idHash, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open auth file: %w", err)
	}
	defer f.Close()

	users := make(map[string]*Argon2idHash)
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, hash, ok := strings.Cut(line, ":")
		user = strings.TrimSpace(user)
		hash = strings.TrimSpace(hash)
		if !ok || user == "" || hash == "" {
			return nil, fmt.Errorf("invalid auth line %d: expected user:hash", lineNum)
		}
		if _, exists := users[user]; exists {
			return nil, fmt.Errorf("duplicate user %q in auth file", user)
		}
		parsed, err := ParseArgon2idHash(hash)
		if err != nil {
			return nil, fmt.Errorf("invalid auth line %d: %w", lineNum, err)
		}
		users[user] = parsed
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read auth file: %w", err)
	}
	return users, nil
}

// UpsertFile sets the hash for user, keeping other lines and comments.
// It reports whether the user already existed.
func UpsertFile(path, user, hash string) (bool, error) {
	if user == "" || strings.ContainsAny(user, ":\n") {
		return false, fmt.Errorf("invalid user name %q", user)
	}
	var lines []string
	updated := false
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("read auth file: %w", err)
	}
	if len(data) > 0 {
		for _, raw := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			name, _, ok := strings.Cut(strings.TrimSpace(raw), ":")
			if ok && strings.TrimSpace(name) == user {
				lines = append(lines, user+":"+hash)
				updated = true
				continue
			}
			lines = append(lines, raw)
		}
	}
	if !updated {
		lines = append(lines, user+":"+hash)
	}
	content := strings.Join(lines, "\n") + "\n"
	if err := fs.WriteFileAtomic(path, []byte(content), 0o600); err != nil {
		return updated, fmt.Errorf("write auth file: %w", err)
	}
	return updated, nil
}

package config

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"

	gitconfig "github.com/go-git/go-git/v5/plumbing/format/config"
)

// Project describes what was found by walking up from the working
// directory.
type Project struct {
	// Root is the project root, or "" when none was found.
	Root string
	// ConfigFile is the nearest .buckleconfig.* file, or "".
	ConfigFile string
	// VersionFile is the .buckversion in Root, or "".
	VersionFile string
}

// Discover walks from dir towards the filesystem root.
//
// The project root is the nearest ancestor containing .buckroot, otherwise
// the furthest ancestor containing .buckconfig, otherwise the directory of
// the project file.
func Discover(dir string) (Project, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Project{}, err
	}

	var p Project
	var buckrootDir, furthestBuckconfig string

	for current := abs; ; {
		if p.ConfigFile == "" {
			for _, name := range projectFileNames {
				candidate := filepath.Join(current, name)
				if isFile(candidate) {
					p.ConfigFile = candidate
					break
				}
			}
		}
		if buckrootDir == "" && exists(filepath.Join(current, BuckRootFile)) {
			buckrootDir = current
		}
		if isFile(filepath.Join(current, BuckConfigFile)) {
			furthestBuckconfig = current
		}

		parent := filepath.Dir(current)
		if parent == current {
			break
		}
		current = parent
	}

	switch {
	case buckrootDir != "":
		p.Root = buckrootDir
	case furthestBuckconfig != "":
		p.Root = furthestBuckconfig
	case p.ConfigFile != "":
		p.Root = filepath.Dir(p.ConfigFile)
	}

	if p.Root != "" {
		if candidate := filepath.Join(p.Root, VersionFile); isFile(candidate) {
			p.VersionFile = candidate
		}
	}
	return p, nil
}

// ReadVersionFile returns the first non-empty, non-comment line of a
// .buckversion file.
func ReadVersionFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &ConfigError{Source: path, Message: "cannot read version file", Err: err}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line, nil
	}
	if err := scanner.Err(); err != nil {
		return "", &ConfigError{Source: path, Message: "cannot read version file", Err: err}
	}
	return "", &ConfigError{Source: path, Message: "version file is empty"}
}

// cellSections name the .buckconfig sections that map cell names to paths.
var cellSections = []string{"cells", "repositories"}

// PreludePath returns the prelude cell path declared in the .buckconfig at
// root, resolved against root. It returns "" when there is no such cell,
// when the prelude is bundled with the tool, or when the file cannot be
// parsed.
func PreludePath(root string) string {
	if root == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(root, BuckConfigFile))
	if err != nil {
		return ""
	}

	cfg := gitconfig.New()
	if err := gitconfig.NewDecoder(strings.NewReader(cellLines(string(data)))).Decode(cfg); err != nil {
		return ""
	}

	for _, name := range cellSections {
		if !cfg.HasSection(name) {
			continue
		}
		value := strings.TrimSpace(cfg.Section(name).Option("prelude"))
		if value == "" {
			continue
		}
		if value == "bundled" || strings.HasPrefix(value, "bundled") {
			return ""
		}
		if filepath.IsAbs(value) {
			return filepath.Clean(value)
		}
		return filepath.Join(root, filepath.FromSlash(value))
	}
	return ""
}

// cellLines keeps only the cell-mapping sections of a .buckconfig. The rest
// of the file may use syntax (underscored keys, includes) the git config
// decoder rejects.
func cellLines(data string) string {
	var b strings.Builder
	keep := false
	for _, line := range strings.Split(data, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
			section := strings.ToLower(strings.TrimSpace(trimmed[1 : len(trimmed)-1]))
			keep = false
			for _, name := range cellSections {
				if section == name {
					keep = true
				}
			}
		}
		if !keep {
			continue
		}
		if key, _, found := strings.Cut(trimmed, "="); found && !isPlainKey(strings.TrimSpace(key)) {
			continue
		}
		b.WriteString(trimmed)
		b.WriteByte('\n')
	}
	return b.String()
}

// isPlainKey reports whether key is a valid git config variable name.
func isPlainKey(key string) bool {
	if key == "" {
		return false
	}
	for i, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '-'):
		default:
			return false
		}
	}
	return true
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil || !errors.Is(err, os.ErrNotExist)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

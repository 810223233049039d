package utils

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

const EnvFileName = ".env"

func FindProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

// EnvCandidates lists the .env locations LoadEnv tries, in order: the working
// directory, the directory of configPath, then the enclosing Go module root.
func EnvCandidates(configPath string) []string {
	var dirs []string
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, wd)
	}
	if configPath != "" {
		if abs, err := filepath.Abs(configPath); err == nil {
			dirs = append(dirs, filepath.Dir(abs))
		}
	}
	if root, err := FindProjectRoot(); err == nil {
		dirs = append(dirs, root)
	}

	seen := make(map[string]bool, len(dirs))
	out := make([]string, 0, len(dirs))
	for _, d := range dirs {
		p := filepath.Join(d, EnvFileName)
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// LoadEnv loads the first existing .env from EnvCandidates and returns its path.
// Variables already present in the environment are not overridden. When no file
// exists the error is os.ErrNotExist.
func LoadEnv(configPath string) (string, error) {
	for _, p := range EnvCandidates(configPath) {
		if !FileExists(p) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return p, err
		}
		return p, nil
	}
	return "", os.ErrNotExist
}

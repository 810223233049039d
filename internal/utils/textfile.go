package utils

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ReadPathList reads a list of file paths, one per line, from path or from stdin when
// path is "-". Blank lines and lines starting with # are skipped and every path is
// cleaned, so "./src/a.rs" and "src/a.rs" compare equal.
func ReadPathList(path string) ([]string, error) {
	if path == "-" {
		return ParsePathList(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParsePathList(f)
}

func ParsePathList(r io.Reader) ([]string, error) {
	var paths []string
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		paths = append(paths, filepath.Clean(line))
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return paths, nil
}

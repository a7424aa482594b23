package util

import (
	"os"
	"path/filepath"
)

const DataDirName = "data"

// FindFilePath looks for filename in the data directory next to the
// executable, then in the working directory
func FindFilePath(filename string) (string, bool) {
	if filepath.IsAbs(filename) {
		_, err := os.Stat(filename)
		return filename, err == nil
	}

	for _, dir := range dataDirs() {
		path := filepath.Join(dir, filename)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// DataFilePath returns the existing path of filename, or where it should be
// created: the first data directory that exists, else ./data
func DataFilePath(filename string) string {
	if path, ok := FindFilePath(filename); ok {
		return path
	}
	if filepath.IsAbs(filename) {
		return filename
	}

	for _, dir := range dataDirs() {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return filepath.Join(dir, filename)
		}
	}
	return filepath.Join(DataDirName, filename)
}

func dataDirs() []string {
	var dirs []string
	if exe, err := os.Executable(); err == nil {
		dirs = append(dirs, filepath.Join(filepath.Dir(exe), DataDirName))
	}
	if cwd, err := os.Getwd(); err == nil {
		dirs = append(dirs, filepath.Join(cwd, DataDirName))
	}
	return dirs
}

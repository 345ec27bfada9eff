package io

import "os"

func truncateFile(path string, size int64) error {
	return os.Truncate(path, size)
}

func readFileHelper(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

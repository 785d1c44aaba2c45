// Package config parses the line-oriented KEY=VALUE configuration
// files both daemons read. Blank lines and '#' comments are skipped;
// keys may repeat (the server's CAMERA entries rely on that).
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Pair is one KEY=VALUE line, in file order.
type Pair struct {
	Key   string
	Value string
}

// ParseFile reads every KEY=VALUE pair from path.
func ParseFile(path string) ([]Pair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	var pairs []Pair
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		if !ok {
			return nil, fmt.Errorf("config: %s:%d: missing '=' in %q", path, line, text)
		}
		pairs = append(pairs, Pair{
			Key:   strings.TrimSpace(key),
			Value: strings.TrimSpace(value),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return pairs, nil
}

// lookup returns the last value for key and whether it was present.
func lookup(pairs []Pair, key string) (string, bool) {
	var v string
	var found bool
	for _, p := range pairs {
		if p.Key == key {
			v, found = p.Value, true
		}
	}
	return v, found
}

func getString(pairs []Pair, key string) (string, error) {
	v, ok := lookup(pairs, key)
	if !ok {
		return "", fmt.Errorf("config: missing key %s", key)
	}
	return v, nil
}

func getInt(pairs []Pair, key string) (int, error) {
	v, err := getString(pairs, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getInt64(pairs []Pair, key string) (int64, error) {
	v, err := getString(pairs, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

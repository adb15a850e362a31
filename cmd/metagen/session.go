package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"metagen/server/internal/genclient"
)

// tokenPath is where login keeps the access token between invocations.
func tokenPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "metagen", "token"), nil
}

func saveToken(token string) error {
	p, err := tokenPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(token+"\n"), 0o600)
}

func loadToken() (string, error) {
	if tokenFlag != "" {
		return tokenFlag, nil
	}
	p, err := tokenPath()
	if err != nil {
		return "", err
	}
	raw, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("not logged in: run `metagen login` first")
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func authedClient() (*genclient.Client, error) {
	token, err := loadToken()
	if err != nil {
		return nil, err
	}
	return genclient.New(serverFlag, genclient.WithToken(token)), nil
}

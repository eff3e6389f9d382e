package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"audibridge/internal/audible"
	"audibridge/internal/config"
)

// readCredential loads a credential JSON document from path, or from stdin
// when path is "-".
func readCredential(cmd *cobra.Command, path string) (audible.Credential, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return audible.Credential{}, errors.New("--auth is required (path to a credential JSON file, or - for stdin)")
	}
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		expanded, expandErr := config.ExpandPath(path)
		if expandErr != nil {
			return audible.Credential{}, expandErr
		}
		data, err = os.ReadFile(expanded)
	}
	if err != nil {
		return audible.Credential{}, fmt.Errorf("read credential: %w", err)
	}
	var cred audible.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return audible.Credential{}, fmt.Errorf("parse credential: %w", err)
	}
	return cred, nil
}

// emitCredential writes cred to path with owner-only permissions, or to
// stdout when path is empty. The file is replaced atomically.
func emitCredential(cmd *cobra.Command, path string, cred audible.Credential) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return writeJSON(cmd, cred)
	}
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cred, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential: %w", err)
	}
	dir := filepath.Dir(expanded)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credential directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".credential-*")
	if err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write credential: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	if err := os.Rename(tmp.Name(), expanded); err != nil {
		return fmt.Errorf("write credential: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Credential written to %s\n", expanded)
	return nil
}

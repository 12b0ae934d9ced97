package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/charmbracelet/huh"

	"github.com/gitdeck/gitdeck/internal/ui"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func short(id string, n int) string {
	if len(id) > n {
		return id[:n]
	}
	return id
}

var errNotInteractive = errors.New("input required but the terminal is not interactive")

// promptSecret asks for a value without echoing it
func promptSecret(title string) (string, error) {
	if !ui.IsInteractive() {
		return "", errNotInteractive
	}
	var value string
	err := huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Value(&value).
		Run()
	return value, err
}

// promptText asks for a line of text, starting from value
func promptText(title, value string) (string, error) {
	if !ui.IsInteractive() {
		return "", errNotInteractive
	}
	err := huh.NewInput().
		Title(title).
		Value(&value).
		Run()
	return value, err
}

// confirm asks a yes/no question. Non-interactive sessions answer no.
func confirm(title string) (bool, error) {
	if !ui.IsInteractive() {
		return false, nil
	}
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	return ok, err
}

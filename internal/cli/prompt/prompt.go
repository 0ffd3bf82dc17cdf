// Package prompt wraps the interactive terminal prompts used by the
// init command.
package prompt

import (
	"errors"
	"strings"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user aborts a prompt with Ctrl+C.
var ErrAborted = errors.New("aborted")

func wrapError(err error) error {
	if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
		return ErrAborted
	}
	return err
}

// Input asks for a line of text, offering a default.
func Input(label, defaultValue string) (string, error) {
	p := promptui.Prompt{
		Label:   label,
		Default: defaultValue,
	}
	result, err := p.Run()
	if err != nil {
		return "", wrapError(err)
	}
	return result, nil
}

// Password asks for a secret without echoing it.
func Password(label string) (string, error) {
	p := promptui.Prompt{
		Label: label,
		Mask:  '*',
	}
	result, err := p.Run()
	if err != nil {
		return "", wrapError(err)
	}
	return result, nil
}

// Confirm asks a yes/no question.
func Confirm(label string, defaultYes bool) (bool, error) {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}
	p := promptui.Prompt{
		Label:     label + " [" + hint + "]",
		IsConfirm: true,
	}
	result, err := p.Run()
	if err != nil {
		if errors.Is(err, promptui.ErrAbort) {
			// Plain Enter keeps the default; an explicit "n" declines.
			return result == "" && defaultYes, nil
		}
		return false, wrapError(err)
	}
	answer := strings.ToLower(result)
	return answer == "y" || answer == "yes", nil
}

// Select asks the user to pick one of the given items.
func Select(label string, items []string) (string, error) {
	p := promptui.Select{
		Label: label,
		Items: items,
	}
	_, result, err := p.Run()
	if err != nil {
		return "", wrapError(err)
	}
	return result, nil
}

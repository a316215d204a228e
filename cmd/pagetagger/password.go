package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pagetagger/internal/auth"
)

func newHashPasswordCommand(ctx *commandContext) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "hash-password <user>",
		Short: "Add or update a user in the basic auth file",
		Long: "Prompts for a password and stores its argon2id hash for user in the auth file.\n" +
			"When stdin is not a terminal the password is read from its first line.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user := strings.TrimSpace(args[0])
			if user == "" {
				return errors.New("username must not be empty")
			}
			if strings.Contains(user, ":") {
				return errors.New("username must not contain ':'")
			}
			path := file
			if path == "" {
				path = ctx.configValue().AuthFile
			}
			if path == "" {
				return errors.New("no auth file: pass --file or set PAGETAGGER_AUTH_FILE")
			}

			stderr := cmd.ErrOrStderr()
			password, err := readPassword(cmd.InOrStdin(), stderr)
			if err != nil {
				return err
			}
			if password == "" {
				return errors.New("password must not be empty")
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			existed, err := auth.UpsertFile(path, user, hash)
			if err != nil {
				return err
			}
			verb := "added"
			if existed {
				verb = "updated"
			}
			fmt.Fprintf(stderr, "%s %s in %s\n", verb, user, path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Auth file (default $PAGETAGGER_AUTH_FILE)")
	return cmd
}

func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		pass, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		fmt.Fprint(prompt, "Confirm: ")
		confirm, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		if string(pass) != string(confirm) {
			return "", errors.New("passwords do not match")
		}
		return strings.TrimSpace(string(pass)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}

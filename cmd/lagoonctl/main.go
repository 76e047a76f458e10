// Copyright 2026 The Lagoon Authors
// SPDX-License-Identifier: Apache-2.0

// lagoonctl drives the session core from the command line: sign in
// and out, inspect session state, change the password, and export the
// credential vault for escrow.
package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/lagoon-social/lagoon-go/bootstrap"
	"github.com/lagoon-social/lagoon-go/lib/secret"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if len(os.Args) < 2 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}
	switch os.Args[1] {
	case "login":
		return runLogin(os.Args[2:])
	case "logout":
		return runLogout(os.Args[2:])
	case "status":
		return runStatus(os.Args[2:])
	case "check":
		return runCheck(os.Args[2:])
	case "passwd":
		return runPasswd(os.Args[2:])
	case "delete-account":
		return runDeleteAccount(os.Args[2:])
	case "push-token":
		return runPushToken(os.Args[2:])
	case "vault-export":
		return runVaultExport(os.Args[2:])
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", os.Args[1])
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: lagoonctl <subcommand> [flags]

Subcommands:
  login           Sign in with email and password
  logout          Sign out and clear local credentials
  status          Show session state and cached profile
  check           Run a (debounced) session check
  passwd          Change the account password
  delete-account  Delete the account permanently
  push-token      Store the push-notification token
  vault-export    Export the credential vault for escrow

Config comes from --config, $LAGOON_CONFIG, or LAGOON_* variables.
Run 'lagoonctl <subcommand> --help' for subcommand flags.
`)
}

// newFlagSet gives every subcommand the shared --config flag.
func newFlagSet(name string) (*pflag.FlagSet, *string) {
	flagSet := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configPath := flagSet.String("config", "", "path to config YAML (default: $LAGOON_CONFIG)")
	return flagSet, configPath
}

func newEnvironment(ctx context.Context, configPath string) (*bootstrap.Environment, error) {
	cfg, err := bootstrap.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return bootstrap.New(ctx, cfg)
}

// readPassword reads a password from the given file, or prompts on
// the terminal when path is empty or "-". The trailing newline is
// stripped either way.
func readPassword(prompt, path string) (*secret.Buffer, error) {
	if path != "" && path != "-" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading password file: %w", err)
		}
		trimmed := bytes.TrimSpace(raw)
		buffer, err := secret.NewFromBytes(trimmed)
		zero(raw)
		return buffer, err
	}
	fmt.Fprintf(os.Stderr, "%s: ", prompt)
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	buffer, err := secret.NewFromBytes(bytes.TrimSpace(raw))
	zero(raw)
	return buffer, err
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Minute)
}

func runLogin(args []string) error {
	flagSet, configPath := newFlagSet("login")
	passwordFile := flagSet.String("password-file", "", "path to password file, or - to prompt (default: prompt)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: lagoonctl login <email> [flags]")
	}
	email := flagSet.Arg(0)

	password, err := readPassword("Password", *passwordFile)
	if err != nil {
		return err
	}
	defer password.Close()

	ctx, cancel := commandContext()
	defer cancel()
	environment, err := newEnvironment(ctx, *configPath)
	if err != nil {
		return err
	}
	defer environment.Close()

	if err := environment.Auth.SignIn(ctx, email, password); err != nil {
		return err
	}
	if environment.Auth.IsProfileIncomplete() {
		fmt.Println("signed in; profile is incomplete — finish onboarding in the app")
		return nil
	}
	profile := environment.Auth.Profile()
	fmt.Printf("signed in as %s (%s)\n", profile.DisplayName, profile.Email)
	return nil
}

func runLogout(args []string) error {
	flagSet, configPath := newFlagSet("logout")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()
	environment, err := newEnvironment(ctx, *configPath)
	if err != nil {
		return err
	}
	defer environment.Close()

	if err := environment.Auth.SignOut(ctx); err != nil {
		return err
	}
	fmt.Println("signed out")
	return nil
}

func runStatus(args []string) error {
	flagSet, configPath := newFlagSet("status")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()
	environment, err := newEnvironment(ctx, *configPath)
	if err != nil {
		return err
	}
	defer environment.Close()

	if err := environment.Initialize(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: session validation failed: %v\n", err)
	}
	orchestrator := environment.Auth
	fmt.Printf("state:              %s\n", orchestrator.State())
	fmt.Printf("initialized:        %t\n", orchestrator.IsInitialized())
	fmt.Printf("authenticated:      %t\n", orchestrator.IsAuthenticated())
	fmt.Printf("profile incomplete: %t\n", orchestrator.IsProfileIncomplete())
	fmt.Printf("device id:          %s\n", environment.DeviceID)
	if profile := orchestrator.Profile(); profile != nil {
		fmt.Printf("user:               %s (%s)\n", profile.DisplayName, profile.Email)
	}
	return nil
}

func runCheck(args []string) error {
	flagSet, configPath := newFlagSet("check")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()
	environment, err := newEnvironment(ctx, *configPath)
	if err != nil {
		return err
	}
	defer environment.Close()

	if err := environment.Initialize(ctx); err != nil {
		return err
	}
	authenticated, err := environment.Auth.CheckSessionIfNeeded(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("authenticated: %t\n", authenticated)
	return nil
}

func runPasswd(args []string) error {
	flagSet, configPath := newFlagSet("passwd")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	current, err := readPassword("Current password", "")
	if err != nil {
		return err
	}
	defer current.Close()
	next, err := readPassword("New password", "")
	if err != nil {
		return err
	}
	defer next.Close()

	ctx, cancel := commandContext()
	defer cancel()
	environment, err := newEnvironment(ctx, *configPath)
	if err != nil {
		return err
	}
	defer environment.Close()

	if err := environment.Auth.UpdatePassword(ctx, current, next); err != nil {
		return err
	}
	fmt.Println("password changed; sign in again")
	return nil
}

func runDeleteAccount(args []string) error {
	flagSet, configPath := newFlagSet("delete-account")
	confirmed := flagSet.Bool("yes", false, "skip the confirmation prompt")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if !*confirmed {
		fmt.Fprint(os.Stderr, "This permanently deletes the account. Type 'delete' to continue: ")
		var answer string
		fmt.Fscanln(os.Stdin, &answer)
		if answer != "delete" {
			return fmt.Errorf("aborted")
		}
	}
	password, err := readPassword("Password", "")
	if err != nil {
		return err
	}
	defer password.Close()

	ctx, cancel := commandContext()
	defer cancel()
	environment, err := newEnvironment(ctx, *configPath)
	if err != nil {
		return err
	}
	defer environment.Close()

	if err := environment.Auth.DeleteAccount(ctx, password); err != nil {
		return err
	}
	fmt.Println("account deleted")
	return nil
}

func runPushToken(args []string) error {
	flagSet, configPath := newFlagSet("push-token")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if flagSet.NArg() != 1 {
		return fmt.Errorf("usage: lagoonctl push-token <token> [flags]")
	}
	ctx, cancel := commandContext()
	defer cancel()
	environment, err := newEnvironment(ctx, *configPath)
	if err != nil {
		return err
	}
	defer environment.Close()

	if err := environment.Store.SetPushToken(ctx, flagSet.Arg(0)); err != nil {
		return err
	}
	fmt.Println("push token stored")
	return nil
}

func runVaultExport(args []string) error {
	flagSet, configPath := newFlagSet("vault-export")
	recipients := flagSet.StringArray("recipient", nil, "age recipient public key (repeatable)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if len(*recipients) == 0 {
		return fmt.Errorf("at least one --recipient is required")
	}
	ctx, cancel := commandContext()
	defer cancel()
	environment, err := newEnvironment(ctx, *configPath)
	if err != nil {
		return err
	}
	defer environment.Close()

	bundle, err := environment.Vault.Export(*recipients)
	if err != nil {
		return err
	}
	fmt.Println(bundle)
	return nil
}

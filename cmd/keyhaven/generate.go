package main

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"os/exec"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/keyhaven/keyhaven/pkg/activity"
	"github.com/keyhaven/keyhaven/pkg/store"
)

const (
	charsetLowercase = "abcdefghijklmnopqrstuvwxyz"
	charsetUppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	charsetDigits    = "0123456789"
	charsetSymbols   = "!@#$%^&*()_+-=[]{}|;:,.<>?"

	minGenerateLength     = 8
	maxGenerateLength     = 256
	defaultGenerateLength = 24
	maxGenerateCount      = 100
)

var (
	generateLength      int
	generateCount       int
	generateNoSymbols   bool
	generateNoNumbers   bool
	generateNoUppercase bool
	generateNoLowercase bool
	generateExclude     string
	generateCopy        bool
	generateSaveTitle   string
	generateUsername    string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate random passwords",
	Long: `Generates cryptographically random passwords.

Examples:
  # One 24-character password
  keyhaven generate

  # 32 characters, no symbols, skipping ambiguous characters
  keyhaven generate -l 32 --no-symbols --exclude "0O1lI"

  # Generate and store directly as a credential
  keyhaven generate --save "GitHub" --username octocat`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateGenerateFlags(); err != nil {
			return err
		}
		charset, err := buildCharset()
		if err != nil {
			return err
		}

		passwords := make([]string, generateCount)
		for i := range passwords {
			passwords[i], err = randomPassword(charset, generateLength)
			if err != nil {
				return err
			}
		}

		if generateSaveTitle != "" {
			c := &store.Credential{
				Title:    generateSaveTitle,
				Username: generateUsername,
				Password: passwords[0],
			}
			if err := credentials.Save(c); err != nil {
				return err
			}
			recordActivity(activity.OpCredentialAdd, c.Title, activity.ResultSuccess, "generated")
			fmt.Printf("Saved credential %q (id %d)\n", c.Title, c.ID)
			return nil
		}

		for _, p := range passwords {
			fmt.Println(p)
		}

		if generateCopy {
			if err := copyToClipboard(passwords[0]); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to copy to clipboard: %v\n", err)
			} else {
				fmt.Fprintln(cmd.ErrOrStderr(), "Password copied to clipboard")
			}
		}
		return nil
	},
}

func validateGenerateFlags() error {
	if generateLength < minGenerateLength || generateLength > maxGenerateLength {
		return fmt.Errorf("length must be between %d and %d", minGenerateLength, maxGenerateLength)
	}
	if generateCount < 1 || generateCount > maxGenerateCount {
		return fmt.Errorf("count must be between 1 and %d", maxGenerateCount)
	}
	if generateSaveTitle != "" && generateUsername == "" {
		return fmt.Errorf("--save requires --username")
	}
	return nil
}

// buildCharset assembles the candidate characters from the flags.
func buildCharset() (string, error) {
	var b strings.Builder
	if !generateNoLowercase {
		b.WriteString(charsetLowercase)
	}
	if !generateNoUppercase {
		b.WriteString(charsetUppercase)
	}
	if !generateNoNumbers {
		b.WriteString(charsetDigits)
	}
	if !generateNoSymbols {
		b.WriteString(charsetSymbols)
	}

	charset := b.String()
	for _, c := range generateExclude {
		charset = strings.ReplaceAll(charset, string(c), "")
	}
	if charset == "" {
		return "", fmt.Errorf("character set is empty, enable at least one character type")
	}
	return charset, nil
}

func randomPassword(charset string, length int) (string, error) {
	max := big.NewInt(int64(len(charset)))
	out := make([]byte, length)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		out[i] = charset[idx.Int64()]
	}
	return string(out), nil
}

// copyToClipboard pipes text into the platform clipboard tool.
func copyToClipboard(text string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("pbcopy")
	case "linux":
		if _, err := exec.LookPath("xclip"); err == nil {
			cmd = exec.Command("xclip", "-selection", "clipboard")
		} else if _, err := exec.LookPath("xsel"); err == nil {
			cmd = exec.Command("xsel", "--clipboard", "--input")
		} else {
			return fmt.Errorf("no clipboard tool found, install xclip or xsel")
		}
	case "windows":
		cmd = exec.Command("clip")
	default:
		return fmt.Errorf("clipboard is not supported on %s", runtime.GOOS)
	}
	cmd.Stdin = strings.NewReader(text)
	return cmd.Run()
}

func init() {
	generateCmd.Flags().IntVarP(&generateLength, "length", "l", defaultGenerateLength, "password length (8-256)")
	generateCmd.Flags().IntVarP(&generateCount, "count", "n", 1, "number of passwords (1-100)")
	generateCmd.Flags().BoolVar(&generateNoSymbols, "no-symbols", false, "exclude symbols")
	generateCmd.Flags().BoolVar(&generateNoNumbers, "no-numbers", false, "exclude digits")
	generateCmd.Flags().BoolVar(&generateNoUppercase, "no-uppercase", false, "exclude uppercase letters")
	generateCmd.Flags().BoolVar(&generateNoLowercase, "no-lowercase", false, "exclude lowercase letters")
	generateCmd.Flags().StringVar(&generateExclude, "exclude", "", "characters to leave out")
	generateCmd.Flags().BoolVarP(&generateCopy, "copy", "c", false, "copy the first password to the clipboard")
	generateCmd.Flags().StringVar(&generateSaveTitle, "save", "", "store the password as a credential with this title")
	generateCmd.Flags().StringVar(&generateUsername, "username", "", "username for --save")
	rootCmd.AddCommand(generateCmd)
}

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nhle/mailsync/internal/credential"
)

func newLoginCmd(a *app) *cobra.Command {
	var remove bool

	c := &cobra.Command{
		Use:   "login",
		Short: "Store the account password in the system keyring",
		Long: `Read the account password from standard input and store it in the
system keyring under the configured account address.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			address := a.cfg.Account.Address
			if address == "" {
				return errors.New("account.address is not configured")
			}
			key := credential.AccountKey(address)

			if remove {
				if err := credential.Delete(key); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "removed password for %s\n", address)
				return nil
			}

			fmt.Fprintf(a.err, "Password for %s: ", address)
			password, err := readPassword(a.in)
			fmt.Fprintln(a.err)
			if password == "" {
				if err != nil {
					return fmt.Errorf("reading password: %w", err)
				}
				return errors.New("empty password")
			}

			if err := credential.Set(key, password); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "stored password for %s\n", address)
			return nil
		},
	}
	c.Flags().BoolVar(&remove, "delete", false, "Remove the stored password instead.")
	return c
}

// readPassword reads one line from in, without echo when in is a
// terminal.
func readPassword(in io.Reader) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		return string(b), err
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}

package cli

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/dmitrijs2005/yank/internal/common"
	"github.com/dmitrijs2005/yank/internal/pairing"
	"github.com/dmitrijs2005/yank/internal/transport"
)

var pinPattern = regexp.MustCompile(`^\d{6}$`)

func joinCommand() *cli.Command {
	return &cli.Command{
		Name:      "join",
		Usage:     "join a pairing session hosted on another machine",
		ArgsUsage: "<ip> [pin]",
		Action: func(c *cli.Context) error {
			a, err := newApp(c)
			if err != nil {
				return err
			}

			if c.NArg() < 1 {
				return cli.Exit("usage: yank join <ip> [pin]", common.ExitUsage)
			}
			host := c.Args().Get(0)

			pin := c.Args().Get(1)
			if pin == "" {
				pin, err = promptPIN()
				if err != nil {
					return cli.Exit(fmt.Sprintf("yank: %v", err), common.ExitUsage)
				}
			}
			if !pinPattern.MatchString(pin) {
				return cli.Exit("yank: the PIN is six digits", common.ExitUsage)
			}

			if _, err := a.Store.Load(); err == nil {
				return cli.Exit("yank: already paired; run `yank unpair` first", common.ExitUsage)
			}

			addr := net.JoinHostPort(host, fmt.Sprint(a.Config.Port))
			conn, err := transport.Dial(addr, transport.HandshakeTimeout)
			if err != nil {
				return cli.Exit(fmt.Sprintf("yank: %v", err), common.ExitConnectionFailed)
			}
			defer conn.Close()

			rec, err := pairing.Join(conn, pin, uuid.NewString(), hostName())
			if err != nil {
				return exitFor(err)
			}
			if err := a.Store.Save(rec); err != nil {
				return exitFor(err)
			}

			fmt.Printf("Paired with %s (%s).\n", rec.PeerName, rec.PeerDeviceID)
			return nil
		},
	}
}

// promptPIN reads the PIN without echoing when stdin is a terminal.
func promptPIN() (string, error) {
	fmt.Fprint(os.Stderr, "PIN: ")
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}

	var pin string
	if _, err := fmt.Fscanln(os.Stdin, &pin); err != nil {
		return "", err
	}
	return strings.TrimSpace(pin), nil
}

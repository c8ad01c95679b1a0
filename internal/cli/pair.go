package cli

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/dmitrijs2005/yank/internal/common"
	"github.com/dmitrijs2005/yank/internal/cryptox"
	"github.com/dmitrijs2005/yank/internal/pairing"
)

// pairTimeout bounds how long `pair` waits for a joiner.
const pairTimeout = 120 * time.Second

func pairCommand() *cli.Command {
	return &cli.Command{
		Name:  "pair",
		Usage: "host a pairing session: print a PIN and wait for the peer to join",
		Action: func(c *cli.Context) error {
			a, err := newApp(c)
			if err != nil {
				return err
			}

			if _, err := a.Store.Load(); err == nil {
				return cli.Exit("yank: already paired; run `yank unpair` first", common.ExitUsage)
			}

			pin, err := cryptox.GeneratePIN()
			if err != nil {
				return exitFor(err)
			}
			deviceID := uuid.NewString()
			deviceName := hostName()

			listener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.Config.Port))
			if err != nil {
				return cli.Exit(fmt.Sprintf("yank: listen: %v", err), common.ExitConnectionFailed)
			}
			defer listener.Close()

			fmt.Printf("Pairing PIN: %s\n", pin)
			fmt.Println("On the other machine run:")
			for _, ip := range localAddresses() {
				fmt.Printf("  yank join %s %s\n", ip, pin)
			}
			fmt.Printf("Waiting up to %s for the peer...\n", pairTimeout)

			deadline := time.Now().Add(pairTimeout)
			for {
				remaining := time.Until(deadline)
				if remaining <= 0 {
					return cli.Exit("yank: pairing timed out", common.ExitPairingFailed)
				}
				if tl, ok := listener.(*net.TCPListener); ok {
					_ = tl.SetDeadline(time.Now().Add(remaining))
				}

				conn, err := listener.Accept()
				if err != nil {
					if ne, ok := err.(net.Error); ok && ne.Timeout() {
						return cli.Exit("yank: pairing timed out", common.ExitPairingFailed)
					}
					return cli.Exit(fmt.Sprintf("yank: accept: %v", err), common.ExitConnectionFailed)
				}

				rec, err := pairing.Host(conn, pin, deviceID, deviceName)
				conn.Close()
				if err != nil {
					if errors.Is(err, common.ErrAuth) {
						fmt.Println("A peer tried a wrong PIN; still waiting...")
						continue
					}
					fmt.Printf("Pairing attempt failed (%v); still waiting...\n", err)
					continue
				}

				if err := a.Store.Save(rec); err != nil {
					return exitFor(err)
				}
				fmt.Printf("Paired with %s (%s).\n", rec.PeerName, rec.PeerDeviceID)
				return nil
			}
		},
	}
}

func hostName() string {
	if name, err := os.Hostname(); err == nil && name != "" {
		return name
	}
	return "yank-device"
}

// localAddresses lists the machine's non-loopback IPv4 addresses so the pair
// command can tell the joiner where to connect.
func localAddresses() []string {
	var out []string
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return []string{"<this-host>"}
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			out = append(out, v4.String())
		}
	}
	if len(out) == 0 {
		out = append(out, "<this-host>")
	}
	return out
}
